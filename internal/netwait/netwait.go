// Package netwait holds startup until the host has a usable network link.
package netwait

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/sweeney/relay-controller/internal/status"
)

// DefaultRetry is the interval between link probes.
const DefaultRetry = 500 * time.Millisecond

// ErrNoLink is returned by a Prober when no interface is usable yet.
var ErrNoLink = errors.New("no usable network interface")

// Prober reports the current network link.
type Prober interface {
	Probe() (status.NetworkInfo, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func() (status.NetworkInfo, error)

// Probe calls f.
func (f ProberFunc) Probe() (status.NetworkInfo, error) { return f() }

// Wait probes until the link is up, toggling blink on every failed attempt.
// maxWait of zero waits until ctx is cancelled. blink may be nil. The blink
// callback is left off when Wait returns successfully.
func Wait(ctx context.Context, p Prober, retry, maxWait time.Duration, blink func(on bool)) (status.NetworkInfo, error) {
	if retry <= 0 {
		retry = DefaultRetry
	}
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	start := time.Now()
	lit := false
	for attempt := 1; ; attempt++ {
		info, err := p.Probe()
		if err == nil {
			if lit && blink != nil {
				blink(false)
			}
			log.Printf("network up: iface=%s ip=%s after %v", info.Interface, info.IP, time.Since(start).Truncate(time.Millisecond))
			return info, nil
		}
		if attempt == 1 || attempt%20 == 0 {
			log.Printf("waiting for network: attempt=%d err=%v", attempt, err)
		}
		if blink != nil {
			lit = !lit
			blink(lit)
		}

		select {
		case <-ctx.Done():
			if lit && blink != nil {
				blink(false)
			}
			return status.NetworkInfo{}, fmt.Errorf("wait for network after %d attempts: %w", attempt, ctx.Err())
		case <-ticker.C:
		}
	}
}

// InterfaceProbe finds an up, non-loopback interface carrying an IPv4
// address. If Name is set only that interface is considered.
type InterfaceProbe struct {
	Name string
}

// Probe implements Prober using the host's interface table.
func (ip InterfaceProbe) Probe() (status.NetworkInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return status.NetworkInfo{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if ip.Name != "" && iface.Name != ip.Name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if v4 := firstIPv4(addrs); v4 != nil {
			return status.NetworkInfo{Interface: iface.Name, IP: v4.String(), Status: "up"}, nil
		}
	}
	return status.NetworkInfo{}, ErrNoLink
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
			return v4
		}
	}
	return nil
}
