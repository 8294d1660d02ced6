package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ClientID identifies the daemon to the broker.
const ClientID = "relayd"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker.
// Messages produced while the connection is down are held in an outbox and
// replayed, oldest first, from the on-connect handler.
//
// Neither Publish nor PublishSystem waits for the broker. Close waits for
// publishes still in flight, each bounded by the publish timeout.
type RealPublisher struct {
	client  paho.Client
	timeout time.Duration

	mu  sync.Mutex
	box *outbox

	inflight sync.WaitGroup
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting in the background. It never fails: an unreachable broker only
// means events are buffered until it appears.
func NewRealPublisher(broker string) *RealPublisher {
	p := &RealPublisher{box: newOutbox(outboxSize), timeout: publishTimeout}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", broker)
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	go func() {
		if !token.WaitTimeout(connectTimeout) {
			log.Printf("mqtt: broker %s not reachable yet, buffering events", broker)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: connect to broker: %v", err)
		}
	}()

	return p
}

// Publish sends a relay change event to the MQTT broker without waiting for
// the broker's acknowledgement.
func (p *RealPublisher) Publish(event RelayEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	p.send(message{topic: Topic, payload: payload}, fmt.Sprintf("channel %d", event.Channel))
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker. Like
// Publish it does not wait for the acknowledgement; Close does.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	p.send(message{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, event.Event)
	return nil
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Pending returns how many messages are waiting for a connection.
func (p *RealPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.box.len()
}

// Close waits for in-flight publishes and disconnects from the broker.
// It must not be called concurrently with Publish or PublishSystem.
func (p *RealPublisher) Close() error {
	p.inflight.Wait()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// send publishes m, or holds it in the outbox while the connection is down.
// The acknowledgement is awaited in the background.
func (p *RealPublisher) send(m message, what string) {
	if p.enqueueIfOffline(m) {
		return
	}
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		if err := p.wait(token); err != nil {
			log.Printf("mqtt: %s (%s)", err, what)
		}
	}()
}

// enqueueIfOffline holds p.mu across the check and the add, so a flush
// started by a reconnect in between always sees the message.
func (p *RealPublisher) enqueueIfOffline(m message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client.IsConnectionOpen() {
		return false
	}
	p.box.add(m)
	return true
}

func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.box.take()
	p.mu.Unlock()

	if len(msgs) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(msgs))
	}
	for _, m := range msgs {
		if err := p.wait(p.client.Publish(m.topic, m.qos, m.retained, m.payload)); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}
}

func (p *RealPublisher) wait(token paho.Token) error {
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
