// Package config builds the daemon configuration and the runtime channel table.
//
// Sources are layered, later ones winning: built-in defaults, an optional YAML
// file, an optional .env file, then RELAYD_* environment variables. Command
// line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/relay-controller/internal/button"
	"github.com/sweeney/relay-controller/internal/gpio"
)

// MaxChannels is the largest supported relay bank.
const MaxChannels = 4

// EnvPrefix prefixes every environment override, e.g. RELAYD_HTTP.
const EnvPrefix = "RELAYD"

// Channel binds one relay output to its paired button input.
type Channel struct {
	Name      string `yaml:"name"`
	RelayPin  int    `yaml:"relay_pin"`
	ButtonPin int    `yaml:"button_pin"`
}

// Config is the full daemon configuration.
type Config struct {
	Chip         string    `yaml:"chip" envconfig:"CHIP"`
	Channels     []Channel `yaml:"channels" ignored:"true"`
	IndicatorPin int       `yaml:"indicator_pin" envconfig:"INDICATOR_PIN"`

	Poll     time.Duration `yaml:"poll" envconfig:"POLL"`
	Debounce time.Duration `yaml:"debounce" envconfig:"DEBOUNCE"`

	// StorePath is the persisted image file. Empty keeps state in memory only.
	StorePath string `yaml:"store" envconfig:"STORE"`

	// HTTPAddr is the API listen address. Empty disables the HTTP server.
	HTTPAddr       string        `yaml:"http" envconfig:"HTTP"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// Broker is the MQTT broker URL. Empty disables publishing.
	Broker    string        `yaml:"broker" envconfig:"BROKER"`
	Heartbeat time.Duration `yaml:"heartbeat" envconfig:"HEARTBEAT"`

	// NetworkWait bounds the startup wait for a network link; 0 waits forever.
	NetworkWait  time.Duration `yaml:"network_wait" envconfig:"NETWORK_WAIT"`
	NetworkRetry time.Duration `yaml:"network_retry" envconfig:"NETWORK_RETRY"`
}

// Default returns the built-in configuration: four channels on the default
// pins, 10ms polling and a 30ms debounce window.
func Default() Config {
	channels := make([]Channel, len(gpio.DefaultRelayPins))
	for i := range channels {
		channels[i] = Channel{
			Name:      fmt.Sprintf("Relay %d", i+1),
			RelayPin:  gpio.DefaultRelayPins[i],
			ButtonPin: gpio.DefaultButtonPins[i],
		}
	}
	return Config{
		Chip:           gpio.DefaultChip,
		Channels:       channels,
		IndicatorPin:   gpio.DefaultIndicatorPin,
		Poll:           10 * time.Millisecond,
		Debounce:       button.DefaultWindow,
		StorePath:      "/var/lib/relayd/relays.img",
		HTTPAddr:       ":80",
		RequestTimeout: 2 * time.Second,
		Broker:         "",
		Heartbeat:      15 * time.Minute,
		NetworkWait:    0,
		NetworkRetry:   500 * time.Millisecond,
	}
}

// Load layers the YAML file at path (if non-empty) and the .env file at
// envFile (if it exists) over the defaults, then applies the environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Parse decodes YAML over c. Fields absent from data keep their values;
// a channels list, when present, replaces the whole table.
func Parse(data []byte, c *Config) error {
	return yaml.Unmarshal(data, c)
}

// Validate checks the channel table and timing values.
func (c Config) Validate() error {
	n := len(c.Channels)
	if n < 1 || n > MaxChannels {
		return fmt.Errorf("channels: need 1..%d, got %d", MaxChannels, n)
	}

	used := make(map[int]string)
	claim := func(pin int, what string) error {
		if pin < 0 {
			return fmt.Errorf("%s: pin %d is negative", what, pin)
		}
		if prev, ok := used[pin]; ok {
			return fmt.Errorf("%s: pin %d already used by %s", what, pin, prev)
		}
		used[pin] = what
		return nil
	}
	for i, ch := range c.Channels {
		if err := claim(ch.RelayPin, fmt.Sprintf("channel %d relay", i)); err != nil {
			return err
		}
		if err := claim(ch.ButtonPin, fmt.Sprintf("channel %d button", i)); err != nil {
			return err
		}
	}
	if c.IndicatorPin >= 0 {
		if err := claim(c.IndicatorPin, "indicator"); err != nil {
			return err
		}
	}

	if c.Poll <= 0 {
		return fmt.Errorf("poll must be positive, got %v", c.Poll)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %v", c.Debounce)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.NetworkRetry <= 0 {
		return fmt.Errorf("network_retry must be positive, got %v", c.NetworkRetry)
	}
	if c.NetworkWait < 0 {
		return fmt.Errorf("network_wait must not be negative, got %v", c.NetworkWait)
	}
	return nil
}

// RelayPins returns the relay output pins in channel order.
func (c Config) RelayPins() []int {
	pins := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		pins[i] = ch.RelayPin
	}
	return pins
}

// ButtonPins returns the button input pins in channel order.
func (c Config) ButtonPins() []int {
	pins := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		pins[i] = ch.ButtonPin
	}
	return pins
}

// Names returns the channel display names in channel order.
func (c Config) Names() []string {
	names := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		names[i] = ch.Name
		if names[i] == "" {
			names[i] = fmt.Sprintf("Relay %d", i+1)
		}
	}
	return names
}
