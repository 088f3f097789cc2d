// Package config loads the terminal daemon configuration from YAML and the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thereceipt/cafeprint/internal/printer"
	"github.com/thereceipt/cafeprint/internal/renderer"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Paper     PaperConfig     `yaml:"paper"`
	USB       USBConfig       `yaml:"usb"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Relay     RelayConfig     `yaml:"relay"`
	Registry  RegistryConfig  `yaml:"registry"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// TerminalConfig identifies this physical terminal to the relay.
type TerminalConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// PaperConfig selects the roll width of each printer.
type PaperConfig struct {
	Receipt string `yaml:"receipt"`
	Kitchen string `yaml:"kitchen"`
}

type USBConfig struct {
	VendorIDs     []uint16      `yaml:"vendor_ids"`
	ChunkSize     int           `yaml:"chunk_size"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
	SelfHealDelay time.Duration `yaml:"self_heal_delay"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type BluetoothConfig struct {
	Backend        string        `yaml:"backend"` // ble or serial
	NamePrefixes   []string      `yaml:"name_prefixes"`
	Services       []string      `yaml:"services"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkDelay     time.Duration `yaml:"chunk_delay"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	Address        string        `yaml:"address"`
}

type RelayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Transport string          `yaml:"transport"` // websocket or nats
	URL       string          `yaml:"url"`
	APIKey    string          `yaml:"api_key"`
	Subject   string          `yaml:"subject"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "12212"},
		Terminal: TerminalConfig{Name: "Front counter"},
		Paper:    PaperConfig{Receipt: renderer.Paper58, Kitchen: renderer.Paper58},
		USB: USBConfig{
			VendorIDs:     append([]uint16(nil), printer.DefaultUSBVendorIDs...),
			ChunkSize:     printer.DefaultUSBChunkSize,
			ChunkDelay:    printer.DefaultUSBChunkDelay,
			SelfHealDelay: printer.DefaultUSBSelfHealDelay,
			PollInterval:  2 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			Backend:        "ble",
			NamePrefixes:   append([]string(nil), printer.DefaultRadioNamePrefixes...),
			Services:       append([]string(nil), printer.DefaultRadioServices...),
			ChunkSize:      printer.DefaultRadioChunkSize,
			ChunkDelay:     printer.DefaultRadioChunkDelay,
			ReconnectDelay: printer.DefaultRadioReconnectDelay,
			ScanTimeout:    5 * time.Second,
		},
		Relay: RelayConfig{
			Transport: "websocket",
			Subject:   "cafeprint",
			Reconnect: ReconnectConfig{
				Initial:    time.Second,
				Max:        30 * time.Second,
				Multiplier: 2,
			},
		},
		Registry: RegistryConfig{Path: "device_registry.json"},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := renderer.CharsPerLine(c.Paper.Receipt); err != nil {
		return fmt.Errorf("paper.receipt: %w", err)
	}
	if _, err := renderer.CharsPerLine(c.Paper.Kitchen); err != nil {
		return fmt.Errorf("paper.kitchen: %w", err)
	}
	if c.USB.ChunkSize <= 0 {
		return fmt.Errorf("usb.chunk_size must be positive, got %d", c.USB.ChunkSize)
	}
	if c.Bluetooth.ChunkSize <= 0 {
		return fmt.Errorf("bluetooth.chunk_size must be positive, got %d", c.Bluetooth.ChunkSize)
	}
	if len(c.USB.VendorIDs) == 0 {
		return fmt.Errorf("usb.vendor_ids must not be empty")
	}
	switch c.Bluetooth.Backend {
	case "ble", "serial":
	default:
		return fmt.Errorf("invalid bluetooth.backend: %s (must be ble or serial)", c.Bluetooth.Backend)
	}
	if c.Relay.Enabled {
		switch c.Relay.Transport {
		case "websocket", "nats":
		default:
			return fmt.Errorf("invalid relay.transport: %s (must be websocket or nats)", c.Relay.Transport)
		}
		if c.Relay.URL == "" {
			return fmt.Errorf("relay.url is required when the relay is enabled")
		}
		if c.Terminal.ID == "" {
			return fmt.Errorf("terminal.id is required when the relay is enabled")
		}
	}
	if c.Relay.Reconnect.Multiplier < 1 {
		return fmt.Errorf("relay.reconnect.multiplier must be >= 1")
	}
	return nil
}
