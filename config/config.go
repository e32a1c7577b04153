// Package config provides YAML-loadable configuration for Modbus
// clients and servers, grounded on the config-struct-plus-Validate
// pattern used throughout the retrieval pack.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// TransportKind selects the wire transport a client or server uses.
type TransportKind string

const (
	// TransportTCP is Modbus TCP (MBAP framing over a stream socket).
	TransportTCP TransportKind = "tcp"
	// TransportRTU is Modbus RTU over a serial line.
	TransportRTU TransportKind = "rtu"
	// TransportRTUOverTCP is RTU framing tunneled over a TCP socket,
	// as used by many serial-to-Ethernet gateways.
	TransportRTUOverTCP TransportKind = "rtu_over_tcp"
)

// SerialConfig describes a serial port's line parameters.
type SerialConfig struct {
	Device   string `yaml:"device"`             // e.g. "/dev/ttyUSB0"
	BaudRate int    `yaml:"baud_rate"`           // e.g. 9600, 19200, 115200
	DataBits int    `yaml:"data_bits"`           // typically 8
	Parity   string `yaml:"parity"`              // "N", "E", or "O"
	StopBits int    `yaml:"stop_bits"`           // 1 or 2
	RS485    bool   `yaml:"rs485,omitempty"`     // enable RS-485 direction control
	RTSDelay int    `yaml:"rts_delay_us,omitempty"` // delay (microseconds) before/after transmit
}

// ClientConfig configures a Modbus client session.
type ClientConfig struct {
	Transport TransportKind `yaml:"transport"`
	UnitID    uint8         `yaml:"unit_id"`

	// TCP / RTU-over-TCP
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// RTU
	Serial SerialConfig `yaml:"serial,omitempty"`

	RequestTimeoutMs  int `yaml:"request_timeout_ms,omitempty"`
	ReconnectBudgetMs int `yaml:"reconnect_budget_ms,omitempty"` // elapsed time since first failure; 0 = unlimited
	LogLevel          string `yaml:"log_level,omitempty"`
}

// RequestTimeout returns the configured request timeout, defaulting to
// 30s (matching BaseClient.Send's built-in default) when unset.
func (c *ClientConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ReconnectBudget returns the configured elapsed-time budget a
// Supervisor may spend reconnecting before giving up, 0 meaning
// unlimited.
func (c *ClientConfig) ReconnectBudget() time.Duration {
	return time.Duration(c.ReconnectBudgetMs) * time.Millisecond
}

// Validate checks a ClientConfig for internal consistency.
func (c *ClientConfig) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportRTUOverTCP:
		if c.Host == "" {
			return fmt.Errorf("%w: host is required for transport %q", common.ErrInvalidArgument, c.Transport)
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("%w: port must be 1-65535, got %d", common.ErrInvalidArgument, c.Port)
		}
	case TransportRTU:
		if err := c.Serial.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", common.ErrInvalidArgument, c.Transport)
	}

	if c.RequestTimeoutMs < 0 {
		return fmt.Errorf("%w: request_timeout_ms must be >= 0", common.ErrInvalidArgument)
	}
	if c.ReconnectBudgetMs < 0 {
		return fmt.Errorf("%w: reconnect_budget_ms must be >= 0", common.ErrInvalidArgument)
	}
	return nil
}

func (s *SerialConfig) validate() error {
	if s.Device == "" {
		return fmt.Errorf("%w: serial.device is required", common.ErrInvalidArgument)
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("%w: serial.baud_rate must be > 0", common.ErrInvalidArgument)
	}
	switch s.Parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("%w: serial.parity must be N, E, or O, got %q", common.ErrInvalidArgument, s.Parity)
	}
	if s.StopBits != 0 && s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("%w: serial.stop_bits must be 1 or 2", common.ErrInvalidArgument)
	}
	return nil
}

// applyClientDefaults fills in zero-valued optional fields.
func applyClientDefaults(c *ClientConfig) {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.Transport == TransportTCP && c.Port == 0 {
		c.Port = common.DefaultTCPPort
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "N"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ServerConfig configures a Modbus server instance.
type ServerConfig struct {
	Transport TransportKind `yaml:"transport"`

	// TCP listener
	ListenAddress string `yaml:"listen_address,omitempty"`
	Port          int    `yaml:"port,omitempty"`

	// RTU listener
	Serial SerialConfig `yaml:"serial,omitempty"`

	IdleTimeoutMs int    `yaml:"idle_timeout_ms,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty"`

	// Units lists the unit ids this server answers for. A gateway
	// exposing several device images sets one entry per device; a
	// single-device server sets exactly one.
	Units []uint8 `yaml:"units,omitempty"`
}

// IdleTimeout returns the configured connection idle timeout,
// defaulting to DefaultIdleTimeout when unset.
func (c *ServerConfig) IdleTimeout() time.Duration {
	if c.IdleTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Validate checks a ServerConfig for internal consistency.
func (c *ServerConfig) Validate() error {
	switch c.Transport {
	case TransportTCP:
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("%w: port must be 1-65535, got %d", common.ErrInvalidArgument, c.Port)
		}
	case TransportRTU:
		if err := c.Serial.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported server transport %q", common.ErrInvalidArgument, c.Transport)
	}

	if c.IdleTimeoutMs < 0 {
		return fmt.Errorf("%w: idle_timeout_ms must be >= 0", common.ErrInvalidArgument)
	}
	return nil
}

func applyServerDefaults(c *ServerConfig) {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.Transport == TransportTCP {
		if c.ListenAddress == "" {
			c.ListenAddress = "0.0.0.0"
		}
		if c.Port == 0 {
			c.Port = common.DefaultTCPPort
		}
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "N"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadClientConfig reads and validates a ClientConfig from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client config %s: %w", path, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse client config YAML: %w", err)
	}

	applyClientDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate client config: %w", err)
	}
	return &cfg, nil
}

// LoadServerConfig reads and validates a ServerConfig from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse server config YAML: %w", err)
	}

	applyServerDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate server config: %w", err)
	}
	return &cfg, nil
}
