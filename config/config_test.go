package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadClientConfigTCPDefaults(t *testing.T) {
	path := writeConfigFile(t, `
transport: tcp
host: 192.0.2.10
unit_id: 3
`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, 502, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadClientConfigRTURequiresSerialDevice(t *testing.T) {
	path := writeConfigFile(t, `
transport: rtu
unit_id: 1
`)

	_, err := LoadClientConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial.device")
}

func TestLoadClientConfigRTUFillsSerialDefaults(t *testing.T) {
	path := writeConfigFile(t, `
transport: rtu
unit_id: 1
serial:
  device: /dev/ttyUSB0
  baud_rate: 19200
`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, "N", cfg.Serial.Parity)
}

func TestLoadClientConfigUnknownTransport(t *testing.T) {
	path := writeConfigFile(t, `transport: bogus`)

	_, err := LoadClientConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestLoadClientConfigRequestTimeoutOverride(t *testing.T) {
	path := writeConfigFile(t, `
transport: tcp
host: 192.0.2.10
request_timeout_ms: 500
`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestTimeout())
}

func TestLoadServerConfigTCPDefaults(t *testing.T) {
	path := writeConfigFile(t, `
transport: tcp
units: [1, 2, 3]
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.ListenAddress)
	assert.Equal(t, 502, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.IdleTimeout())
	assert.Equal(t, []uint8{1, 2, 3}, cfg.Units)
}

func TestLoadServerConfigRTU(t *testing.T) {
	path := writeConfigFile(t, `
transport: rtu
serial:
  device: /dev/ttyUSB0
  baud_rate: 9600
units: [1]
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, "N", cfg.Serial.Parity)
}

func TestLoadServerConfigInvalidParity(t *testing.T) {
	path := writeConfigFile(t, `
transport: rtu
serial:
  device: /dev/ttyUSB0
  baud_rate: 9600
  parity: X
`)

	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial.parity")
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadServerConfigNegativeIdleTimeout(t *testing.T) {
	path := writeConfigFile(t, `
transport: tcp
idle_timeout_ms: -1
`)

	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout_ms")
}
