//go:build !linux

package transport

import (
	"io"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// EnableRS485 is unsupported outside Linux; there is no portable
// equivalent to TIOCSRS485, so RS-485 direction control must be handled
// by external hardware (e.g. an auto-direction transceiver) on other
// platforms.
func EnableRS485(_ io.ReadWriteCloser, _ RS485Config) error {
	return &common.PlatformError{Message: "RS-485 direction control is not supported on this platform"}
}
