//go:build linux

package transport

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// Linux-specific ioctl for RS-485 driver-level direction control.
// Ref: Linux kernel Documentation/networking/serial/serial-rs485.rst
const tiocsrs485 = 0x542F

// serialRS485 mirrors struct serial_rs485 from <linux/serial.h>.
type serialRS485 struct {
	flags            uint32
	delayRTSBeforeSend uint32
	delayRTSAfterSend  uint32
	padding          [5]uint32
}

const (
	serialRS485Enabled       = 1 << 0
	serialRS485RTSOnSend     = 1 << 1
	serialRS485RTSAfterSend  = 1 << 2
)

// EnableRS485 applies RS-485 direction-control flags to an open serial
// port via TIOCSRS485. Only *os.File-backed ports (as returned by
// goburrow/serial on Linux) support this; anything else is reported as a
// platform error rather than silently ignored.
func EnableRS485(port io.ReadWriteCloser, cfg RS485Config) error {
	file, ok := port.(*os.File)
	if !ok {
		return &common.PlatformError{Message: "serial port does not expose a file descriptor for TIOCSRS485"}
	}

	rs485 := serialRS485{
		flags: serialRS485Enabled,
	}
	if cfg.RTSOnSend {
		rs485.flags |= serialRS485RTSOnSend
	} else {
		rs485.flags |= serialRS485RTSAfterSend
	}
	if cfg.RTSDelayUs > 0 {
		rs485.delayRTSBeforeSend = uint32(cfg.RTSDelayUs)
		rs485.delayRTSAfterSend = uint32(cfg.RTSDelayUs)
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), uintptr(tiocsrs485), uintptr(unsafe.Pointer(&rs485)))
	if errno != 0 {
		return &common.PlatformError{Errno: errno, Message: fmt.Sprintf("TIOCSRS485 on %s", file.Name())}
	}
	return nil
}
