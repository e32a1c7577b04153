package transport

import (
	"errors"
	"io"
	"time"
)

// CharacterTime returns the duration of one serial character (1 start
// bit, 8 data bits, and parity/stop framing, approximated as 11 bit
// times) at the given baud rate.
func CharacterTime(baudRate int) time.Duration {
	if baudRate <= 0 {
		baudRate = 9600
	}
	return time.Duration(float64(11) * float64(time.Second) / float64(baudRate))
}

// minSilenceTimeout is the floor MODBUS over Serial Line V1.02 fixes
// for baud rates above 19200, where the calculated 3.5-character value
// would otherwise be impractically small.
const minSilenceTimeout = 1750 * time.Microsecond

// SilenceTimeout returns the inter-character silence interval after
// which a partially received RTU frame must be discarded and framing
// restarted at the next byte.
// Ref: MODBUS over Serial Line V1.02, Section 2.5.1.1 (RTU Frame Format)
func SilenceTimeout(baudRate int) time.Duration {
	if baudRate > 19200 {
		return minSilenceTimeout
	}
	if t := CharacterTime(baudRate) * 35 / 10; t > minSilenceTimeout {
		return t
	}
	return minSilenceTimeout
}

// ErrFrameSilenceTimeout indicates no byte arrived within the line's
// inter-character silence window while a frame was only partially
// received. Callers must treat whatever was read so far as discarded
// and resume framing from the next byte.
var ErrFrameSilenceTimeout = errors.New("rtu: inter-character silence timeout, partial frame discarded")

// SilenceReader wraps a serial port so that, once the first byte of a
// frame has been read, every subsequent byte — even across separate
// Read calls made while assembling one frame's header, length prefix,
// and body — must arrive within the line's inter-character silence
// window. The wait for a frame's very first byte is governed by the
// port's own configured read timeout instead, since the gap before a
// response or request begins is a turnaround delay, not an
// inter-character one.
//
// A fresh SilenceReader must be used per frame: its "have we seen a
// byte yet" state is not meant to span frames.
type SilenceReader struct {
	r       io.Reader
	silence time.Duration
	started bool
}

// NewSilenceReader builds a SilenceReader enforcing baudRate's
// inter-character timing while reading a single frame from r.
func NewSilenceReader(r io.Reader, baudRate int) *SilenceReader {
	return &SilenceReader{r: r, silence: SilenceTimeout(baudRate)}
}

// Read fills p one byte at a time, resetting the inter-character timer
// after each byte received.
func (s *SilenceReader) Read(p []byte) (int, error) {
	for i := 0; i < len(p); i++ {
		b, err := s.readByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

func (s *SilenceReader) readByte() (byte, error) {
	one := make([]byte, 1)

	if !s.started {
		if _, err := io.ReadFull(s.r, one); err != nil {
			return 0, err
		}
		s.started = true
		return one[0], nil
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := io.ReadFull(s.r, one)
		done <- result{err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		return one[0], nil
	case <-time.After(s.silence):
		return 0, ErrFrameSilenceTimeout
	}
}
