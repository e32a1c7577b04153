package transport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// delayedPairReader hands back firstHalf immediately, then blocks for
// delay before handing back secondHalf, simulating a line that goes
// silent partway through a frame. Bytes are served in order however
// small the caller's reads are.
type delayedPairReader struct {
	mu         sync.Mutex
	firstHalf  []byte
	secondHalf []byte
	delay      time.Duration
	delayed    bool
}

func (d *delayedPairReader) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.firstHalf) > 0 {
		n := copy(p, d.firstHalf)
		d.firstHalf = d.firstHalf[n:]
		return n, nil
	}
	if !d.delayed {
		d.delayed = true
		time.Sleep(d.delay)
	}
	if len(d.secondHalf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, d.secondHalf)
	d.secondHalf = d.secondHalf[n:]
	return n, nil
}

func TestSilenceTimeoutFixedAboveThreshold(t *testing.T) {
	assert.Equal(t, minSilenceTimeout, SilenceTimeout(115200))
	assert.Equal(t, minSilenceTimeout, SilenceTimeout(19201))
}

func TestSilenceTimeoutCalculatedAtLowBaud(t *testing.T) {
	// 300 baud: character time = 11/300s ~= 36.67ms, times 3.5 ~= 128ms,
	// comfortably above the 1.75ms floor.
	got := SilenceTimeout(300)
	assert.Greater(t, got, minSilenceTimeout)
}

func TestSilenceReaderDiscardsOnMidFrameGap(t *testing.T) {
	src := &delayedPairReader{
		firstHalf:  []byte{0x01, 0x03},
		secondHalf: []byte{0x02, 0xCA, 0xFE},
		delay:      250 * time.Millisecond,
	}
	// 300 baud keeps the silence window well under the injected delay
	// but still easy to assert against in a unit test.
	reader := NewSilenceReader(src, 300)

	header := make([]byte, 2)
	_, err := io.ReadFull(reader, header)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03}, header)

	rest := make([]byte, 3)
	_, err = io.ReadFull(reader, rest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameSilenceTimeout))
}

func TestSilenceReaderSucceedsWithinWindow(t *testing.T) {
	src := &delayedPairReader{
		firstHalf:  []byte{0x01, 0x03},
		secondHalf: []byte{0x02, 0xCA, 0xFE},
		delay:      5 * time.Millisecond,
	}
	// 300 baud gives a ~128ms silence window, comfortably longer than
	// the 5ms delay between halves.
	reader := NewSilenceReader(src, 300)

	frame := make([]byte, 5)
	_, err := io.ReadFull(reader, frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0xCA, 0xFE}, frame)
}
