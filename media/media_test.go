package media

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteRead(t *testing.T) {
	b := NewBuffer(16)
	dropped := b.Write([]byte("hello"))
	assert.Zero(t, dropped)

	p := make([]byte, 16)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p[:n]))
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte("abcd"))
	dropped := b.Write([]byte("ef"))
	assert.Equal(t, 2, dropped)

	p := make([]byte, 8)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(p[:n]))
}

func TestBufferCloseUnblocksReader(t *testing.T) {
	b := NewBuffer(4)
	errc := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		errc <- err
	}()
	b.Close()
	assert.ErrorIs(t, <-errc, io.EOF)
}

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(pcmFrame(0, 160)))

	full := RMS(pcmFrame(math.MaxInt16, 160))
	assert.InDelta(t, 1.0, full, 0.001)

	half := RMS(pcmFrame(math.MaxInt16/2, 160))
	assert.InDelta(t, 0.5, half, 0.001)

	assert.Greater(t, full, RMS(pcmFrame(1000, 160)))
}
