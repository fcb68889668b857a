// Package media holds the audio-plumbing pieces the voice engine treats
// as capabilities: microphone capture, a bounded playback buffer and PCM
// frame energy.
package media

import (
	"io"
	"sync"
)

// Buffer is a bounded byte ring for decoded audio on its way to playback.
// Writers never block: when the buffer is full the oldest bytes are
// dropped, since stale audio is worse than missing audio.
type Buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	cap    int
	closed bool
}

func NewBuffer(fixedCap int) *Buffer {
	b := &Buffer{
		buf: make([]byte, 0, fixedCap),
		cap: fixedCap,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends data, dropping the oldest bytes on overflow. Returns the
// number of bytes dropped.
func (b *Buffer) Write(data []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return len(data)
	}
	if over := len(b.buf) + len(data) - b.cap; over > 0 {
		b.buf = b.buf[over:]
		dropped = over
	}
	b.buf = append(b.buf, data...)
	b.cond.Signal()
	return dropped
}

// Read blocks until data is available or the buffer is closed.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) == 0 {
		if b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// Close unblocks pending readers; subsequent writes are discarded.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
