// Package fifo provides a growable circular byte buffer connecting one writer to one reader.
package fifo

import (
	"context"
	"errors"
	"io"
	"sync"
)

const (
	DefaultInitialSize = 64 << 10
	DefaultMaxSize     = 4 << 20
)

var ErrClosed = errors.New("fifo: write on closed buffer")

// Buffer is a circular byte buffer. Writes grow the ring (doubling, up to max)
// and block once the ring is full at max capacity. Reads block while the ring is empty.
// All pointer arithmetic and growth happen under one mutex shared with the condition variable.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring []byte
	head int // next byte to read
	size int // bytes currently buffered
	max  int

	closed bool  // writer finished, readers drain then see EOF
	err    error // aborted, both sides fail with err
}

// New creates a buffer with the given initial and maximum capacity
func New(initial, max int) *Buffer {
	if initial <= 0 {
		initial = DefaultInitialSize
	}
	if max < initial {
		max = initial
	}
	b := &Buffer{
		ring: make([]byte, initial),
		max:  max,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write copies all of p into the buffer, blocking while the buffer is full
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(p) {
		if b.err != nil {
			return written, b.err
		}
		if b.closed {
			return written, ErrClosed
		}

		free := len(b.ring) - b.size
		if free == 0 {
			if len(b.ring) < b.max {
				b.grow(len(p) - written)
				continue
			}
			b.cond.Wait()
			continue
		}

		n := b.put(p[written:])
		written += n
		b.cond.Broadcast()
	}
	return written, nil
}

// Read copies buffered bytes into p, blocking while nothing is buffered.
// Returns io.EOF once the writer closed and the buffer is drained.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && !b.closed && b.err == nil {
		b.cond.Wait()
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.size == 0 {
		return 0, io.EOF
	}

	n := b.take(p)
	b.cond.Broadcast()
	return n, nil
}

// Close marks the end of the stream. Blocked readers wake and see EOF after draining.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// CloseWithError aborts the stream. Pending and future reads and writes fail with err.
func (b *Buffer) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
	return nil
}

// AbortOnDone aborts the buffer with ctx.Err() when ctx is cancelled.
// The returned func detaches the watcher.
func (b *Buffer) AbortOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		b.CloseWithError(ctx.Err())
	})
}

// Len is the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap is the current ring capacity
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// grow must be called with mu held
func (b *Buffer) grow(want int) {
	newCap := len(b.ring) * 2
	for newCap-b.size < want && newCap < b.max {
		newCap *= 2
	}
	if newCap > b.max {
		newCap = b.max
	}

	size := b.size
	ring := make([]byte, newCap)
	b.take(ring[:size])
	b.ring = ring
	b.head = 0
	b.size = size
}

// put must be called with mu held
func (b *Buffer) put(p []byte) int {
	tail := (b.head + b.size) % len(b.ring)
	free := len(b.ring) - b.size

	if len(p) > free {
		p = p[:free]
	}

	n := copy(b.ring[tail:], p)
	if n < len(p) {
		n += copy(b.ring, p[n:])
	}
	b.size += n
	return n
}

// take must be called with mu held
func (b *Buffer) take(p []byte) int {
	want := len(p)
	if want > b.size {
		want = b.size
	}

	n := copy(p[:want], b.ring[b.head:])
	if n < want {
		n += copy(p[n:want], b.ring)
	}
	b.head = (b.head + n) % len(b.ring)
	b.size -= n
	return n
}
