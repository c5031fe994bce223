// Package display defines where polled session output goes and provides a
// bounded in-memory implementation the CLI and status API read from.
package display

import "sync"

// Sink receives decoded output for a session. Replace is called with the
// first fetch after polling starts; Append with every later fetch.
type Sink interface {
	Replace(sessionID, text string)
	Append(sessionID, text string)
}

// DefaultBufferSize is the per-session tail retained by Buffers.
const DefaultBufferSize = 64 * 1024

// Buffers keeps the most recent output of each session in a ring buffer.
// It is safe for concurrent use.
type Buffers struct {
	mu      sync.RWMutex
	size    int
	buffers map[string]*ring
}

// NewBuffers creates a sink retaining size bytes per session. A non-positive
// size uses DefaultBufferSize.
func NewBuffers(size int) *Buffers {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffers{size: size, buffers: make(map[string]*ring)}
}

func (b *Buffers) buffer(id string) *ring {
	b.mu.RLock()
	r, ok := b.buffers[id]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.buffers[id]; !ok {
		r = newRing(b.size)
		b.buffers[id] = r
	}
	return r
}

// Replace implements Sink.
func (b *Buffers) Replace(id, text string) {
	b.buffer(id).ReplaceWith([]byte(text))
}

// Append implements Sink.
func (b *Buffers) Append(id, text string) {
	_, _ = b.buffer(id).Write([]byte(text))
}

// Text returns the retained output for id, or "" if none.
func (b *Buffers) Text(id string) string {
	b.mu.RLock()
	r, ok := b.buffers[id]
	b.mu.RUnlock()
	if !ok {
		return ""
	}
	return string(r.Bytes())
}

// Forget drops the buffer for id.
func (b *Buffers) Forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, id)
}
