package display

import "sync"

// ring is a fixed-capacity byte buffer that keeps the most recent bytes
// written to it. Once full, each write overwrites the oldest data.
//
//	cap 5, write "abc": [a b c _ _] start=0 n=3
//	write "defg":       [f g c d e] start=2 n=5 -> "cdefg"
type ring struct {
	mu    sync.RWMutex
	data  []byte
	start int // index of oldest byte
	n     int // bytes stored
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{data: make([]byte, capacity)}
}

// Write implements io.Writer. It always succeeds.
func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(p)
	return len(p), nil
}

// write appends p, caller holds the lock.
func (r *ring) write(p []byte) {
	size := len(r.data)
	if len(p) >= size {
		copy(r.data, p[len(p)-size:])
		r.start, r.n = 0, size
		return
	}

	end := (r.start + r.n) % size
	copied := copy(r.data[end:], p)
	copy(r.data, p[copied:])

	r.n += len(p)
	if r.n > size {
		r.start = (r.start + r.n - size) % size
		r.n = size
	}
}

// ReplaceWith discards the contents and writes p under one lock, so readers
// never observe the empty intermediate state.
func (r *ring) ReplaceWith(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.n = 0, 0
	r.write(p)
}

// Bytes returns a copy of the contents, oldest first.
func (r *ring) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, 0, r.n)
	end := r.start + r.n
	if end <= len(r.data) {
		return append(out, r.data[r.start:end]...)
	}
	out = append(out, r.data[r.start:]...)
	return append(out, r.data[:end-len(r.data)]...)
}

// Len returns the number of bytes stored.
func (r *ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}
