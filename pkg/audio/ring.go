// Package audio provides the sample rings, mixing pipeline, voice gate, and
// PortAudio device layer for voice capture and playback.
package audio

import "sync"

// Ring is a fixed-capacity FIFO of float32 samples. It is safe for one
// producer and one consumer on different goroutines. When full, new samples
// are dropped rather than overwriting old ones.
type Ring struct {
	mu    sync.Mutex
	buf   []float32
	head  int
	count int
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// TryPush appends one sample. Returns false if the ring is full and the
// sample was dropped.
func (r *Ring) TryPush(s float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.count)%len(r.buf)] = s
	r.count++
	return true
}

// TryPop removes and returns the oldest sample. Returns (0, false) when empty.
func (r *Ring) TryPop() (float32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0, false
	}
	s := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return s, true
}

// PushSlice appends as many samples from src as fit. Returns the number pushed.
func (r *Ring) PushSlice(src []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range src {
		if r.count == len(r.buf) {
			break
		}
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
		n++
	}
	return n
}

// PopExact fills dst only if at least len(dst) samples are buffered.
// Returns false, consuming nothing, otherwise.
func (r *Ring) PopExact(dst []float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(dst) {
		return false
	}
	for i := range dst {
		dst[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
	return true
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
