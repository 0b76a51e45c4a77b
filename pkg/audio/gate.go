package audio

import "sync"

// Gate implements voice activity gating from the smoothed loudness meter.
// Once the loudness crosses the threshold the gate holds open for a number
// of frames after it drops, so word endings are not clipped.
type Gate struct {
	mu        sync.RWMutex
	threshold float64
	holdTime  int // frames to keep open after loudness drops
	holdCount int
	active    bool
}

// NewGate creates a voice gate.
// threshold: loudness level that opens the gate (typical: 0.01-0.05 for
// normalized float samples).
// holdFrames: frames to keep open after the loudness drops (e.g. 30 = 300ms
// at 10ms/frame).
func NewGate(threshold float64, holdFrames int) *Gate {
	return &Gate{
		threshold: threshold,
		holdTime:  holdFrames,
	}
}

// Process evaluates one frame's loudness and returns whether transmission
// is allowed.
func (g *Gate) Process(loudness float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if loudness > g.threshold {
		g.holdCount = g.holdTime
		g.active = true
		return true
	}

	if g.holdCount > 0 {
		g.holdCount--
		return true
	}

	g.active = false
	return false
}

// Active returns the current gate state without processing.
func (g *Gate) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// SetThreshold updates the gate threshold.
func (g *Gate) SetThreshold(threshold float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = threshold
}
