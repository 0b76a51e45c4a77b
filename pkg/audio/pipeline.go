package audio

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

// Default ring capacity: one second of audio at the wire sample rate.
const DefaultRingCapacity = protocol.SampleRate

const (
	loudnessKeep = 0.8
	loudnessMix  = 0.2
)

// Pipeline connects the audio device callbacks to the network session.
// Three rings decouple the device clock from the network clock:
// capture feeds outgoing frames, remote holds incoming voice, and
// monitor loops the local microphone back when self-listen is on.
type Pipeline struct {
	capture *Ring
	remote  *Ring
	monitor *Ring

	inputMuted  atomic.Bool
	outputMuted atomic.Bool
	selfListen  atomic.Bool

	mu       sync.Mutex
	loudness float64
}

// NewPipeline creates a pipeline with rings of the given sample capacity.
func NewPipeline(ringCapacity int) *Pipeline {
	return &Pipeline{
		capture: NewRing(ringCapacity),
		remote:  NewRing(ringCapacity),
		monitor: NewRing(ringCapacity),
	}
}

// CaptureCallback consumes one block of microphone samples. When the input
// is muted the block is discarded and the loudness meter drops to zero.
// Transmit gating happens downstream; every captured sample is buffered.
func (p *Pipeline) CaptureCallback(in []float32) {
	if p.inputMuted.Load() {
		p.mu.Lock()
		p.loudness = 0
		p.mu.Unlock()
		return
	}

	p.capture.PushSlice(in)
	if p.selfListen.Load() {
		p.monitor.PushSlice(in)
	}

	rms := RMS(in)
	p.mu.Lock()
	p.loudness = p.loudness*loudnessKeep + rms*loudnessMix
	p.mu.Unlock()
}

// PlaybackCallback fills one block of speaker samples by summing the
// self-monitor and remote rings, clamped to [-1, 1]. Missing samples read
// as silence; output mute zero-fills.
func (p *Pipeline) PlaybackCallback(out []float32) {
	if p.outputMuted.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}
	for i := range out {
		var sum float32
		if s, ok := p.monitor.TryPop(); ok {
			sum += s
		}
		if s, ok := p.remote.TryPop(); ok {
			sum += s
		}
		if sum > 1 {
			sum = 1
		} else if sum < -1 {
			sum = -1
		}
		out[i] = sum
	}
}

// PopTransmitFrame fills dst from the capture ring only if a full frame is
// buffered.
func (p *Pipeline) PopTransmitFrame(dst []float32) bool {
	return p.capture.PopExact(dst)
}

// PushRemote buffers incoming voice samples for playback. Samples that do
// not fit are dropped.
func (p *Pipeline) PushRemote(samples []float32) {
	p.remote.PushSlice(samples)
}

// Loudness returns the smoothed microphone loudness.
func (p *Pipeline) Loudness() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loudness
}

// Buffered returns the number of samples waiting in the capture ring.
func (p *Pipeline) Buffered() int {
	return p.capture.Len()
}

func (p *Pipeline) SetInputMuted(muted bool)  { p.inputMuted.Store(muted) }
func (p *Pipeline) SetOutputMuted(muted bool) { p.outputMuted.Store(muted) }
func (p *Pipeline) SetSelfListen(on bool)     { p.selfListen.Store(on) }

func (p *Pipeline) InputMuted() bool  { return p.inputMuted.Load() }
func (p *Pipeline) OutputMuted() bool { return p.outputMuted.Load() }
func (p *Pipeline) SelfListen() bool  { return p.selfListen.Load() }

// RMS calculates the Root Mean Square of a sample block.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
