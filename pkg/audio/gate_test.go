package audio_test

import (
	"testing"

	"github.com/RomaniukOleksii/SpeakV/pkg/audio"
)

func TestGateOpensAboveThreshold(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(0.02, 0)
	if g.Process(0.01) {
		t.Errorf("Process: gate open below threshold")
	}
	if !g.Process(0.05) {
		t.Errorf("Process: gate closed above threshold")
	}
	if !g.Active() {
		t.Errorf("Active: want true after loud frame")
	}
}

func TestGateHoldFrames(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(0.02, 2)
	if !g.Process(0.05) {
		t.Fatalf("Process: gate should open")
	}

	// Two quiet frames ride the hold window, the third closes it.
	if !g.Process(0.0) {
		t.Errorf("Process: hold frame 1 should stay open")
	}
	if !g.Process(0.0) {
		t.Errorf("Process: hold frame 2 should stay open")
	}
	if g.Process(0.0) {
		t.Errorf("Process: gate should close after hold expires")
	}
	if g.Active() {
		t.Errorf("Active: want false after close")
	}
}

func TestGateSetThreshold(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(0.5, 0)
	if g.Process(0.1) {
		t.Fatalf("Process: gate open below threshold")
	}
	g.SetThreshold(0.05)
	if !g.Process(0.1) {
		t.Errorf("Process: gate closed after lowering threshold")
	}
}
