package audio_test

import (
	"testing"

	"github.com/RomaniukOleksii/SpeakV/pkg/audio"

	"github.com/google/go-cmp/cmp"
)

func TestRingPushPopOrder(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	for i := 0; i < 5; i++ {
		if !r.TryPush(float32(i)) {
			t.Fatalf("TryPush(%d): unexpected drop", i)
		}
	}
	if r.Len() != 5 {
		t.Fatalf("Len: want 5, got %d", r.Len())
	}

	for i := 0; i < 5; i++ {
		got, ok := r.TryPop()
		if !ok {
			t.Fatalf("TryPop: unexpected empty at %d", i)
		}
		if got != float32(i) {
			t.Errorf("TryPop: want %v, got %v", float32(i), got)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Errorf("TryPop: expected empty ring")
	}
}

func TestRingDropsNewestWhenFull(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(3)
	for i := 0; i < 3; i++ {
		if !r.TryPush(float32(i)) {
			t.Fatalf("TryPush(%d): unexpected drop", i)
		}
	}
	if r.TryPush(99) {
		t.Fatalf("TryPush: expected drop on full ring")
	}

	// Buffered samples survive the dropped push untouched.
	got, ok := r.TryPop()
	if !ok || got != 0 {
		t.Errorf("TryPop after overflow: got (%v, %v), want (0, true)", got, ok)
	}
}

func TestRingPushSlicePartial(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(4)
	n := r.PushSlice([]float32{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Fatalf("PushSlice: want 4 pushed, got %d", n)
	}

	dst := make([]float32, 4)
	if !r.PopExact(dst) {
		t.Fatalf("PopExact: expected full frame")
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, dst); diff != "" {
		t.Errorf("PopExact mismatch (-want +got):\n%s", diff)
	}
}

func TestRingPopExactInsufficient(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	r.PushSlice([]float32{1, 2, 3})

	dst := make([]float32, 4)
	if r.PopExact(dst) {
		t.Fatalf("PopExact: expected false with 3 of 4 samples buffered")
	}
	// Nothing consumed on failure.
	if r.Len() != 3 {
		t.Errorf("Len after failed PopExact: want 3, got %d", r.Len())
	}
}

func TestRingWrapAround(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(4)
	r.PushSlice([]float32{1, 2, 3, 4})
	dst := make([]float32, 2)
	if !r.PopExact(dst) {
		t.Fatalf("PopExact: expected success")
	}
	r.PushSlice([]float32{5, 6})

	rest := make([]float32, 4)
	if !r.PopExact(rest) {
		t.Fatalf("PopExact: expected success after wrap")
	}
	if diff := cmp.Diff([]float32{3, 4, 5, 6}, rest); diff != "" {
		t.Errorf("wrap-around mismatch (-want +got):\n%s", diff)
	}
}
