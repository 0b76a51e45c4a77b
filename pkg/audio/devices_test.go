package audio

import "testing"

func TestShutdownWithoutInitIsNoOp(t *testing.T) {
	if initRequested.Load() {
		t.Skip("audio already initialized in this process")
	}
	// Must return immediately without touching the library.
	Shutdown()
	Shutdown()
	if initRequested.Load() {
		t.Error("shutdown started initialization")
	}
}
