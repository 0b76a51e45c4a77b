package client

import (
	"testing"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

func newTestReceiver(now func() time.Time) *Session {
	return &Session{
		now:      now,
		files:    make(chan *ReceivedFile, 8),
		gains:    make(map[string]float32),
		speaking: make(map[string]time.Time),
		pending:  make(map[string]*incomingFile),
	}
}

func TestExpirePendingDropsStalledTransfers(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestReceiver(func() time.Time { return current })

	s.openTransfer(&protocol.FileStart{ID: "stale", Filename: "old.bin", TotalChunks: 2})
	s.addChunk(&protocol.FileChunk{ID: "stale", Index: 0, Data: []byte("a")})

	current = current.Add(30 * time.Second)
	s.openTransfer(&protocol.FileStart{ID: "fresh", Filename: "new.bin", TotalChunks: 2})

	current = current.Add(incomingTimeout - 20*time.Second)
	s.expirePending(current.Add(-incomingTimeout))

	s.mu.RLock()
	_, staleLeft := s.pending["stale"]
	_, freshLeft := s.pending["fresh"]
	s.mu.RUnlock()
	if staleLeft {
		t.Error("stalled transfer survived expiry")
	}
	if !freshLeft {
		t.Error("live transfer was expired")
	}

	// A late chunk for the dropped transfer is ignored.
	s.addChunk(&protocol.FileChunk{ID: "stale", Index: 1, Data: []byte("b")})
	select {
	case rf := <-s.files:
		t.Errorf("expired transfer completed: %+v", rf)
	default:
	}
}

func TestExpirePendingKeepsActiveTransfer(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestReceiver(func() time.Time { return current })

	s.openTransfer(&protocol.FileStart{ID: "slow", Filename: "slow.bin", TotalChunks: 3})
	for i := 0; i < 3; i++ {
		current = current.Add(40 * time.Second)
		s.expirePending(current.Add(-incomingTimeout))
		s.addChunk(&protocol.FileChunk{ID: "slow", Index: i, Data: []byte{byte(i)}})
	}

	select {
	case rf := <-s.files:
		if rf.ID != "slow" || len(rf.Data) != 3 {
			t.Fatalf("completed transfer = %+v", rf)
		}
	default:
		t.Fatal("chunk-by-chunk transfer never completed")
	}
}
