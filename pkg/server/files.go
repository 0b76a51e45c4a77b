package server

import (
	"sync"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/protocol"
)

// pendingFile is one in-flight transfer. Chunks land in their slot by
// index; arrival order and duplicates do not matter.
type pendingFile struct {
	start    protocol.FileStart
	sender   string
	chunks   [][]byte
	received int
	lastSeen time.Time
}

// completed is a fully reassembled transfer handed back to the caller.
type completed struct {
	start  protocol.FileStart
	sender string
	data   []byte
}

type reassembler struct {
	mu    sync.Mutex
	now   func() time.Time
	slots map[string]*pendingFile
}

func newReassembler(now func() time.Time) *reassembler {
	return &reassembler{
		now:   now,
		slots: make(map[string]*pendingFile),
	}
}

// Open creates (or resets) the slot set for a transfer.
func (r *reassembler) Open(sender string, fs *protocol.FileStart) {
	if fs.TotalChunks <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[fs.ID] = &pendingFile{
		start:    *fs,
		sender:   sender,
		chunks:   make([][]byte, fs.TotalChunks),
		lastSeen: r.now(),
	}
}

// Add files one chunk into its slot. Unknown ids, out-of-range indexes,
// and duplicates are ignored. When the last chunk lands, the assembled
// transfer is returned and the slot released.
func (r *reassembler) Add(id string, index int, data []byte) *completed {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return nil
	}
	if index < 0 || index >= len(slot.chunks) {
		return nil
	}
	slot.lastSeen = r.now()
	if slot.chunks[index] != nil {
		return nil // duplicate
	}
	slot.chunks[index] = append(make([]byte, 0, len(data)), data...)
	slot.received++

	if slot.received < len(slot.chunks) {
		return nil
	}

	delete(r.slots, id)
	size := 0
	for _, c := range slot.chunks {
		size += len(c)
	}
	assembled := make([]byte, 0, size)
	for _, c := range slot.chunks {
		assembled = append(assembled, c...)
	}
	return &completed{
		start:  slot.start,
		sender: slot.sender,
		data:   assembled,
	}
}

// Lookup returns the announcement and sender of an open transfer.
func (r *reassembler) Lookup(id string) (protocol.FileStart, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return protocol.FileStart{}, "", false
	}
	return slot.start, slot.sender, true
}

// Expire drops slots idle longer than timeout and returns how many.
func (r *reassembler) Expire(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-timeout)
	removed := 0
	for id, slot := range r.slots {
		if slot.lastSeen.Before(cutoff) {
			delete(r.slots, id)
			removed++
		}
	}
	return removed
}

// Pending returns the number of open slots.
func (r *reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
