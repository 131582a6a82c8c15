package activity

import (
	"context"
	"slices"
	"sync"
)

// DefaultBufferCapacity is the number of entries the preview buffer keeps.
const DefaultBufferCapacity = 100

// Buffer is the bounded preview store read by the in-app log viewer.
// Appending past capacity evicts the oldest entries first.
type Buffer interface {
	// Append stores an entry at the end of the buffer.
	Append(ctx context.Context, entry LogEntry) error

	// All returns the buffered entries, oldest first.
	All(ctx context.Context) ([]LogEntry, error)

	// Clear removes every buffered entry.
	Clear(ctx context.Context) error
}

// trimOldest drops entries from the front until at most capacity remain.
func trimOldest(entries []LogEntry, capacity int) []LogEntry {
	if capacity <= 0 || len(entries) <= capacity {
		return entries
	}
	return entries[len(entries)-capacity:]
}

func normalizeCapacity(capacity int) int {
	if capacity <= 0 {
		return DefaultBufferCapacity
	}
	return capacity
}

// MemoryBuffer keeps entries in process memory.
type MemoryBuffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
}

// NewMemoryBuffer creates an in-memory buffer. A capacity <= 0 uses the default.
func NewMemoryBuffer(capacity int) *MemoryBuffer {
	return &MemoryBuffer{capacity: normalizeCapacity(capacity)}
}

// Append stores an entry, evicting the oldest ones past capacity.
func (b *MemoryBuffer) Append(_ context.Context, entry LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = trimOldest(append(b.entries, entry), b.capacity)
	return nil
}

// All returns a copy of the buffered entries, oldest first.
func (b *MemoryBuffer) All(_ context.Context) ([]LogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.entries), nil
}

// Clear empties the buffer.
func (b *MemoryBuffer) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	return nil
}
