package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultBufferSlot is the file name of the preview slot.
const DefaultBufferSlot = "educode_preview_logs.json"

// FileBuffer stores the preview entries as one JSON array in a single file,
// the slot. A missing slot reads as empty.
type FileBuffer struct {
	mu       sync.Mutex
	path     string
	capacity int
}

// NewFileBuffer creates a buffer backed by the file at path.
func NewFileBuffer(path string, capacity int) *FileBuffer {
	return &FileBuffer{path: path, capacity: normalizeCapacity(capacity)}
}

// Path returns the slot location.
func (b *FileBuffer) Path() string {
	return b.path
}

// Append reads the slot, appends the entry, trims and writes it back.
func (b *FileBuffer) Append(_ context.Context, entry LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.read()
	if err != nil {
		return err
	}
	entries = trimOldest(append(entries, entry), b.capacity)
	return b.write(entries)
}

// All returns the slot contents, oldest first.
func (b *FileBuffer) All(_ context.Context) ([]LogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read()
}

// Clear removes the slot entirely.
func (b *FileBuffer) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear preview slot: %w", err)
	}
	return nil
}

func (b *FileBuffer) read() ([]LogEntry, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preview slot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode preview slot: %w", err)
	}
	return entries, nil
}

// write replaces the slot atomically so readers never see a partial array.
func (b *FileBuffer) write(entries []LogEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode preview slot: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create preview slot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".preview-*.json")
	if err != nil {
		return fmt.Errorf("failed to create preview slot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write preview slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write preview slot: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace preview slot: %w", err)
	}
	return nil
}
