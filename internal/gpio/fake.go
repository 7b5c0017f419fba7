package gpio

import "sync"

// Write is a single recorded Set call.
type Write struct {
	Offset int
	High   bool
}

// FakeWriter is a test double that records line writes.
type FakeWriter struct {
	mu sync.Mutex

	// Writes contains every Set call in order.
	Writes []Write

	// Levels holds the last level written per offset.
	Levels map[int]bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeWriter creates a FakeWriter with every line low.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{Levels: make(map[int]bool)}
}

// Set records the write.
func (f *FakeWriter) Set(offset int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, Write{Offset: offset, High: high})
	f.Levels[offset] = high
	return nil
}

// Level returns the last level written to offset.
func (f *FakeWriter) Level(offset int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Levels[offset]
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
	f.Levels = make(map[int]bool)
	f.Closed = false
	f.SetError = nil
}
