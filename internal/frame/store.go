package frame

import (
	"sync"
	"time"
)

// Store holds the most recent frame of a live stream.
//
// Only the latest frame matters: Put overwrites unconditionally and nothing
// is queued. Frames cross the store by value in both directions, so the
// ingestion loop can keep reusing its working buffer while a reader crops a
// copy. The lock covers the copy and nothing else.
type Store struct {
	mu        sync.Mutex
	buf       Frame
	has       bool
	puts      uint64
	updatedAt time.Time
}

// StoreStats is a point-in-time view of a Store.
type StoreStats struct {
	Puts      uint64
	HasFrame  bool
	UpdatedAt time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Put replaces the stored frame with a copy of f. Malformed frames are
// ignored.
func (s *Store) Put(f *Frame) {
	if f.Validate() != nil {
		return
	}
	n := f.Width * f.Height * 3

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reuse the owned buffer when it is big enough (resolution is stable
	// between camera switches)
	if cap(s.buf.Pix) < n {
		s.buf.Pix = make([]byte, n)
	}
	s.buf.Pix = s.buf.Pix[:n]
	copy(s.buf.Pix, f.Pix[:n])
	s.buf.Width = f.Width
	s.buf.Height = f.Height
	s.has = true
	s.puts++
	s.updatedAt = time.Now()
}

// Latest returns a copy of the stored frame, or false if none has arrived.
func (s *Store) Latest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.has {
		return nil, false
	}
	return s.buf.Clone(), true
}

// Reset forgets the stored frame. The buffer is kept for reuse.
func (s *Store) Reset() {
	s.mu.Lock()
	s.has = false
	s.mu.Unlock()
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{Puts: s.puts, HasFrame: s.has, UpdatedAt: s.updatedAt}
}
