// Package fake implements an in-memory automatic transfer source for tests and simulations.
package fake

import (
	"sync"

	"go.viam.com/spiaccum/components/board/autospi"
)

// Source is an autospi.Source fed directly by the caller instead of a bus.
type Source struct {
	mu   sync.Mutex
	ring *autospi.Ring
}

var _ autospi.Source = (*Source)(nil)

// NewSource returns a source buffering at most capacity words.
func NewSource(capacity int) *Source {
	return &Source{ring: autospi.NewRing(capacity)}
}

// PushFrame appends one transaction: the timestamp word followed by one word per payload byte.
// It reports false, and counts the words as dropped, when the frame does not fit.
func (s *Source) PushFrame(timestamp uint32, payload ...byte) bool {
	words := make([]uint32, 1, 1+len(payload))
	words[0] = timestamp
	for _, b := range payload {
		words = append(words, uint32(b))
	}
	return s.PushWords(words...)
}

// PushWords appends raw words. Use it to produce partial transactions.
func (s *Source) PushWords(words ...uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Push(words...)
}

// Available returns the number of buffered words.
func (s *Source) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// Read drains up to len(dst) words.
func (s *Source) Read(dst []uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Pop(dst)
}

// Dropped returns the number of words rejected because the buffer was full.
func (s *Source) Dropped() uint64 {
	return s.ring.Dropped()
}
