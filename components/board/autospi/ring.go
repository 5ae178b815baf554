package autospi

import (
	"go.uber.org/atomic"
)

// Ring is a fixed-capacity FIFO of words. It never grows: a push that does not fit is dropped
// whole and counted, so transactions are never split across an overflow. Ring is not safe for
// concurrent use except for Dropped; owners serialize Push and Pop.
type Ring struct {
	words   []uint32
	head    int
	size    int
	dropped atomic.Uint64
}

// NewRing returns an empty ring holding at most capacity words.
func NewRing(capacity int) *Ring {
	return &Ring{words: make([]uint32, capacity)}
}

// Cap returns the capacity in words.
func (r *Ring) Cap() int {
	return len(r.words)
}

// Len returns the number of buffered words.
func (r *Ring) Len() int {
	return r.size
}

// Push appends all of words, or none of them if they do not fit. It reports whether the words
// were stored.
func (r *Ring) Push(words ...uint32) bool {
	if len(words) == 0 {
		return true
	}
	if len(words) > len(r.words)-r.size {
		r.dropped.Add(uint64(len(words)))
		return false
	}
	tail := (r.head + r.size) % len(r.words)
	n := copy(r.words[tail:], words)
	copy(r.words, words[n:])
	r.size += len(words)
	return true
}

// Pop moves up to len(dst) of the oldest words into dst and returns how many were moved.
func (r *Ring) Pop(dst []uint32) int {
	n := len(dst)
	if n > r.size {
		n = r.size
	}
	if n == 0 {
		return 0
	}
	first := copy(dst[:n], r.words[r.head:])
	copy(dst[first:n], r.words)
	r.head = (r.head + n) % len(r.words)
	r.size -= n
	return n
}

// Dropped returns the number of words rejected by Push.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
