package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Sequence is a deterministic Generator: a fixed date and a counter rendered
// as six hex digits. Used by tests and by fixtures that need stable numbers.
type Sequence struct {
	mu  sync.Mutex
	at  time.Time
	seq map[Prefix]int
}

func NewSequence(at time.Time) *Sequence {
	return &Sequence{at: at, seq: make(map[Prefix]int)}
}

func (s *Sequence) Next(prefix Prefix) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[prefix]++
	return Format(prefix, s.at, fmt.Sprintf("%06X", s.seq[prefix]))
}
