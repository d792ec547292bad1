// Package admission bounds how many sessions may run at once against a
// resource such as an external digital library.
package admission

import (
	"sync"
	"sync/atomic"
)

// Sessions counts admitted sessions. The zero value admits nothing until Max
// is set; a negative Max means unbounded.
type Sessions struct {
	Max    int64
	active atomic.Int64
}

func NewSessions(max int64) *Sessions {
	return &Sessions{Max: max}
}

// Acquire admits one session. The count is raised first and rolled back when
// it overshoots Max, so concurrent callers never see more than Max admitted.
// The returned release is idempotent; callers defer it on every path.
func (s *Sessions) Acquire() (release func(), ok bool) {
	n := s.active.Add(1)
	if s.Max >= 0 && n > s.Max {
		s.active.Add(-1)
		return func() {}, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.active.Add(-1) })
	}, true
}

// Active returns the number of sessions currently admitted.
func (s *Sessions) Active() int64 {
	return s.active.Load()
}
