package rules

import "sync/atomic"

// Store holds the active rule set behind an atomic pointer so evaluation
// never observes a half-applied reload.
type Store struct {
	rules atomic.Pointer[[]Rule]
}

func NewStore(rs []Rule) *Store {
	s := &Store{}
	s.Replace(rs)
	return s
}

// Rules returns the current rule set. The returned slice must not be
// modified.
func (s *Store) Rules() []Rule {
	p := s.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Replace swaps in a new, already-validated rule set.
func (s *Store) Replace(rs []Rule) {
	s.rules.Store(&rs)
}
