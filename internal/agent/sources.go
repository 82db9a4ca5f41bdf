package agent

import (
	"slices"
	"sync"
)

// SourceSet accumulates the note ids surfaced by searches during one chat
// run. Ids are only ever added.
type SourceSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSourceSet returns an empty set.
func NewSourceSet() *SourceSet {
	return &SourceSet{ids: make(map[string]struct{})}
}

// Add inserts ids and returns how many were new.
func (s *SourceSet) Add(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		added++
	}
	return added
}

// Len returns the number of ids.
func (s *SourceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Sorted returns the ids in ascending order. The result is never nil.
func (s *SourceSet) Sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
