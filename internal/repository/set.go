package repository

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Set is the process-wide collection of tracked repositories, keyed by
// their stable id.
type Set struct {
	mu    sync.RWMutex
	byID  map[string]*Lifecycle
	names map[string]string
}

func NewSet() *Set {
	return &Set{
		byID:  make(map[string]*Lifecycle),
		names: make(map[string]string),
	}
}

// Add tracks a registered lifecycle. Ids are never shared between two
// repositories.
func (s *Set) Add(l *Lifecycle) error {
	id := l.ID()
	if id == "" {
		return fmt.Errorf("repository %s has no id", l.FullName())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(id, l)
}

func (s *Set) add(id string, l *Lifecycle) error {
	if existing, ok := s.byID[id]; ok && existing != l {
		return fmt.Errorf("repository id %s already tracked as %s", id, existing.FullName())
	}
	for name, other := range s.names {
		if other == id {
			delete(s.names, name)
		}
	}
	s.byID[id] = l
	s.names[strings.ToLower(l.FullName())] = id
	return nil
}

func (s *Set) Get(id string) (*Lifecycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[id]
	return l, ok
}

// GetByName looks a repository up by full name, case-insensitively. Renamed
// repositories are found under their current name once Reindex ran.
func (s *Set) GetByName(fullName string) (*Lifecycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[strings.ToLower(fullName)]
	if !ok {
		return nil, false
	}
	return s.byID[id], true
}

// Reindex refreshes the name index after a repository was renamed. A new
// name that is already tracked under another id is an error and leaves the
// index unchanged.
func (s *Set) Reindex(l *Lifecycle) error {
	id, name := l.ID(), l.FullName()
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.names[strings.ToLower(name)]; ok && other != id {
		return fmt.Errorf("repository id %s is now named %s, already tracked as id %s", id, name, other)
	}
	return s.add(id, l)
}

func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	for name, other := range s.names {
		if other == id {
			delete(s.names, name)
		}
	}
}

// List returns every tracked repository ordered by full name.
func (s *Set) List() []*Lifecycle {
	s.mu.RLock()
	out := make([]*Lifecycle, 0, len(s.byID))
	for _, l := range s.byID {
		out = append(out, l)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName()) < strings.ToLower(out[j].FullName())
	})
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
