package tle

import (
	"sort"
	"sync"
	"time"
)

// Store provides thread-safe access to the latest element set per satellite.
// A fresher record replaces the previous one wholesale.
type Store struct {
	mu       sync.RWMutex
	elements map[int]Elements
	updated  time.Time
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{elements: make(map[int]Elements)}
}

// Get returns the current elements for a satellite.
func (s *Store) Get(noradID int) (Elements, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[noradID]
	return el, ok
}

// Set replaces the elements for a satellite. Older epochs never overwrite
// newer ones.
func (s *Store) Set(el Elements) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.elements[el.NORADID]; ok && cur.Epoch.After(el.Epoch) {
		return
	}
	s.elements[el.NORADID] = el
	s.updated = time.Now()
}

// SetAll replaces elements for every entry in the slice.
func (s *Store) SetAll(els []Elements) {
	for _, el := range els {
		s.Set(el)
	}
}

// Remove deletes a satellite's elements (satellite untracked).
func (s *Store) Remove(noradID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, noradID)
	s.updated = time.Now()
}

// All returns every stored element set ordered by NORAD ID.
func (s *Store) All() []Elements {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Elements, 0, len(s.elements))
	for _, el := range s.elements {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NORADID < out[j].NORADID })
	return out
}

// Len returns the number of tracked satellites.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}

// AgeSeconds returns the seconds since the store last changed.
// Returns -1 if nothing has been stored yet.
func (s *Store) AgeSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() {
		return -1
	}
	return time.Since(s.updated).Seconds()
}
