// Package memory provides an in-process storage.Slot, used in tests and for
// throwaway sessions.
package memory

import (
	"context"
	"strconv"
	"sync"

	"eduitraya/internal/storage"
)

type entry struct {
	value    []byte
	present  bool
	revision int64
}

type Slot struct {
	mu    sync.Mutex
	items map[string]*entry
	// failSet, when non-nil, is returned by Set. Tests use it to simulate a
	// full quota.
	failSet error
}

var _ storage.Slot = (*Slot)(nil)

func New() *Slot {
	return &Slot{items: map[string]*entry{}}
}

func (s *Slot) Name() string { return "memory" }

// Get returns a copy of the stored value.
func (s *Slot) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := storage.CheckKey(key); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || !e.present {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *Slot) Set(_ context.Context, key string, value []byte) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	e := s.entry(key)
	e.value = append([]byte(nil), value...)
	e.present = true
	e.revision++
	return nil
}

func (s *Slot) Remove(_ context.Context, key string) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || !e.present {
		return nil
	}
	e.value = nil
	e.present = false
	e.revision++
	return nil
}

func (s *Slot) Revision(_ context.Context, key string) (string, error) {
	if err := storage.CheckKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return "", nil
	}
	return strconv.FormatInt(e.revision, 10), nil
}

// FailWrites makes every following Set return err; nil restores normal
// behaviour.
func (s *Slot) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet = err
}

func (s *Slot) entry(key string) *entry {
	e, ok := s.items[key]
	if !ok {
		e = &entry{}
		s.items[key] = e
	}
	return e
}
