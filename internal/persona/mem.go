package persona

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	byID  map[string]*Persona
	order []string
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) init() {
	if s.byID == nil {
		s.byID = make(map[string]*Persona)
	}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.byID[p.ID]; ok {
		return fmt.Errorf("%w: persona with id %q already exists", ErrDuplicate, p.ID)
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.put(p)
	s.order = append(s.order, p.ID)
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := clone(*p)
	return &out, nil
}

// Update implements [Store].
func (s *MemStore) Update(_ context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[p.ID]
	if !ok {
		return fmt.Errorf("%w: persona with id %q", ErrNotFound, p.ID)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	s.put(p)
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return nil
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(*s.byID[id]))
	}
	return out, nil
}

// Upsert implements [Store].
func (s *MemStore) Upsert(_ context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if old, ok := s.byID[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
		s.order = append(s.order, p.ID)
	}
	p.UpdatedAt = now
	s.put(p)
	return nil
}

// put stores a copy of p. Must be called with s.mu held.
func (s *MemStore) put(p *Persona) {
	c := clone(*p)
	s.byID[p.ID] = &c
}

func clone(p Persona) Persona {
	if p.Metadata != nil {
		m := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			m[k] = v
		}
		p.Metadata = m
	}
	return p
}
