package zone

import (
	"sync"

	"github.com/quizzone/quizzone/internal/domain"
	"github.com/quizzone/quizzone/internal/errors"
)

// Store is the keyed map of live quiz zones.
//
// It guards only its own map mutation, so zones can be created and deleted
// concurrently under different ids. Serializing the operations that mutate a
// single zone's state is the orchestrator's job, not the store's.
type Store struct {
	mu    sync.RWMutex
	zones map[string]*domain.QuizZone
}

func NewStore() *Store {
	return &Store{
		zones: make(map[string]*domain.QuizZone),
	}
}

func (s *Store) Get(id string) (*domain.QuizZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz zone not found: id=%s", id))
	}

	return z, nil
}

func (s *Store) Set(id string, z *domain.QuizZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.zones[id]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("quiz zone already exists: id=%s", id))
	}

	s.zones[id] = z
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.zones[id]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("quiz zone not found: id=%s", id))
	}

	delete(s.zones, id)
	return nil
}
