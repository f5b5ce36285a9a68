package memory

import (
	"context"
	"fmt"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

type collection struct {
	def    domain.Collection
	points map[uint64]domain.IndexedPoint
}

// Storage is a simple in-memory vector store using brute-force scoring.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ domain.VectorIndex = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{collections: make(map[string]*collection)}
}

func (s *Storage) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Storage) CreateCollection(_ context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[c.Name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, c.Name)
	}
	s.collections[c.Name] = &collection{def: c, points: make(map[uint64]domain.IndexedPoint)}
	return nil
}

func (s *Storage) RecreateCollection(_ context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.Name] = &collection{def: c, points: make(map[uint64]domain.IndexedPoint)}
	return nil
}

func (s *Storage) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Storage) Upsert(_ context.Context, name string, points []domain.IndexedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := vectorstore.ValidatePoints(c.def.Dimension, points); err != nil {
		return err
	}
	for _, p := range points {
		// copy so callers may reuse their buffers
		p.Vector = append([]float32(nil), p.Vector...)
		c.points[p.ID] = p
	}
	return nil
}

func (s *Storage) Search(_ context.Context, name string, vector []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := vectorstore.ValidateQuery(c.def.Dimension, vector, topK); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(c.points))
	for id, p := range c.points {
		results = append(results, domain.SearchResult{
			ID:    id,
			Text:  p.Payload.Text,
			Score: vectorstore.Score(c.def.Distance, vector, p.Vector),
		})
	}
	return vectorstore.Rank(results, topK), nil
}

func (s *Storage) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return len(c.points), nil
}

func (s *Storage) Close() error { return nil }
