package session

import (
	"context"
	"sync"

	"gophergpt-bot/internal/model"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.SessionData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.SessionData)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*model.SessionData, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[key]
	if !ok {
		return nil, false, nil
	}
	return data.Clone(), true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, data *model.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = data.Clone()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
