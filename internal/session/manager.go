package session

import (
	"context"
	"fmt"
	"sync"

	"gophergpt-bot/internal/model"
)

// Manager is the only access path to conversation state. Callers hold the
// chat's lock from Acquire for the whole read-modify-write of a session.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*chatLock),
	}
}

// Acquire blocks until the caller owns key and returns the release func.
func (m *Manager) Acquire(key string) func() {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &chatLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// GetOrCreate returns the stored session for key, or an empty one that is
// persisted on its first Save.
func (m *Manager) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	data, ok, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session %s failed: %w", key, err)
	}
	if !ok || data == nil {
		data = model.NewSessionData()
	}
	data.Normalize()
	return &Session{key: key, data: data, store: m.store}, nil
}

// Snapshot returns a copy of the stored session without taking the chat
// lock. The bool is false when nothing is stored under key.
func (m *Manager) Snapshot(ctx context.Context, key string) (*model.SessionData, bool, error) {
	data, ok, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s failed: %w", key, err)
	}
	if !ok || data == nil {
		return nil, false, nil
	}
	data.Normalize()
	return data, true, nil
}

type Session struct {
	key   string
	data  *model.SessionData
	store Store
}

func (s *Session) Key() string {
	return s.key
}

// AppendMessage adds msg after every existing entry.
func (s *Session) AppendMessage(msg model.ChatMessage) {
	s.data.Messages = append(s.data.Messages, model.NewChatMessage(msg.Role, msg.Content))
}

func (s *Session) Messages() []model.ChatMessage {
	out := make([]model.ChatMessage, len(s.data.Messages))
	copy(out, s.data.Messages)
	return out
}

func (s *Session) Quota(userID int64) *model.QuotaRecord {
	record, ok := s.data.MessageData[userID]
	if !ok || record == nil {
		return nil
	}
	rec := *record
	return &rec
}

func (s *Session) SetQuota(userID int64, record model.QuotaRecord) {
	s.data.MessageData[userID] = &record
}

// Reset drops the history and every quota record of the chat.
func (s *Session) Reset() {
	s.data.Messages = []model.ChatMessage{}
	s.data.MessageData = map[int64]*model.QuotaRecord{}
}

func (s *Session) Save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.key, s.data); err != nil {
		return fmt.Errorf("save session %s failed: %w", s.key, err)
	}
	return nil
}
