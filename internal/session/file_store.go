package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gophergpt-bot/internal/model"
)

// FileStore keeps all sessions in a single JSON document of the form
// {"sessions":[{"id":key,"data":{...}}]}, the layout telegraf-session-local
// writes, so an existing sessions.json keeps working. Legacy per-user ids
// are folded into chat keys on load and rewritten on the next save.
type FileStore struct {
	mu       sync.Mutex
	path     string
	order    []string
	sessions map[string]*model.SessionData
}

type fileDocument struct {
	Sessions []fileEntry `json:"sessions"`
}

type fileEntry struct {
	ID   string             `json:"id"`
	Data *model.SessionData `json:"data"`
}

func NewFileStore(path string) (*FileStore, error) {
	store := &FileStore{
		path:     path,
		sessions: make(map[string]*model.SessionData),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file failed: %w", err)
	}
	if len(raw) == 0 {
		return store, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse session file failed: %w", err)
	}
	for _, entry := range doc.Sessions {
		if entry.Data == nil {
			continue
		}
		entry.Data.Normalize()
		key := entry.ID
		if chatKey, ok := legacyChatKey(entry.ID); ok {
			key = chatKey
		}
		existing, seen := store.sessions[key]
		if !seen {
			store.order = append(store.order, key)
			store.sessions[key] = entry.Data
			continue
		}
		mergeSession(existing, entry.Data)
	}
	return store, nil
}

// legacyChatKey maps a telegraf-session-local id "<fromId>:<chatId>" to the
// chat key.
func legacyChatKey(id string) (string, bool) {
	fromID, chatID, ok := strings.Cut(id, ":")
	if !ok {
		return "", false
	}
	if _, err := strconv.ParseInt(fromID, 10, 64); err != nil {
		return "", false
	}
	chat, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", false
	}
	return Key(chat), true
}

// mergeSession folds src into dst when several legacy ids share a chat.
// Messages keep file order; for a user present in both, the record with
// the later reset wins.
func mergeSession(dst, src *model.SessionData) {
	dst.Messages = append(dst.Messages, src.Messages...)
	for userID, rec := range src.MessageData {
		if cur, ok := dst.MessageData[userID]; ok && cur.LastReset >= rec.LastReset {
			continue
		}
		dst.MessageData[userID] = rec
	}
}

func (s *FileStore) Load(_ context.Context, key string) (*model.SessionData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[key]
	if !ok {
		return nil, false, nil
	}
	return data.Clone(), true, nil
}

func (s *FileStore) Save(_ context.Context, key string, data *model.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		s.order = append(s.order, key)
	}
	s.sessions[key] = data.Clone()
	return s.flushLocked()
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flushLocked() error {
	doc := fileDocument{Sessions: make([]fileEntry, 0, len(s.order))}
	for _, key := range s.order {
		doc.Sessions = append(doc.Sessions, fileEntry{ID: key, Data: s.sessions[key]})
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file failed: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file failed: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close session file failed: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace session file failed: %w", err)
	}
	return nil
}
