// Package session keeps per-chat conversation state behind a Store and
// serializes access to each chat.
package session

import (
	"context"
	"errors"
	"strconv"

	"gophergpt-bot/internal/model"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

var ErrUnknownBackend = errors.New("unknown session backend")

// Store persists SessionData by key. Implementations must not retain the
// pointers they are given or hand out.
type Store interface {
	Load(ctx context.Context, key string) (*model.SessionData, bool, error)
	Save(ctx context.Context, key string, data *model.SessionData) error
	Close() error
}

// Key returns the store key for a chat.
func Key(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
