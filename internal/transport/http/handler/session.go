package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gophergpt-bot/internal/model"
	"gophergpt-bot/internal/quota"
	"gophergpt-bot/internal/session"
	"gophergpt-bot/internal/transport/http/response"
)

type SessionReader interface {
	Snapshot(ctx context.Context, key string) (*model.SessionData, bool, error)
}

type ArchiveCounter interface {
	CountByChat(ctx context.Context, chatID int64) (int64, error)
}

// SessionHandler exposes counters about a chat. Message content is never
// returned.
type SessionHandler struct {
	sessions SessionReader
	tracker  *quota.Tracker
	archive  ArchiveCounter
	now      func() time.Time
}

type quotaView struct {
	UserID    int64 `json:"user_id"`
	Count     int   `json:"count"`
	LastReset int64 `json:"last_reset"`
	Remaining int   `json:"remaining"`
	Admin     bool  `json:"admin"`
}

type sessionView struct {
	ChatID        int64       `json:"chat_id"`
	MessageCount  int         `json:"message_count"`
	Quota         []quotaView `json:"quota"`
	ArchivedCount *int64      `json:"archived_count,omitempty"`
}

// NewSessionHandler builds the handler. archive may be nil.
func NewSessionHandler(sessions SessionReader, tracker *quota.Tracker, archive ArchiveCounter) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		tracker:  tracker,
		archive:  archive,
		now:      time.Now,
	}
}

func (h *SessionHandler) Get(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat_id")
		return
	}

	ctx := c.Request.Context()
	data, ok, err := h.sessions.Snapshot(ctx, session.Key(chatID))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load session failed")
		return
	}
	if !ok {
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found")
		return
	}

	now := h.now()
	view := sessionView{
		ChatID:       chatID,
		MessageCount: len(data.Messages),
		Quota:        make([]quotaView, 0, len(data.MessageData)),
	}
	for userID, rec := range data.MessageData {
		remaining := h.tracker.Remaining(userID, rec, now)
		view.Quota = append(view.Quota, quotaView{
			UserID:    userID,
			Count:     rec.Count,
			LastReset: rec.LastReset,
			Remaining: remaining,
			Admin:     remaining < 0,
		})
	}
	sort.Slice(view.Quota, func(i, j int) bool { return view.Quota[i].UserID < view.Quota[j].UserID })

	if h.archive != nil {
		count, err := h.archive.CountByChat(ctx, chatID)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "count archive failed")
			return
		}
		view.ArchivedCount = &count
	}

	response.OK(c, view)
}
