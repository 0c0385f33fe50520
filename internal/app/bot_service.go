package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gophergpt-bot/internal/ai"
	"gophergpt-bot/internal/model"
	"gophergpt-bot/internal/quota"
	"gophergpt-bot/internal/session"
)

var ErrMissingDependency = errors.New("bot service dependency is missing")

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// FileResolver turns a platform file handle into a downloadable URL.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

type Completer interface {
	CompleteText(ctx context.Context, history []model.ChatMessage) (model.ChatMessage, error)
	CompleteImage(ctx context.Context, prompt string, image []byte) (model.ChatMessage, error)
}

type AttachmentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type TranscriptPublisher interface {
	Publish(ctx context.Context, entry model.TranscriptEntry) error
}

// BotService routes classified updates through quota, history and the
// completion API. Work on one chat is serialized; different chats run in
// parallel.
type BotService struct {
	sessions  *session.Manager
	tracker   *quota.Tracker
	completer Completer
	fetcher   AttachmentFetcher
	files     FileResolver
	messenger Messenger
	publisher TranscriptPublisher
	now       func() time.Time
}

func NewBotService(
	sessions *session.Manager,
	tracker *quota.Tracker,
	completer Completer,
	fetcher AttachmentFetcher,
	files FileResolver,
	messenger Messenger,
	publisher TranscriptPublisher,
) (*BotService, error) {
	if sessions == nil || tracker == nil || completer == nil || fetcher == nil || files == nil || messenger == nil {
		return nil, ErrMissingDependency
	}
	return &BotService{
		sessions:  sessions,
		tracker:   tracker,
		completer: completer,
		fetcher:   fetcher,
		files:     files,
		messenger: messenger,
		publisher: publisher,
		now:       time.Now,
	}, nil
}

// HandleUpdate runs one update to completion. Remote failures are turned
// into notices for the user; only session store failures are returned.
func (s *BotService) HandleUpdate(ctx context.Context, u Update) error {
	u = classify(u)

	switch u.Kind {
	case UpdateOther:
		s.reply(ctx, u.ChatID, NoticeUnsupported)
		return nil
	case UpdateHelp:
		s.reply(ctx, u.ChatID, NoticeHelp)
		return nil
	}

	key := session.Key(u.ChatID)
	release := s.sessions.Acquire(key)
	defer release()

	sess, err := s.sessions.GetOrCreate(ctx, key)
	if err != nil {
		s.reply(ctx, u.ChatID, NoticeStoreFailed)
		return err
	}

	switch u.Kind {
	case UpdateStart:
		return s.handleStart(ctx, sess, u)
	case UpdateQuota:
		s.reply(ctx, u.ChatID, s.quotaStatus(sess, u.UserID))
		return nil
	}

	record, admitted := s.tracker.Admit(u.UserID, sess.Quota(u.UserID), s.now())
	sess.SetQuota(u.UserID, record)
	if !admitted {
		slog.Info("quota exceeded", "chat_id", u.ChatID, "user_id", u.UserID, "count", record.Count)
		if err := s.save(ctx, sess, u.ChatID); err != nil {
			return err
		}
		s.reply(ctx, u.ChatID, NoticeQuotaExceeded)
		return nil
	}

	if u.Kind == UpdatePhoto {
		return s.handlePhoto(ctx, sess, u)
	}
	return s.handleText(ctx, sess, u)
}

func (s *BotService) handleStart(ctx context.Context, sess *session.Session, u Update) error {
	sess.Reset()
	if err := s.save(ctx, sess, u.ChatID); err != nil {
		return err
	}
	s.reply(ctx, u.ChatID, NoticeGreeting)
	return nil
}

func (s *BotService) handleText(ctx context.Context, sess *session.Session, u Update) error {
	s.appendMessage(ctx, sess, u, model.NewChatMessage(model.RoleUser, u.Text))
	if err := s.save(ctx, sess, u.ChatID); err != nil {
		return err
	}

	reply, err := s.completer.CompleteText(ctx, sess.Messages())
	if errors.Is(err, ai.ErrEmptyHistory) {
		s.reply(ctx, u.ChatID, NoticeNothingToSend)
		return nil
	}
	if err != nil {
		slog.Error("text completion failed", "chat_id", u.ChatID, "error", err)
		s.reply(ctx, u.ChatID, NoticeCompletionFailed)
		return nil
	}

	return s.finish(ctx, sess, u, reply)
}

func (s *BotService) handlePhoto(ctx context.Context, sess *session.Session, u Update) error {
	variant, _ := u.Largest()
	url, err := s.files.FileURL(ctx, variant.FileID)
	if err != nil {
		slog.Error("resolve photo url failed", "chat_id", u.ChatID, "file_id", variant.FileID, "error", err)
		if err := s.save(ctx, sess, u.ChatID); err != nil {
			return err
		}
		s.reply(ctx, u.ChatID, NoticeImageFailed)
		return nil
	}

	prompt := strings.TrimSpace(u.Caption)
	if prompt == "" {
		prompt = DefaultImagePrompt
	}
	s.appendMessage(ctx, sess, u, model.NewChatMessage(model.RoleUser, prompt))
	if err := s.save(ctx, sess, u.ChatID); err != nil {
		return err
	}
	s.reply(ctx, u.ChatID, NoticePhotoReceived)

	image, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		slog.Error("fetch photo failed", "chat_id", u.ChatID, "error", err)
		s.reply(ctx, u.ChatID, NoticeImageFailed)
		return nil
	}

	reply, err := s.completer.CompleteImage(ctx, prompt, image)
	if err != nil {
		slog.Error("image completion failed", "chat_id", u.ChatID, "bytes", len(image), "error", err)
		s.reply(ctx, u.ChatID, NoticeVisionFailed)
		return nil
	}

	return s.finish(ctx, sess, u, reply)
}

// finish records the assistant turn and sends it to the user.
func (s *BotService) finish(ctx context.Context, sess *session.Session, u Update, reply model.ChatMessage) error {
	reply = model.NewChatMessage(model.RoleAssistant, reply.Content)
	s.appendMessage(ctx, sess, u, reply)
	if err := s.save(ctx, sess, u.ChatID); err != nil {
		return err
	}
	s.reply(ctx, u.ChatID, reply.Content)
	return nil
}

func (s *BotService) quotaStatus(sess *session.Session, userID int64) string {
	now := s.now()
	record := sess.Quota(userID)
	remaining := s.tracker.Remaining(userID, record, now)
	if remaining < 0 {
		return "You have no daily message limit."
	}
	resetsAt := s.tracker.ResetsAt(record, now)
	return fmt.Sprintf("Messages left: %d of %d. The limit resets at %s.",
		remaining, s.tracker.Limit(), resetsAt.UTC().Format("2006-01-02 15:04 UTC"))
}

func (s *BotService) appendMessage(ctx context.Context, sess *session.Session, u Update, msg model.ChatMessage) {
	sess.AppendMessage(msg)
	if s.publisher == nil {
		return
	}
	entry := model.TranscriptEntry{
		SessionKey: sess.Key(),
		ChatID:     u.ChatID,
		UserID:     u.UserID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		CreatedAt:  s.now(),
	}
	if err := s.publisher.Publish(ctx, entry); err != nil {
		slog.Warn("publish transcript entry failed", "chat_id", u.ChatID, "error", err)
	}
}

func (s *BotService) save(ctx context.Context, sess *session.Session, chatID int64) error {
	if err := sess.Save(ctx); err != nil {
		slog.Error("save session failed", "chat_id", chatID, "error", err)
		s.reply(ctx, chatID, NoticeStoreFailed)
		return err
	}
	return nil
}

func (s *BotService) reply(ctx context.Context, chatID int64, text string) {
	if err := s.messenger.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("send message failed", "chat_id", chatID, "error", err)
	}
}

func classify(u Update) Update {
	switch u.Kind {
	case UpdateText:
		if strings.TrimSpace(u.Text) == "" {
			u.Kind = UpdateOther
		}
	case UpdatePhoto:
		if len(u.Photos) == 0 {
			u.Kind = UpdateOther
		}
	}
	return u
}
