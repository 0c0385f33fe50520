// Package telegram connects the update router to the Bot API by long
// polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"gophergpt-bot/internal/app"
)

// MaxMessageRunes is the Bot API limit for one text message.
const MaxMessageRunes = 4096

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u app.Update) error
}

type Options struct {
	Token       string
	APIEndpoint string
	PollTimeout int
	SendRate    float64
	SendBurst   int
	Debug       bool
}

type Bot struct {
	api         botAPI
	limiter     *rate.Limiter
	pollTimeout int
	username    string

	mu     sync.Mutex
	queues map[int64]*chatQueue
	wg     sync.WaitGroup
}

// chatQueue holds the updates of one chat that are waiting for its worker.
type chatQueue struct {
	pending []app.Update
}

func New(opts Options) (*Bot, error) {
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if err := tgbotapi.SetLogger(slogBotLogger{}); err != nil {
		slog.Warn("set telegram logger failed", "error", err)
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(opts.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram failed: %w", err)
	}
	api.Debug = opts.Debug

	bot := newBot(api, opts)
	bot.username = api.Self.UserName
	return bot, nil
}

func newBot(api botAPI, opts Options) *Bot {
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = 60
	}
	return &Bot{
		api:         api,
		limiter:     rate.NewLimiter(limit, burst),
		pollTimeout: timeout,
		queues:      make(map[int64]*chatQueue),
	}
}

func (b *Bot) Username() string {
	return b.username
}

// Run polls until ctx is cancelled or the update channel closes. Updates of
// one chat are handled one after another in arrival order; different chats
// run in parallel. Run drains every queue before it returns. Handlers
// outlive ctx so a reply in flight is not cut off.
func (b *Bot) Run(ctx context.Context, handler UpdateHandler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.pollTimeout
	cfg.AllowedUpdates = []string{"message"}

	updates := b.api.GetUpdatesChan(cfg)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
		case <-stop:
		}
	}()

	handlerCtx := context.WithoutCancel(ctx)
	for update := range updates {
		if update.Message == nil {
			continue
		}
		b.dispatch(handlerCtx, handler, ToUpdate(update.Message))
	}

	b.wg.Wait()
	return ctx.Err()
}

// dispatch appends u to its chat queue and starts a worker when the chat
// has none.
func (b *Bot) dispatch(ctx context.Context, handler UpdateHandler, u app.Update) {
	b.mu.Lock()
	if q, ok := b.queues[u.ChatID]; ok {
		q.pending = append(q.pending, u)
		b.mu.Unlock()
		return
	}
	q := &chatQueue{pending: []app.Update{u}}
	b.queues[u.ChatID] = q
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(ctx, handler, u.ChatID, q)
}

// drain runs the queued updates of chatID in order and removes the queue
// once it is empty.
func (b *Bot) drain(ctx context.Context, handler UpdateHandler, chatID int64, q *chatQueue) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.pending) == 0 {
			delete(b.queues, chatID)
			b.mu.Unlock()
			return
		}
		u := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		if err := handler.HandleUpdate(ctx, u); err != nil {
			slog.Error("handle update failed", "chat_id", u.ChatID, "kind", u.Kind.String(), "error", err)
		}
	}
}

// SendMessage sends text as a plain message, cut to the Bot API limit.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait send slot failed: %w", err)
	}
	msg := tgbotapi.NewMessage(chatID, truncateRunes(text, MaxMessageRunes))
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d failed: %w", chatID, err)
	}
	return nil
}

func (b *Bot) FileURL(_ context.Context, fileID string) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file url failed: %w", err)
	}
	return url, nil
}

// ToUpdate classifies an incoming message. Commands other than start,
// quota and help are passed on as text.
func ToUpdate(msg *tgbotapi.Message) app.Update {
	if msg == nil || msg.Chat == nil {
		return app.Update{Kind: app.UpdateOther}
	}

	u := app.Update{
		Kind:   app.UpdateOther,
		ChatID: msg.Chat.ID,
		UserID: msg.Chat.ID,
	}
	if msg.From != nil {
		u.UserID = msg.From.ID
	}

	if msg.IsCommand() {
		switch strings.ToLower(msg.Command()) {
		case "start":
			u.Kind = app.UpdateStart
			return u
		case "quota":
			u.Kind = app.UpdateQuota
			return u
		case "help":
			u.Kind = app.UpdateHelp
			return u
		}
	}

	switch {
	case len(msg.Photo) > 0:
		u.Kind = app.UpdatePhoto
		u.Caption = msg.Caption
		u.Photos = make([]app.PhotoVariant, 0, len(msg.Photo))
		for _, p := range msg.Photo {
			u.Photos = append(u.Photos, app.PhotoVariant{FileID: p.FileID, Width: p.Width, Height: p.Height})
		}
	case msg.Text != "":
		u.Kind = app.UpdateText
		u.Text = msg.Text
	}
	return u
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

type slogBotLogger struct{}

func (slogBotLogger) Println(v ...interface{}) {
	slog.Warn("telegram api", "detail", strings.TrimSpace(fmt.Sprint(v...)))
}

func (slogBotLogger) Printf(format string, v ...interface{}) {
	slog.Warn("telegram api", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
