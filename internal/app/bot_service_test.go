package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gophergpt-bot/internal/ai"
	"gophergpt-bot/internal/model"
	"gophergpt-bot/internal/quota"
	"gophergpt-bot/internal/session"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.text)
	}
	return out
}

func (m *fakeMessenger) last() string {
	texts := m.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeCompleter struct {
	mu          sync.Mutex
	textCalls   int
	imageCalls  int
	lastHistory []model.ChatMessage
	lastPrompt  string
	lastImage   []byte
	textErr     error
	imageErr    error
}

func (c *fakeCompleter) CompleteText(_ context.Context, history []model.ChatMessage) (model.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textCalls++
	c.lastHistory = history
	if c.textErr != nil {
		return model.ChatMessage{}, c.textErr
	}
	last := history[len(history)-1]
	return model.ChatMessage{Role: model.RoleAssistant, Content: "echo: " + last.Content}, nil
}

func (c *fakeCompleter) CompleteImage(_ context.Context, prompt string, image []byte) (model.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imageCalls++
	c.lastPrompt = prompt
	c.lastImage = image
	if c.imageErr != nil {
		return model.ChatMessage{}, c.imageErr
	}
	return model.ChatMessage{Role: model.RoleAssistant, Content: "a picture"}, nil
}

type fakeFetcher struct {
	data    []byte
	err     error
	lastURL string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.lastURL = url
	return f.data, f.err
}

type fakeFiles struct {
	err        error
	lastFileID string
}

func (f *fakeFiles) FileURL(_ context.Context, fileID string) (string, error) {
	f.lastFileID = fileID
	if f.err != nil {
		return "", f.err
	}
	return "https://files.example/" + fileID, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []model.TranscriptEntry
}

func (p *fakePublisher) Publish(_ context.Context, entry model.TranscriptEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

type harness struct {
	svc       *BotService
	sessions  *session.Manager
	messenger *fakeMessenger
	completer *fakeCompleter
	fetcher   *fakeFetcher
	files     *fakeFiles
	publisher *fakePublisher
	now       time.Time
}

func newHarness(t *testing.T, limit int, admins ...int64) *harness {
	t.Helper()
	h := &harness{
		sessions:  session.NewManager(session.NewMemoryStore()),
		messenger: &fakeMessenger{},
		completer: &fakeCompleter{},
		fetcher:   &fakeFetcher{data: []byte{0xff, 0xd8, 0xff}},
		files:     &fakeFiles{},
		publisher: &fakePublisher{},
		now:       time.UnixMilli(1_700_000_000_000),
	}
	tracker := quota.NewTracker(limit, quota.DefaultWindow, quota.NewAdminSet(admins...))
	svc, err := NewBotService(h.sessions, tracker, h.completer, h.fetcher, h.files, h.messenger, h.publisher)
	if err != nil {
		t.Fatalf("NewBotService failed: %v", err)
	}
	svc.now = func() time.Time { return h.now }
	h.svc = svc
	return h
}

func (h *harness) snapshot(t *testing.T, chatID int64) *model.SessionData {
	t.Helper()
	data, ok, err := h.sessions.Snapshot(context.Background(), session.Key(chatID))
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !ok {
		return model.NewSessionData()
	}
	return data
}

func textUpdate(chatID, userID int64, text string) Update {
	return Update{Kind: UpdateText, ChatID: chatID, UserID: userID, Text: text}
}

func TestHandleUpdate_TextRoundTrip(t *testing.T) {
	h := newHarness(t, 5)
	if err := h.svc.HandleUpdate(context.Background(), textUpdate(10, 1, "Hello")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	data := h.snapshot(t, 10)
	if len(data.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(data.Messages))
	}
	if data.Messages[0] != (model.ChatMessage{Role: model.RoleUser, Content: "Hello"}) {
		t.Fatalf("unexpected user entry: %#v", data.Messages[0])
	}
	if data.Messages[1] != (model.ChatMessage{Role: model.RoleAssistant, Content: "echo: Hello"}) {
		t.Fatalf("unexpected assistant entry: %#v", data.Messages[1])
	}
	if got := h.messenger.last(); got != "echo: Hello" {
		t.Fatalf("unexpected reply %q", got)
	}
	if rec := data.MessageData[1]; rec == nil || rec.Count != 1 {
		t.Fatalf("unexpected quota record: %#v", rec)
	}
	if len(h.publisher.entries) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(h.publisher.entries))
	}
}

func TestHandleUpdate_QuotaExceededDiscardsMessage(t *testing.T) {
	const limit = 4
	h := newHarness(t, limit)
	ctx := context.Background()

	for i := 0; i < limit+1; i++ {
		if err := h.svc.HandleUpdate(ctx, textUpdate(10, 1, "Hello")); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	data := h.snapshot(t, 10)
	if len(data.Messages) != 2*limit {
		t.Fatalf("expected %d messages, got %d", 2*limit, len(data.Messages))
	}
	if got := h.messenger.last(); got != NoticeQuotaExceeded {
		t.Fatalf("expected quota notice, got %q", got)
	}
	if h.completer.textCalls != limit {
		t.Fatalf("expected %d completions, got %d", limit, h.completer.textCalls)
	}
	rec := data.MessageData[1]
	if rec == nil || rec.Count != limit || rec.LastReset != h.now.UnixMilli() {
		t.Fatalf("denied record must be persisted unchanged, got %#v", rec)
	}
}

func TestHandleUpdate_QuotaResetsAfterWindow(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "one"))
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "two"))
	if got := h.messenger.last(); got != NoticeQuotaExceeded {
		t.Fatalf("expected quota notice, got %q", got)
	}

	h.now = h.now.Add(quota.DefaultWindow)
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "three"))
	if got := h.messenger.last(); got != "echo: three" {
		t.Fatalf("expected reply after window, got %q", got)
	}
	if rec := h.snapshot(t, 10).MessageData[1]; rec.Count != 1 || rec.LastReset != h.now.UnixMilli() {
		t.Fatalf("unexpected record after reset: %#v", rec)
	}
}

func TestHandleUpdate_AdminIsNeverDenied(t *testing.T) {
	h := newHarness(t, 2, 99)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = h.svc.HandleUpdate(ctx, textUpdate(10, 99, fmt.Sprintf("msg %d", i)))
		if got := h.messenger.last(); got == NoticeQuotaExceeded {
			t.Fatalf("admin denied on request %d", i+1)
		}
	}
	if got := len(h.snapshot(t, 10).Messages); got != 20 {
		t.Fatalf("expected 20 messages, got %d", got)
	}
}

func TestHandleUpdate_QuotaIsPerUser(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "a"))
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 2, "b"))
	if got := h.messenger.last(); got != "echo: b" {
		t.Fatalf("second user should be admitted, got %q", got)
	}
}

func TestHandleUpdate_PhotoWithoutCaptionUsesDefaultPrompt(t *testing.T) {
	h := newHarness(t, 5)
	u := Update{
		Kind:   UpdatePhoto,
		ChatID: 10,
		UserID: 1,
		Photos: []PhotoVariant{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "medium", Width: 320, Height: 320},
			{FileID: "large", Width: 1280, Height: 1280},
		},
	}
	if err := h.svc.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	if h.files.lastFileID != "large" {
		t.Fatalf("expected largest variant, got %q", h.files.lastFileID)
	}
	if h.fetcher.lastURL != "https://files.example/large" {
		t.Fatalf("unexpected fetch url %q", h.fetcher.lastURL)
	}
	if h.completer.lastPrompt != DefaultImagePrompt {
		t.Fatalf("unexpected prompt %q", h.completer.lastPrompt)
	}

	data := h.snapshot(t, 10)
	if len(data.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(data.Messages))
	}
	if data.Messages[0].Content != DefaultImagePrompt {
		t.Fatalf("expected default prompt stored, got %q", data.Messages[0].Content)
	}
	if data.Messages[1].Content != "a picture" {
		t.Fatalf("unexpected assistant entry %#v", data.Messages[1])
	}
	want := []string{NoticePhotoReceived, "a picture"}
	got := h.messenger.texts()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected replies %q", got)
	}
}

func TestHandleUpdate_PhotoCaptionIsPrompt(t *testing.T) {
	h := newHarness(t, 5)
	u := Update{Kind: UpdatePhoto, ChatID: 10, UserID: 1, Caption: "Is this a cat?", Photos: []PhotoVariant{{FileID: "x"}}}
	_ = h.svc.HandleUpdate(context.Background(), u)

	if h.completer.lastPrompt != "Is this a cat?" {
		t.Fatalf("unexpected prompt %q", h.completer.lastPrompt)
	}
	if got := h.snapshot(t, 10).Messages[0].Content; got != "Is this a cat?" {
		t.Fatalf("unexpected stored prompt %q", got)
	}
}

func TestHandleUpdate_CompletionFailureKeepsUserTurn(t *testing.T) {
	h := newHarness(t, 5)
	h.completer.textErr = errors.New("boom")

	if err := h.svc.HandleUpdate(context.Background(), textUpdate(10, 1, "Hello")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	if got := h.messenger.last(); got != NoticeCompletionFailed {
		t.Fatalf("expected error notice, got %q", got)
	}
	data := h.snapshot(t, 10)
	if len(data.Messages) != 1 || data.Messages[0].Role != model.RoleUser {
		t.Fatalf("expected only the user entry, got %#v", data.Messages)
	}
}

func TestHandleUpdate_EmptyHistoryNotice(t *testing.T) {
	h := newHarness(t, 5)
	h.completer.textErr = ai.ErrEmptyHistory

	_ = h.svc.HandleUpdate(context.Background(), textUpdate(10, 1, "Hello"))
	if got := h.messenger.last(); got != NoticeNothingToSend {
		t.Fatalf("expected nothing-to-send notice, got %q", got)
	}
}

func TestHandleUpdate_PhotoFailures(t *testing.T) {
	tests := []struct {
		name         string
		resolveErr   error
		fetchErr     error
		imageErr     error
		wantReply    string
		wantMessages int
	}{
		{"resolve fails", errors.New("no file"), nil, nil, NoticeImageFailed, 0},
		{"fetch fails", nil, errors.New("timeout"), nil, NoticeImageFailed, 1},
		{"vision fails", nil, nil, errors.New("500"), NoticeVisionFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5)
			h.files.err = tt.resolveErr
			h.fetcher.err = tt.fetchErr
			h.completer.imageErr = tt.imageErr

			u := Update{Kind: UpdatePhoto, ChatID: 10, UserID: 1, Photos: []PhotoVariant{{FileID: "x"}}}
			if err := h.svc.HandleUpdate(context.Background(), u); err != nil {
				t.Fatalf("HandleUpdate failed: %v", err)
			}
			if got := h.messenger.last(); got != tt.wantReply {
				t.Fatalf("expected %q, got %q", tt.wantReply, got)
			}
			data := h.snapshot(t, 10)
			if len(data.Messages) != tt.wantMessages {
				t.Fatalf("expected %d messages, got %d", tt.wantMessages, len(data.Messages))
			}
			if rec := data.MessageData[1]; rec == nil || rec.Count != 1 {
				t.Fatalf("quota must be consumed, got %#v", rec)
			}
		})
	}
}

func TestHandleUpdate_StartClearsSession(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "Hello"))
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 2, "Hi"))

	if err := h.svc.HandleUpdate(ctx, Update{Kind: UpdateStart, ChatID: 10, UserID: 1}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	data := h.snapshot(t, 10)
	if len(data.Messages) != 0 {
		t.Fatalf("expected empty history, got %d", len(data.Messages))
	}
	if len(data.MessageData) != 0 {
		t.Fatalf("expected empty quota data, got %#v", data.MessageData)
	}
	if got := h.messenger.last(); got != NoticeGreeting {
		t.Fatalf("expected greeting, got %q", got)
	}
}

func TestHandleUpdate_OtherLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	for _, u := range []Update{
		{Kind: UpdateOther, ChatID: 10, UserID: 1},
		{Kind: UpdateText, ChatID: 10, UserID: 1, Text: "   "},
		{Kind: UpdatePhoto, ChatID: 10, UserID: 1},
	} {
		if err := h.svc.HandleUpdate(ctx, u); err != nil {
			t.Fatalf("HandleUpdate failed: %v", err)
		}
		if got := h.messenger.last(); got != NoticeUnsupported {
			t.Fatalf("expected unsupported notice, got %q", got)
		}
	}
	if _, ok, _ := h.sessions.Snapshot(ctx, session.Key(10)); ok {
		t.Fatal("unsupported updates must not create a session")
	}
}

func TestHandleUpdate_QuotaCommandDoesNotConsume(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, "Hello"))

	_ = h.svc.HandleUpdate(ctx, Update{Kind: UpdateQuota, ChatID: 10, UserID: 1})
	want := "Messages left: 4 of 5. The limit resets at 2023-11-15 22:13 UTC."
	if got := h.messenger.last(); got != want {
		t.Fatalf("unexpected quota status:\n got %q\nwant %q", got, want)
	}
	if rec := h.snapshot(t, 10).MessageData[1]; rec.Count != 1 {
		t.Fatalf("quota command consumed quota: %#v", rec)
	}
}

func TestHandleUpdate_ConcurrentSameChatKeepsPairsTogether(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.svc.HandleUpdate(ctx, textUpdate(10, 1, fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	data := h.snapshot(t, 10)
	if len(data.Messages) != 2*n {
		t.Fatalf("expected %d messages, got %d", 2*n, len(data.Messages))
	}
	for i := 0; i < len(data.Messages); i += 2 {
		user, assistant := data.Messages[i], data.Messages[i+1]
		if user.Role != model.RoleUser || assistant.Role != model.RoleAssistant {
			t.Fatalf("roles out of order at %d: %s, %s", i, user.Role, assistant.Role)
		}
		if assistant.Content != "echo: "+user.Content {
			t.Fatalf("reply at %d does not match its request: %q vs %q", i, user.Content, assistant.Content)
		}
	}
	if rec := data.MessageData[1]; rec.Count != n {
		t.Fatalf("expected count %d, got %d", n, rec.Count)
	}
}

func TestHandleUpdate_HelpExplainsUnknownCommands(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	if err := h.svc.HandleUpdate(ctx, Update{Kind: UpdateHelp, ChatID: 10, UserID: 1}); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	got := h.messenger.last()
	if got != NoticeHelp || !strings.Contains(got, "Any other command") {
		t.Fatalf("unexpected help text %q", got)
	}
	if _, ok, _ := h.sessions.Snapshot(ctx, session.Key(10)); ok {
		t.Fatal("help must not create a session")
	}
}

func TestNewBotService_RequiresDependencies(t *testing.T) {
	_, err := NewBotService(nil, nil, nil, nil, nil, nil, nil)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}
