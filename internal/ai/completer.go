package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gophergpt-bot/internal/model"
	"gophergpt-bot/internal/vision"
)

const (
	NoTextReply  = "No response from the model."
	NoImageReply = "Failed to get a response."
)

// ErrEmptyHistory means nothing in the history was worth sending, so no
// request was made.
var ErrEmptyHistory = errors.New("no messages to send")

type Completer struct {
	client      *OpenAICompatibleClient
	cfg         ChatConfig
	visionModel string
	maxImageDim int
}

func NewCompleter(client *OpenAICompatibleClient, cfg ChatConfig, visionModel string, maxImageDim int) *Completer {
	if strings.TrimSpace(visionModel) == "" {
		visionModel = cfg.Model
	}
	return &Completer{
		client:      client,
		cfg:         cfg,
		visionModel: visionModel,
		maxImageDim: maxImageDim,
	}
}

// CompleteText sends the whole history, minus empty entries, and returns
// the assistant reply.
func (c *Completer) CompleteText(ctx context.Context, history []model.ChatMessage) (model.ChatMessage, error) {
	messages := make([]RequestMessage, 0, len(history))
	for _, msg := range history {
		if !msg.HasContent() {
			continue
		}
		messages = append(messages, RequestMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if len(messages) == 0 {
		return model.ChatMessage{}, ErrEmptyHistory
	}

	content, err := c.client.Complete(ctx, c.cfg, messages)
	if err != nil {
		return model.ChatMessage{}, err
	}
	return assistantMessage(content, NoTextReply), nil
}

// CompleteImage asks about a single image. Prior history is not included.
func (c *Completer) CompleteImage(ctx context.Context, prompt string, image []byte) (model.ChatMessage, error) {
	payload := image
	if c.maxImageDim > 0 {
		normalized, err := vision.Normalize(image, c.maxImageDim)
		if err != nil {
			slog.Warn("image normalize failed, sending original", "error", err, "bytes", len(image))
		} else {
			payload = normalized
		}
	}

	cfg := c.cfg
	cfg.Model = c.visionModel
	messages := []RequestMessage{{
		Role: string(model.RoleUser),
		Parts: []ContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: vision.DataURI(payload)}},
		},
	}}

	content, err := c.client.Complete(ctx, cfg, messages)
	if err != nil {
		return model.ChatMessage{}, err
	}
	return assistantMessage(content, NoImageReply), nil
}

func assistantMessage(content, placeholder string) model.ChatMessage {
	content = strings.TrimSpace(content)
	if content == "" {
		content = placeholder
	}
	return model.ChatMessage{Role: model.RoleAssistant, Content: content}
}
