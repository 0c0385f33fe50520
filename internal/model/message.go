package model

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PlaceholderContent replaces empty content so that stored history never
// carries an absent value.
const PlaceholderContent = "No content"

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func NewChatMessage(role Role, content string) ChatMessage {
	if strings.TrimSpace(content) == "" {
		content = PlaceholderContent
	}
	return ChatMessage{Role: role, Content: content}
}

// HasContent reports whether the message is worth sending to the model.
func (m ChatMessage) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}
