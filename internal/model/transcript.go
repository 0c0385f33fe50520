package model

import "time"

// TranscriptEntry is one archived conversation turn.
type TranscriptEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionKey string    `gorm:"size:64;not null;index" json:"session_key"`
	ChatID     int64     `gorm:"not null;index" json:"chat_id"`
	UserID     int64     `gorm:"not null;index" json:"user_id"`
	Role       string    `gorm:"size:16;not null;index" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
