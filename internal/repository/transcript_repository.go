package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gophergpt-bot/internal/model"
)

type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

func (r *TranscriptRepository) Create(ctx context.Context, entry *model.TranscriptEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create transcript entry failed: %w", err)
	}
	return nil
}

// CountByChat returns how many archived turns belong to chatID.
func (r *TranscriptRepository) CountByChat(ctx context.Context, chatID int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.TranscriptEntry{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count transcript entries failed: %w", err)
	}
	return count, nil
}
