package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crm-google-sync-go/internal/models"
)

// RawEventRepository persists ingested provider items. Inserts are
// append-only; deduplication belongs to the downstream normalization stage.
type RawEventRepository struct {
	db *gorm.DB
}

// NewRawEventRepository creates a new RawEventRepository
func NewRawEventRepository(db *gorm.DB) *RawEventRepository {
	return &RawEventRepository{db: db}
}

// Insert appends a raw event.
func (r *RawEventRepository) Insert(ctx context.Context, event *models.RawEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to insert raw event: %w", err)
	}
	return nil
}

// LatestOccurredAt returns the newest occurrence timestamp stored for a
// user and provider. A zero time means nothing has been ingested yet; the
// caller uses the result as the since-bound for the next run.
func (r *RawEventRepository) LatestOccurredAt(ctx context.Context, userID, provider string) (time.Time, error) {
	var event models.RawEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Order("occurred_at DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to query latest event: %w", err)
	}
	return event.OccurredAt, nil
}

// CountByBatch returns how many raw events a sync batch produced.
func (r *RawEventRepository) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RawEvent{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count batch events: %w", err)
	}
	return count, nil
}
