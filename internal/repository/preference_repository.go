package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"crm-google-sync-go/internal/models"
)

// PreferenceRepository reads per-user sync preferences. The settings feature
// owns writes; this service only reads.
type PreferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new PreferenceRepository
func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// DefaultPreferences returns the filters applied when a user has no
// preference row yet.
func DefaultPreferences(userID string) *models.SyncPreference {
	return &models.SyncPreference{
		UserID:             userID,
		GmailQuery:         "in:inbox -in:spam",
		CalendarDaysPast:   30,
		CalendarDaysFuture: 60,
	}
}

// Get returns the user's preferences, falling back to defaults when no row
// exists.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*models.SyncPreference, error) {
	var pref models.SyncPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultPreferences(userID), nil
		}
		return nil, fmt.Errorf("failed to get sync preferences: %w", err)
	}
	return &pref, nil
}
