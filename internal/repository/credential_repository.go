package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crm-google-sync-go/internal/models"
)

// CredentialRepository persists OAuth credentials. Token values crossing this
// boundary are always ciphertext.
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// ListByUserProvider returns all credential rows for a user and provider.
func (r *CredentialRepository) ListByUserProvider(ctx context.Context, userID, provider string) ([]models.IntegrationCredential, error) {
	var creds []models.IntegrationCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// TokenUpdate carries rotated token fields. Nil fields keep the stored value.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	ExpiryDate   *time.Time
}

// UpdateTokens writes rotated or re-encrypted tokens for one service row.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, userID, provider, service string, update TokenUpdate) error {
	fields := map[string]interface{}{"updated_at": time.Now()}
	if update.AccessToken != nil {
		fields["access_token"] = *update.AccessToken
	}
	if update.RefreshToken != nil {
		fields["refresh_token"] = *update.RefreshToken
	}
	if update.ExpiryDate != nil {
		fields["expiry_date"] = *update.ExpiryDate
	}

	err := r.db.WithContext(ctx).
		Model(&models.IntegrationCredential{}).
		Where("user_id = ? AND provider = ? AND service = ?", userID, provider, service).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// Create inserts a credential row. Used on OAuth consent.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.IntegrationCredential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}
