package googleauth

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"crm-google-sync-go/internal/crypto"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/repository"
)

// credentialStore is the repository surface the token store needs.
type credentialStore interface {
	ListByUserProvider(ctx context.Context, userID, provider string) ([]models.IntegrationCredential, error)
	UpdateTokens(ctx context.Context, userID, provider, service string, update repository.TokenUpdate) error
}

// Store loads and persists OAuth tokens. Tokens are ciphertext in the
// database; plaintext exists only in memory on the way to the provider
// client.
type Store struct {
	repo   credentialStore
	cipher *crypto.TokenCipher
}

// NewStore creates a token store over the credential repository.
func NewStore(repo credentialStore, cipher *crypto.TokenCipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

// Token loads the user's credential for one Google service and returns the
// decrypted OAuth token. Legacy plaintext rows are re-encrypted in place
// before the token is returned; a backfill failure aborts resolution.
func (s *Store) Token(ctx context.Context, userID, service string) (*oauth2.Token, error) {
	creds, err := s.repo.ListByUserProvider(ctx, userID, models.ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("failed to load google credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNotConnected
	}

	var cred *models.IntegrationCredential
	for i := range creds {
		if creds[i].Service == service {
			cred = &creds[i]
			break
		}
	}
	if cred == nil {
		return nil, ErrServiceNotApproved
	}

	if err := s.backfill(ctx, cred); err != nil {
		return nil, err
	}

	accessToken, err := s.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	token := &oauth2.Token{AccessToken: accessToken}
	if cred.RefreshToken != nil && *cred.RefreshToken != "" {
		refreshToken, err := s.cipher.Decrypt(*cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		token.RefreshToken = refreshToken
	}
	if cred.ExpiryDate != nil {
		token.Expiry = *cred.ExpiryDate
	} else {
		// Unknown expiry; treat the access token as expired so the token
		// source refreshes before first use.
		token.Expiry = time.Now().Add(-time.Minute)
	}

	return token, nil
}

// backfill re-encrypts legacy plaintext token values on the row. Already
// encrypted values pass through untouched, so repeated reads never
// double-encrypt.
func (s *Store) backfill(ctx context.Context, cred *models.IntegrationCredential) error {
	var update repository.TokenUpdate

	if !crypto.IsEncrypted(cred.AccessToken) {
		encrypted, err := s.cipher.Encrypt(cred.AccessToken)
		if err != nil {
			return fmt.Errorf("%w: access token: %v", ErrEncryptionBackfill, err)
		}
		update.AccessToken = &encrypted
	}
	if cred.RefreshToken != nil && *cred.RefreshToken != "" && !crypto.IsEncrypted(*cred.RefreshToken) {
		encrypted, err := s.cipher.Encrypt(*cred.RefreshToken)
		if err != nil {
			return fmt.Errorf("%w: refresh token: %v", ErrEncryptionBackfill, err)
		}
		update.RefreshToken = &encrypted
	}

	if update.AccessToken == nil && update.RefreshToken == nil {
		return nil
	}

	err := s.repo.UpdateTokens(ctx, cred.UserID, cred.Provider, cred.Service, update)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionBackfill, err)
	}

	// Keep the in-memory row consistent with what was written.
	if update.AccessToken != nil {
		cred.AccessToken = *update.AccessToken
	}
	if update.RefreshToken != nil {
		cred.RefreshToken = update.RefreshToken
	}

	logrus.WithFields(logrus.Fields{
		"user_id": cred.UserID,
		"service": cred.Service,
	}).Info("Backfilled plaintext tokens to ciphertext")

	return nil
}

// SaveToken encrypts and persists a rotated token. An empty refresh token
// means the rotation omitted it, so the stored value is kept.
func (s *Store) SaveToken(ctx context.Context, userID, service string, token *oauth2.Token) error {
	encryptedAccess, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	update := repository.TokenUpdate{AccessToken: &encryptedAccess}
	if token.RefreshToken != "" {
		encryptedRefresh, err := s.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		update.RefreshToken = &encryptedRefresh
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		update.ExpiryDate = &expiry
	}

	if err := s.repo.UpdateTokens(ctx, userID, models.ProviderGoogle, service, update); err != nil {
		return fmt.Errorf("failed to persist rotated tokens: %w", err)
	}
	return nil
}
