package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-google-sync-go/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.IntegrationCredential{},
		&models.RawEvent{},
		&models.Job{},
		&models.SyncPreference{},
	))
	return db
}

func strPtr(s string) *string { return &s }

func TestCredentialListAndUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewCredentialRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.IntegrationCredential{
		UserID:       "user-1",
		Provider:     models.ProviderGoogle,
		Service:      models.ServiceGmail,
		AccessToken:  "v1:access",
		RefreshToken: strPtr("v1:refresh"),
	}))
	require.NoError(t, repo.Create(ctx, &models.IntegrationCredential{
		UserID:      "user-1",
		Provider:    models.ProviderGoogle,
		Service:     models.ServiceCalendar,
		AccessToken: "v1:access-cal",
	}))

	creds, err := repo.ListByUserProvider(ctx, "user-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Omitted fields keep their stored values.
	require.NoError(t, repo.UpdateTokens(ctx, "user-1", models.ProviderGoogle, models.ServiceGmail, TokenUpdate{
		AccessToken: strPtr("v1:rotated"),
	}))

	creds, err = repo.ListByUserProvider(ctx, "user-1", models.ProviderGoogle)
	require.NoError(t, err)
	for _, cred := range creds {
		if cred.Service == models.ServiceGmail {
			assert.Equal(t, "v1:rotated", cred.AccessToken)
			require.NotNil(t, cred.RefreshToken)
			assert.Equal(t, "v1:refresh", *cred.RefreshToken)
		}
	}
}

func TestRawEventLatestOccurredAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewRawEventRepository(db)
	ctx := context.Background()

	since, err := repo.LatestOccurredAt(ctx, "user-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, since.IsZero())

	older := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, &models.RawEvent{
		ID: "e1", UserID: "user-1", Provider: models.ProviderGoogle,
		Payload: "{}", OccurredAt: older, BatchID: "b1", SourceID: "m1",
	}))
	require.NoError(t, repo.Insert(ctx, &models.RawEvent{
		ID: "e2", UserID: "user-1", Provider: models.ProviderGoogle,
		Payload: "{}", OccurredAt: newer, BatchID: "b1", SourceID: "m2",
	}))

	since, err = repo.LatestOccurredAt(ctx, "user-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, newer.Equal(since))

	count, err := repo.CountByBatch(ctx, "b1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestJobClaimPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j1", UserID: "user-1", Kind: models.JobKindSyncGmail,
	}))
	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j2", UserID: "user-1", Kind: models.JobKindSyncCalendar,
	}))
	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j3", UserID: "user-1", Kind: models.JobKindNormalizeGmail,
	}))

	kinds := []string{models.JobKindSyncGmail, models.JobKindSyncCalendar}
	claimed, err := repo.ClaimPending(ctx, kinds, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	for _, job := range claimed {
		assert.Equal(t, models.JobStatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
	}

	// A second poll finds nothing left to claim.
	claimed, err = repo.ClaimPending(ctx, kinds, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestJobLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j1", UserID: "user-1", Kind: models.JobKindSyncGmail,
	}))

	require.NoError(t, repo.MarkCompleted(ctx, "j1"))
	job, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.ProcessedAt)

	require.NoError(t, repo.MarkFailed(ctx, "j1", "boom"))
	job, err = repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "boom", *job.LastError)

	require.NoError(t, repo.Requeue(ctx, "j1", "transient"))
	job, err = repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobCountByKindStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j1", UserID: "user-1", Kind: models.JobKindSyncGmail,
	}))
	require.NoError(t, repo.Enqueue(ctx, &models.Job{
		ID: "j2", UserID: "user-2", Kind: models.JobKindSyncGmail,
	}))

	count, err := repo.CountByKindStatus(ctx, models.JobKindSyncGmail, models.JobStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestPreferenceGetFallsBackToDefaults(t *testing.T) {
	db := newTestDB(t)
	repo := NewPreferenceRepository(db)
	ctx := context.Background()

	pref, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", pref.UserID)
	assert.Equal(t, "in:inbox -in:spam", pref.GmailQuery)
	assert.Equal(t, 30, pref.CalendarDaysPast)
	assert.Equal(t, 60, pref.CalendarDaysFuture)
}

func TestPreferenceGetReturnsStoredRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewPreferenceRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.SyncPreference{
		UserID:        "user-1",
		GmailQuery:    "from:clients",
		IncludeLabels: "Primary",
	}).Error)

	pref, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "from:clients", pref.GmailQuery)
	assert.Equal(t, "Primary", pref.IncludeLabels)
}
