package processor

import (
	"context"
	"time"

	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/models"
)

// GmailClientProvider builds a per-user Gmail API surface.
type GmailClientProvider interface {
	GmailAPIFor(ctx context.Context, userID string) (fetcher.GmailAPI, error)
}

// CalendarClientProvider builds a per-user Calendar API surface.
type CalendarClientProvider interface {
	CalendarAPIFor(ctx context.Context, userID string) (fetcher.CalendarAPI, error)
}

// rawEventStore is the raw-event repository surface processors need.
type rawEventStore interface {
	Insert(ctx context.Context, event *models.RawEvent) error
	LatestOccurredAt(ctx context.Context, userID, provider string) (time.Time, error)
}

// jobStore is the job repository surface processors need.
type jobStore interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// preferenceStore resolves per-user sync preferences.
type preferenceStore interface {
	Get(ctx context.Context, userID string) (*models.SyncPreference, error)
}

// RunStats summarizes one sync run.
type RunStats struct {
	BatchID     string
	Listed      int
	Inserted    int
	Skipped     int
	Failed      int
	DeadlineHit bool
}
