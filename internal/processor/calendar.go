package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/metrics"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

// CalendarProcessor runs one Calendar sync job over the user's configured
// time window.
type CalendarProcessor struct {
	clients   CalendarClientProvider
	limiter   *ratelimit.Limiter
	rawEvents rawEventStore
	jobs      jobStore
	prefs     preferenceStore
	metrics   *metrics.Metrics
	cfg       config.SyncConfig
	now       func() time.Time
}

// NewCalendarProcessor wires a Calendar sync processor.
func NewCalendarProcessor(clients CalendarClientProvider, limiter *ratelimit.Limiter, rawEvents rawEventStore, jobs jobStore, prefs preferenceStore, m *metrics.Metrics, cfg config.SyncConfig) *CalendarProcessor {
	return &CalendarProcessor{
		clients:   clients,
		limiter:   limiter,
		rawEvents: rawEvents,
		jobs:      jobs,
		prefs:     prefs,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Kind reports the job kind this processor handles.
func (p *CalendarProcessor) Kind() string {
	return models.JobKindSyncCalendar
}

// Run executes one sync job. Eligible events come pre-filtered from the
// fetcher; the since-bound and persistence happen per item in chunks.
func (p *CalendarProcessor) Run(ctx context.Context, job *models.Job) (*RunStats, error) {
	start := p.now()
	deadline := start.Add(p.cfg.Deadline)

	batchID := job.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	stats := &RunStats{BatchID: batchID}

	status := "error"
	defer func() {
		p.metrics.SyncRuns.WithLabelValues(job.Kind, status).Inc()
	}()

	log := logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"user_id":  job.UserID,
		"batch_id": batchID,
		"kind":     job.Kind,
	})

	pref, err := p.prefs.Get(ctx, job.UserID)
	if err != nil {
		return stats, fmt.Errorf("failed to resolve preferences: %w", err)
	}

	api, err := p.clients.CalendarAPIFor(ctx, job.UserID)
	if err != nil {
		return stats, err
	}

	f := fetcher.NewCalendarFetcher(api, p.limiter, job.UserID, fetcher.RetryConfig{
		Attempts:    p.cfg.RetryAttempts,
		BaseDelay:   p.cfg.RetryBaseDelay,
		CallTimeout: p.cfg.CallTimeout,
	}, p.cfg.PageSize)

	since, err := p.rawEvents.LatestOccurredAt(ctx, job.UserID, models.ProviderGoogle)
	if err != nil {
		return stats, err
	}

	events, err := f.ListEvents(ctx, pref, p.cfg.MaxItemsPerRun)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(events)
	p.metrics.ItemsFetched.WithLabelValues(job.Kind).Add(float64(len(events)))

	for offset := 0; offset < len(events); offset += p.cfg.ChunkSize {
		if p.now().After(deadline) {
			stats.DeadlineHit = true
			p.metrics.DeadlineExits.WithLabelValues(job.Kind).Inc()
			log.WithField("processed", offset).Warn("Sync deadline exceeded, leaving remaining candidates for next run")
			break
		}

		end := offset + p.cfg.ChunkSize
		if end > len(events) {
			end = len(events)
		}

		for _, event := range events[offset:end] {
			occurredAt := fetcher.EventTimestamp(event)
			if !since.IsZero() && !occurredAt.After(since) {
				stats.Skipped++
				continue
			}

			if err := p.persistEvent(ctx, job.UserID, batchID, event, occurredAt); err != nil {
				stats.Failed++
				log.WithFields(logrus.Fields{
					"event_id": event.Id,
					"error":    err.Error(),
				}).Warn("Failed to persist event")
				continue
			}
			stats.Inserted++
		}

		if end < len(events) && p.cfg.ChunkPause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(p.cfg.ChunkPause):
			}
		}
	}

	if err := p.jobs.Enqueue(ctx, &models.Job{
		ID:      uuid.NewString(),
		UserID:  job.UserID,
		Kind:    models.JobKindNormalizeCalendar,
		Status:  models.JobStatusPending,
		BatchID: batchID,
		Payload: fmt.Sprintf(`{"batch_id":%q}`, batchID),
	}); err != nil {
		return stats, fmt.Errorf("failed to enqueue normalize job: %w", err)
	}
	p.metrics.JobsEnqueued.WithLabelValues(models.JobKindNormalizeCalendar).Inc()

	p.metrics.ItemsInserted.WithLabelValues(job.Kind).Add(float64(stats.Inserted))
	p.metrics.ItemsSkipped.WithLabelValues(job.Kind).Add(float64(stats.Skipped))
	p.metrics.ItemsFailed.WithLabelValues(job.Kind).Add(float64(stats.Failed))
	p.metrics.SyncDuration.WithLabelValues(job.Kind).Observe(p.now().Sub(start).Seconds())

	log.WithFields(logrus.Fields{
		"listed":   stats.Listed,
		"inserted": stats.Inserted,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
	}).Info("Calendar sync run finished")

	status = "success"
	return stats, nil
}

func (p *CalendarProcessor) persistEvent(ctx context.Context, userID, batchID string, event *calendar.Event, occurredAt time.Time) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	meta, err := json.Marshal(map[string]interface{}{
		"event_id":   event.Id,
		"summary":    event.Summary,
		"status":     event.Status,
		"visibility": event.Visibility,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal source meta: %w", err)
	}

	return p.rawEvents.Insert(ctx, &models.RawEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Provider:   models.ProviderGoogle,
		Payload:    string(payload),
		OccurredAt: occurredAt,
		BatchID:    batchID,
		SourceMeta: string(meta),
		SourceID:   event.Id,
	})
}
