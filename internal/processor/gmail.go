package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/gmail/v1"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/metrics"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

// GmailProcessor runs one Gmail sync job: list candidate messages, fetch
// detail in chunks, filter, persist raw events, and hand the batch off to
// normalization.
type GmailProcessor struct {
	clients   GmailClientProvider
	limiter   *ratelimit.Limiter
	rawEvents rawEventStore
	jobs      jobStore
	prefs     preferenceStore
	metrics   *metrics.Metrics
	cfg       config.SyncConfig
	now       func() time.Time
}

// NewGmailProcessor wires a Gmail sync processor.
func NewGmailProcessor(clients GmailClientProvider, limiter *ratelimit.Limiter, rawEvents rawEventStore, jobs jobStore, prefs preferenceStore, m *metrics.Metrics, cfg config.SyncConfig) *GmailProcessor {
	return &GmailProcessor{
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
func (p *GmailProcessor) Kind() string {
	return models.JobKindSyncGmail
}

// Run executes one sync job. Per-item failures are counted, not fatal;
// credential resolution and listing failures fail the job.
func (p *GmailProcessor) Run(ctx context.Context, job *models.Job) (*RunStats, error) {
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

	api, err := p.clients.GmailAPIFor(ctx, job.UserID)
	if err != nil {
		return stats, err
	}

	f := fetcher.NewGmailFetcher(api, p.limiter, job.UserID, p.retryConfig(), p.cfg.PageSize)

	since, err := p.rawEvents.LatestOccurredAt(ctx, job.UserID, models.ProviderGoogle)
	if err != nil {
		return stats, err
	}

	ids, err := f.ListMessageIDs(ctx, fetcher.BuildQuery(pref), p.cfg.MaxItemsPerRun)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(ids)

	include := fetcher.MapLabels(fetcher.ParseLabels(pref.IncludeLabels))
	exclude := fetcher.MapLabels(fetcher.ParseLabels(pref.ExcludeLabels))

	for offset := 0; offset < len(ids); offset += p.cfg.ChunkSize {
		// The deadline is checked at chunk boundaries only; a chunk in
		// flight is allowed to finish.
		if p.now().After(deadline) {
			stats.DeadlineHit = true
			p.metrics.DeadlineExits.WithLabelValues(job.Kind).Inc()
			log.WithField("processed", offset).Warn("Sync deadline exceeded, leaving remaining candidates for next run")
			break
		}

		end := offset + p.cfg.ChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		fetched, failed := f.FetchMessages(ctx, ids[offset:end])
		stats.Failed += failed
		p.metrics.ItemsFetched.WithLabelValues(job.Kind).Add(float64(len(fetched)))

		for _, msg := range fetched {
			if !fetcher.MatchesLabels(msg, include, exclude) {
				stats.Skipped++
				continue
			}
			occurredAt := fetcher.MessageTimestamp(msg)
			if !since.IsZero() && !occurredAt.After(since) {
				stats.Skipped++
				continue
			}

			if err := p.persistMessage(ctx, job.UserID, batchID, msg, occurredAt); err != nil {
				stats.Failed++
				log.WithFields(logrus.Fields{
					"message_id": msg.Id,
					"error":      err.Error(),
				}).Warn("Failed to persist message")
				continue
			}
			stats.Inserted++
		}

		if end < len(ids) && p.cfg.ChunkPause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(p.cfg.ChunkPause):
			}
		}
	}

	// The normalize job is enqueued unconditionally, even on a deadline
	// exit or an empty run, so downstream always observes the batch.
	if err := p.jobs.Enqueue(ctx, &models.Job{
		ID:      uuid.NewString(),
		UserID:  job.UserID,
		Kind:    models.JobKindNormalizeGmail,
		Status:  models.JobStatusPending,
		BatchID: batchID,
		Payload: fmt.Sprintf(`{"batch_id":%q}`, batchID),
	}); err != nil {
		return stats, fmt.Errorf("failed to enqueue normalize job: %w", err)
	}
	p.metrics.JobsEnqueued.WithLabelValues(models.JobKindNormalizeGmail).Inc()

	p.metrics.ItemsInserted.WithLabelValues(job.Kind).Add(float64(stats.Inserted))
	p.metrics.ItemsSkipped.WithLabelValues(job.Kind).Add(float64(stats.Skipped))
	p.metrics.ItemsFailed.WithLabelValues(job.Kind).Add(float64(stats.Failed))
	p.metrics.SyncDuration.WithLabelValues(job.Kind).Observe(p.now().Sub(start).Seconds())

	log.WithFields(logrus.Fields{
		"listed":   stats.Listed,
		"inserted": stats.Inserted,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
	}).Info("Gmail sync run finished")

	status = "success"
	return stats, nil
}

func (p *GmailProcessor) persistMessage(ctx context.Context, userID, batchID string, msg *gmail.Message, occurredAt time.Time) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	meta, err := json.Marshal(map[string]interface{}{
		"message_id": msg.Id,
		"thread_id":  msg.ThreadId,
		"labels":     msg.LabelIds,
		"snippet":    msg.Snippet,
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
		SourceID:   msg.Id,
	})
}

func (p *GmailProcessor) retryConfig() fetcher.RetryConfig {
	return fetcher.RetryConfig{
		Attempts:    p.cfg.RetryAttempts,
		BaseDelay:   p.cfg.RetryBaseDelay,
		CallTimeout: p.cfg.CallTimeout,
	}
}
