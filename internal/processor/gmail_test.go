package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/metrics"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

type fakeGmailAPI struct {
	messages []*gmail.Message
}

func (f *fakeGmailAPI) ListMessages(context.Context, string, int64, string) (*gmail.ListMessagesResponse, error) {
	resp := &gmail.ListMessagesResponse{}
	for _, msg := range f.messages {
		resp.Messages = append(resp.Messages, &gmail.Message{Id: msg.Id})
	}
	return resp, nil
}

func (f *fakeGmailAPI) GetMessage(_ context.Context, id string) (*gmail.Message, error) {
	for _, msg := range f.messages {
		if msg.Id == id {
			return msg, nil
		}
	}
	return nil, errors.New("message not found")
}

type fakeGmailClients struct {
	api fetcher.GmailAPI
	err error
}

func (f *fakeGmailClients) GmailAPIFor(context.Context, string) (fetcher.GmailAPI, error) {
	return f.api, f.err
}

type fakeRawEvents struct {
	since     time.Time
	inserted  []*models.RawEvent
	insertErr error
}

func (f *fakeRawEvents) Insert(_ context.Context, event *models.RawEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeRawEvents) LatestOccurredAt(context.Context, string, string) (time.Time, error) {
	return f.since, nil
}

type fakeJobs struct {
	enqueued []*models.Job
}

func (f *fakeJobs) Enqueue(_ context.Context, job *models.Job) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fakePrefs struct {
	pref *models.SyncPreference
	err  error
}

func (f *fakePrefs) Get(_ context.Context, userID string) (*models.SyncPreference, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.pref != nil {
		return f.pref, nil
	}
	return &models.SyncPreference{UserID: userID}, nil
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxItemsPerRun: 500,
		ChunkSize:      10,
		Deadline:       4 * time.Minute,
		ChunkPause:     0,
		PageSize:       100,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func testProcLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	t.Cleanup(l.Close)
	return l
}

func messageAt(id, label string, at time.Time) *gmail.Message {
	return &gmail.Message{
		Id:           id,
		LabelIds:     []string{label, "INBOX"},
		InternalDate: at.UnixMilli(),
	}
}

func TestGmailRunFiltersLabelsAndSinceBound(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeGmailAPI{messages: []*gmail.Message{
		messageAt("m1", "CATEGORY_PERSONAL", since.Add(time.Hour)),
		messageAt("m2", "CATEGORY_PROMOTIONS", since.Add(time.Hour)),
		messageAt("m3", "CATEGORY_PERSONAL", since.Add(-time.Hour)),
	}}
	rawEvents := &fakeRawEvents{since: since}
	jobs := &fakeJobs{}
	prefs := &fakePrefs{pref: &models.SyncPreference{
		IncludeLabels: "Primary",
		ExcludeLabels: "Promotions",
	}}

	m := testMetrics()
	p := NewGmailProcessor(&fakeGmailClients{api: api}, testProcLimiter(t), rawEvents, jobs, prefs, m, testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncGmail,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues(models.JobKindSyncGmail, "success")))

	require.Len(t, rawEvents.inserted, 1)
	inserted := rawEvents.inserted[0]
	assert.Equal(t, "m1", inserted.SourceID)
	assert.Equal(t, models.ProviderGoogle, inserted.Provider)
	assert.Equal(t, stats.BatchID, inserted.BatchID)

	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, models.JobKindNormalizeGmail, jobs.enqueued[0].Kind)
	assert.Equal(t, stats.BatchID, jobs.enqueued[0].BatchID)

	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
}

func TestGmailRunEnqueuesNormalizeJobOnEmptyRun(t *testing.T) {
	rawEvents := &fakeRawEvents{}
	jobs := &fakeJobs{}

	p := NewGmailProcessor(&fakeGmailClients{api: &fakeGmailAPI{}}, testProcLimiter(t), rawEvents, jobs, &fakePrefs{}, testMetrics(), testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncGmail,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Empty(t, rawEvents.inserted)
	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, models.JobKindNormalizeGmail, jobs.enqueued[0].Kind)
}

func TestGmailRunDeadlineExitsEarlyAndStillEnqueues(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeGmailAPI{messages: []*gmail.Message{
		messageAt("m1", "CATEGORY_PERSONAL", now.Add(time.Hour)),
		messageAt("m2", "CATEGORY_PERSONAL", now.Add(time.Hour)),
		messageAt("m3", "CATEGORY_PERSONAL", now.Add(time.Hour)),
	}}
	rawEvents := &fakeRawEvents{}
	jobs := &fakeJobs{}

	cfg := testSyncConfig()
	cfg.ChunkSize = 1
	cfg.Deadline = 90 * time.Second

	p := NewGmailProcessor(&fakeGmailClients{api: api}, testProcLimiter(t), rawEvents, jobs, &fakePrefs{}, testMetrics(), cfg)

	// Each clock read advances a minute, so the second chunk boundary falls
	// past the 90s deadline.
	clock := now
	p.now = func() time.Time {
		current := clock
		clock = clock.Add(time.Minute)
		return current
	}

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncGmail,
	})
	require.NoError(t, err)

	assert.True(t, stats.DeadlineHit)
	assert.Less(t, stats.Inserted, 3)
	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, models.JobKindNormalizeGmail, jobs.enqueued[0].Kind)
}

func TestGmailRunFailsOnCredentialError(t *testing.T) {
	credErr := errors.New("google account not connected")
	jobs := &fakeJobs{}

	m := testMetrics()
	p := NewGmailProcessor(&fakeGmailClients{err: credErr}, testProcLimiter(t), &fakeRawEvents{}, jobs, &fakePrefs{}, m, testSyncConfig())

	_, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncGmail,
	})
	assert.ErrorIs(t, err, credErr)
	assert.Empty(t, jobs.enqueued)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues(models.JobKindSyncGmail, "error")))
}

func TestGmailRunCountsPersistFailures(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeGmailAPI{messages: []*gmail.Message{
		messageAt("m1", "CATEGORY_PERSONAL", since.Add(time.Hour)),
	}}
	rawEvents := &fakeRawEvents{insertErr: errors.New("db down")}
	jobs := &fakeJobs{}

	p := NewGmailProcessor(&fakeGmailClients{api: api}, testProcLimiter(t), rawEvents, jobs, &fakePrefs{}, testMetrics(), testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncGmail,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Inserted)
	// Item-level failures never suppress the handoff.
	require.Len(t, jobs.enqueued, 1)
}
