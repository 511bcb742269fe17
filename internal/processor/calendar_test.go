package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/models"
)

type fakeCalendarAPI struct {
	events []*calendar.Event
}

func (f *fakeCalendarAPI) ListEvents(context.Context, time.Time, time.Time, int64, string) (*calendar.Events, error) {
	return &calendar.Events{Items: f.events}, nil
}

type fakeCalendarClients struct {
	api fetcher.CalendarAPI
	err error
}

func (f *fakeCalendarClients) CalendarAPIFor(context.Context, string) (fetcher.CalendarAPI, error) {
	return f.api, f.err
}

func eventAt(id string, self bool, visibility string, at time.Time) *calendar.Event {
	return &calendar.Event{
		Id:         id,
		Organizer:  &calendar.EventOrganizer{Self: self},
		Visibility: visibility,
		Start:      &calendar.EventDateTime{DateTime: at.Format(time.RFC3339)},
	}
}

func TestCalendarRunAppliesOrganizerAndVisibilityFilters(t *testing.T) {
	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	api := &fakeCalendarAPI{events: []*calendar.Event{
		eventAt("e1", true, "", base),
		eventAt("e2", false, "", base.Add(time.Hour)),
		eventAt("e3", true, "private", base.Add(2*time.Hour)),
		eventAt("e4", true, "", base.Add(3*time.Hour)),
	}}
	rawEvents := &fakeRawEvents{}
	jobs := &fakeJobs{}
	prefs := &fakePrefs{pref: &models.SyncPreference{
		CalendarDaysPast:     30,
		CalendarDaysFuture:   60,
		IncludeOrganizerSelf: true,
		IncludePrivate:       false,
	}}

	m := testMetrics()
	p := NewCalendarProcessor(&fakeCalendarClients{api: api}, testProcLimiter(t), rawEvents, jobs, prefs, m, testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncCalendar,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues(models.JobKindSyncCalendar, "success")))

	require.Len(t, rawEvents.inserted, 2)
	assert.Equal(t, "e1", rawEvents.inserted[0].SourceID)
	assert.Equal(t, "e4", rawEvents.inserted[1].SourceID)

	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, models.JobKindNormalizeCalendar, jobs.enqueued[0].Kind)
	assert.Equal(t, stats.BatchID, jobs.enqueued[0].BatchID)

	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 2, stats.Listed)
}

func TestCalendarRunAppliesSinceBound(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeCalendarAPI{events: []*calendar.Event{
		eventAt("e1", true, "", since.Add(-time.Hour)),
		eventAt("e2", true, "", since.Add(time.Hour)),
	}}
	rawEvents := &fakeRawEvents{since: since}
	jobs := &fakeJobs{}
	prefs := &fakePrefs{pref: &models.SyncPreference{
		CalendarDaysPast:   30,
		CalendarDaysFuture: 60,
		IncludePrivate:     true,
	}}

	p := NewCalendarProcessor(&fakeCalendarClients{api: api}, testProcLimiter(t), rawEvents, jobs, prefs, testMetrics(), testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncCalendar,
	})
	require.NoError(t, err)

	require.Len(t, rawEvents.inserted, 1)
	assert.Equal(t, "e2", rawEvents.inserted[0].SourceID)
	assert.Equal(t, 1, stats.Skipped)
}

func TestCalendarRunFailsOnPreferenceError(t *testing.T) {
	prefErr := errors.New("db down")
	jobs := &fakeJobs{}

	p := NewCalendarProcessor(&fakeCalendarClients{api: &fakeCalendarAPI{}}, testProcLimiter(t), &fakeRawEvents{}, jobs, &fakePrefs{err: prefErr}, testMetrics(), testSyncConfig())

	_, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncCalendar,
	})
	assert.ErrorIs(t, err, prefErr)
	assert.Empty(t, jobs.enqueued)
}

func TestCalendarRunEnqueuesNormalizeJobOnEmptyRun(t *testing.T) {
	jobs := &fakeJobs{}
	prefs := &fakePrefs{pref: &models.SyncPreference{
		CalendarDaysPast:   30,
		CalendarDaysFuture: 60,
		IncludePrivate:     true,
	}}

	p := NewCalendarProcessor(&fakeCalendarClients{api: &fakeCalendarAPI{}}, testProcLimiter(t), &fakeRawEvents{}, jobs, prefs, testMetrics(), testSyncConfig())

	stats, err := p.Run(context.Background(), &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Kind:   models.JobKindSyncCalendar,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	require.Len(t, jobs.enqueued, 1)
}
