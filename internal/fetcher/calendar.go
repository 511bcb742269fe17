package fetcher

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

// CalendarAPI is the slice of the Calendar API the fetcher needs.
type CalendarAPI interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time, pageSize int64, pageToken string) (*calendar.Events, error)
}

// CalendarFetcher lists calendar events for one user over a symmetric
// window around now.
type CalendarFetcher struct {
	api      CalendarAPI
	limiter  *ratelimit.Limiter
	userID   string
	retry    RetryConfig
	pageSize int64
	now      func() time.Time
}

// NewCalendarFetcher creates a fetcher bound to one user's Calendar client.
func NewCalendarFetcher(api CalendarAPI, limiter *ratelimit.Limiter, userID string, retry RetryConfig, pageSize int64) *CalendarFetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &CalendarFetcher{
		api:      api,
		limiter:  limiter,
		userID:   userID,
		retry:    retry,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// ListEvents paginates events over (now − pastDays, now + futureDays) to
// exhaustion, capped at max, applying the preference filters.
func (f *CalendarFetcher) ListEvents(ctx context.Context, pref *models.SyncPreference, max int) ([]*calendar.Event, error) {
	now := f.now()
	timeMin := now.AddDate(0, 0, -pref.CalendarDaysPast)
	timeMax := now.AddDate(0, 0, pref.CalendarDaysFuture)

	var events []*calendar.Event
	pageToken := ""

	for {
		var resp *calendar.Events
		err := f.limiter.Do(ctx, f.userID, ratelimit.OpCalendarRead, 1, func() error {
			return withRetry(ctx, f.retry, func(callCtx context.Context) error {
				var listErr error
				resp, listErr = f.api.ListEvents(callCtx, timeMin, timeMax, f.pageSize, pageToken)
				return listErr
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		for _, event := range resp.Items {
			if !MatchesEventFilters(event, pref) {
				continue
			}
			events = append(events, event)
			if len(events) >= max {
				return events, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return events, nil
		}
	}
}

// MatchesEventFilters applies the organizer and visibility preference
// filters to one event.
func MatchesEventFilters(event *calendar.Event, pref *models.SyncPreference) bool {
	if pref.IncludeOrganizerSelf {
		if event.Organizer == nil || !event.Organizer.Self {
			return false
		}
	}
	if !pref.IncludePrivate && event.Visibility == "private" {
		return false
	}
	return true
}

// EventTimestamp extracts when an event occurs, using the start time and
// tolerating all-day events, falling back to the current time.
func EventTimestamp(event *calendar.Event) time.Time {
	if event.Start != nil {
		if event.Start.DateTime != "" {
			if parsed, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
				return parsed
			}
		}
		if event.Start.Date != "" {
			if parsed, err := time.Parse("2006-01-02", event.Start.Date); err == nil {
				return parsed
			}
		}
	}
	return time.Now()
}

// Preview samples a bounded subset of candidate events and reports the
// count plus example titles.
func (f *CalendarFetcher) Preview(ctx context.Context, pref *models.SyncPreference, limit int) (*models.PreviewResponse, error) {
	events, err := f.ListEvents(ctx, pref, limit)
	if err != nil {
		return nil, err
	}

	samples := make([]string, 0, len(events))
	for _, event := range events {
		if event.Summary != "" {
			samples = append(samples, event.Summary)
		}
	}

	return &models.PreviewResponse{
		Provider: models.ServiceCalendar,
		Count:    len(events),
		Samples:  samples,
	}, nil
}
