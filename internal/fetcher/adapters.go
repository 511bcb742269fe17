package fetcher

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// gmailAdapter wraps *gmail.Service behind the GmailAPI interface.
type gmailAdapter struct {
	svc *gmail.Service
}

// NewGmailAPI wraps a Gmail client for use by the fetcher.
func NewGmailAPI(svc *gmail.Service) GmailAPI {
	return &gmailAdapter{svc: svc}
}

func (a *gmailAdapter) ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*gmail.ListMessagesResponse, error) {
	call := a.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (a *gmailAdapter) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	return a.svc.Users.Messages.Get("me", id).
		Format("full").
		Context(ctx).
		Do()
}

// calendarAdapter wraps *calendar.Service behind the CalendarAPI interface.
type calendarAdapter struct {
	svc *calendar.Service
}

// NewCalendarAPI wraps a Calendar client for use by the fetcher.
func NewCalendarAPI(svc *calendar.Service) CalendarAPI {
	return &calendarAdapter{svc: svc}
}

func (a *calendarAdapter) ListEvents(ctx context.Context, timeMin, timeMax time.Time, pageSize int64, pageToken string) (*calendar.Events, error) {
	call := a.svc.Events.List("primary").
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}
