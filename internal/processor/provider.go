package processor

import (
	"context"

	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/googleauth"
)

// GoogleClients adapts the OAuth client builder to the provider interfaces
// the processors consume.
type GoogleClients struct {
	builder *googleauth.Builder
}

// NewGoogleClients wraps the client builder.
func NewGoogleClients(builder *googleauth.Builder) *GoogleClients {
	return &GoogleClients{builder: builder}
}

// GmailAPIFor builds a Gmail API surface for the user.
func (g *GoogleClients) GmailAPIFor(ctx context.Context, userID string) (fetcher.GmailAPI, error) {
	svc, err := g.builder.Gmail(ctx, userID)
	if err != nil {
		return nil, err
	}
	return fetcher.NewGmailAPI(svc), nil
}

// CalendarAPIFor builds a Calendar API surface for the user.
func (g *GoogleClients) CalendarAPIFor(ctx context.Context, userID string) (fetcher.CalendarAPI, error) {
	svc, err := g.builder.Calendar(ctx, userID)
	if err != nil {
		return nil, err
	}
	return fetcher.NewCalendarAPI(svc), nil
}
