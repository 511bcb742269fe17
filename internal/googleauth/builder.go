package googleauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"crm-google-sync-go/internal/models"
)

var gmailScopes = []string{gmail.GmailReadonlyScope, gmail.GmailSendScope}

var calendarScopes = []string{calendar.CalendarReadonlyScope}

// Builder constructs per-user Google API clients backed by stored
// credentials. Every client refreshes through a persisting token source, so
// rotated tokens land back in the database.
type Builder struct {
	store        *Store
	clientID     string
	clientSecret string
}

// NewBuilder creates a client builder.
func NewBuilder(store *Store, clientID, clientSecret string) *Builder {
	return &Builder{
		store:        store,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Gmail builds a Gmail client for the user.
func (b *Builder) Gmail(ctx context.Context, userID string) (*gmail.Service, error) {
	ts, err := b.tokenSource(ctx, userID, models.ServiceGmail, gmailScopes)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

// Calendar builds a Calendar client for the user.
func (b *Builder) Calendar(ctx context.Context, userID string) (*calendar.Service, error) {
	ts, err := b.tokenSource(ctx, userID, models.ServiceCalendar, calendarScopes)
	if err != nil {
		return nil, err
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

func (b *Builder) tokenSource(ctx context.Context, userID, service string, scopes []string) (oauth2.TokenSource, error) {
	token, err := b.store.Token(ctx, userID, service)
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     b.clientID,
		ClientSecret: b.clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}

	return &persistingTokenSource{
		ctx:     ctx,
		base:    conf.TokenSource(ctx, token),
		store:   b.store,
		userID:  userID,
		service: service,
		last:    token.AccessToken,
	}, nil
}

// persistingTokenSource writes rotated tokens back to the store before
// handing them to the caller. The refresh flow often omits the refresh
// token; SaveToken preserves the stored one in that case.
type persistingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	store   *Store
	userID  string
	service string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token.AccessToken != p.last {
		if err := p.store.SaveToken(p.ctx, p.userID, p.service, token); err != nil {
			return nil, err
		}
		p.last = token.AccessToken
	}

	return token, nil
}
