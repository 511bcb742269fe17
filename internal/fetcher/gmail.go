package fetcher

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/gmail/v1"

	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

// GmailAPI is the slice of the Gmail API the fetcher needs. Production code
// wraps *gmail.Service; tests fake pagination with it.
type GmailAPI interface {
	ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*gmail.ListMessagesResponse, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// GmailFetcher lists and fetches Gmail messages for one user, with every
// provider call going through the rate limiter and the retry helper.
type GmailFetcher struct {
	api      GmailAPI
	limiter  *ratelimit.Limiter
	userID   string
	retry    RetryConfig
	pageSize int64
}

// NewGmailFetcher creates a fetcher bound to one user's Gmail client.
func NewGmailFetcher(api GmailAPI, limiter *ratelimit.Limiter, userID string, retry RetryConfig, pageSize int64) *GmailFetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &GmailFetcher{
		api:      api,
		limiter:  limiter,
		userID:   userID,
		retry:    retry,
		pageSize: pageSize,
	}
}

// BuildQuery combines a user's base query with include and exclude label
// terms. Multiple include labels are OR-ed; excludes are negated.
func BuildQuery(pref *models.SyncPreference) string {
	parts := []string{}
	if q := strings.TrimSpace(pref.GmailQuery); q != "" {
		parts = append(parts, q)
	}

	includes := ParseLabels(pref.IncludeLabels)
	if len(includes) == 1 {
		parts = append(parts, "label:"+MapLabel(includes[0]))
	} else if len(includes) > 1 {
		terms := make([]string, 0, len(includes))
		for _, name := range includes {
			terms = append(terms, "label:"+MapLabel(name))
		}
		parts = append(parts, "("+strings.Join(terms, " OR ")+")")
	}

	for _, name := range ParseLabels(pref.ExcludeLabels) {
		parts = append(parts, "-label:"+MapLabel(name))
	}

	return strings.Join(parts, " ")
}

// ParseLabels splits a comma-separated label list, trimming whitespace.
func ParseLabels(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ListMessageIDs paginates the message listing to exhaustion, capped at max
// ids.
func (f *GmailFetcher) ListMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		var resp *gmail.ListMessagesResponse
		err := f.limiter.Do(ctx, f.userID, ratelimit.OpGmailMetadata, 1, func() error {
			return withRetry(ctx, f.retry, func(callCtx context.Context) error {
				var listErr error
				resp, listErr = f.api.ListMessages(callCtx, query, f.pageSize, pageToken)
				return listErr
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
			if len(ids) >= max {
				return ids, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

// FetchMessages fetches message detail concurrently and settles every
// fetch: failures are counted and logged, never fatal to the batch.
func (f *GmailFetcher) FetchMessages(ctx context.Context, ids []string) ([]*gmail.Message, int) {
	messages := make([]*gmail.Message, len(ids))
	failures := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			err := f.limiter.Do(ctx, f.userID, ratelimit.OpGmailRead, 1, func() error {
				return withRetry(ctx, f.retry, func(callCtx context.Context) error {
					msg, getErr := f.api.GetMessage(callCtx, id)
					if getErr != nil {
						return getErr
					}
					messages[i] = msg
					return nil
				})
			})
			failures[i] = err
		}(i, id)
	}
	wg.Wait()

	var fetched []*gmail.Message
	failed := 0
	for i := range ids {
		if failures[i] != nil {
			failed++
			logrus.WithFields(logrus.Fields{
				"user_id":    f.userID,
				"message_id": ids[i],
				"error":      failures[i].Error(),
			}).Warn("Failed to fetch message")
			continue
		}
		fetched = append(fetched, messages[i])
	}

	return fetched, failed
}

// MatchesLabels applies include/exclude label filters to a fetched message.
// Include and exclude lists hold provider label identifiers.
func MatchesLabels(msg *gmail.Message, include, exclude []string) bool {
	labels := make(map[string]bool, len(msg.LabelIds))
	for _, id := range msg.LabelIds {
		labels[id] = true
	}

	for _, id := range exclude {
		if labels[id] {
			return false
		}
	}

	if len(include) == 0 {
		return true
	}
	for _, id := range include {
		if labels[id] {
			return true
		}
	}
	return false
}

// MessageTimestamp extracts when a message occurred, preferring the
// provider's internal timestamp over the parsed Date header, and falling
// back to the current time when neither is usable.
func MessageTimestamp(msg *gmail.Message) time.Time {
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			if header.Name != "Date" {
				continue
			}
			if parsed, err := mail.ParseDate(header.Value); err == nil {
				return parsed
			}
		}
	}

	return time.Now()
}

// MessageSubject extracts the Subject header, empty when absent.
func MessageSubject(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	for _, header := range msg.Payload.Headers {
		if header.Name == "Subject" {
			return header.Value
		}
	}
	return ""
}

// Preview samples a bounded subset of candidate messages and reports the
// count plus example subjects so the user can confirm filters before a full
// sync.
func (f *GmailFetcher) Preview(ctx context.Context, pref *models.SyncPreference, limit int) (*models.PreviewResponse, error) {
	ids, err := f.ListMessageIDs(ctx, BuildQuery(pref), limit)
	if err != nil {
		return nil, err
	}

	fetched, _ := f.FetchMessages(ctx, ids)

	samples := make([]string, 0, len(fetched))
	for _, msg := range fetched {
		if subject := MessageSubject(msg); subject != "" {
			samples = append(samples, subject)
		}
	}

	return &models.PreviewResponse{
		Provider: models.ServiceGmail,
		Count:    len(ids),
		Samples:  samples,
	}, nil
}
