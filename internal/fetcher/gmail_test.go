package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/ratelimit"
)

type fakeGmailAPI struct {
	pages     []*gmail.ListMessagesResponse
	listCalls int
	messages  map[string]*gmail.Message
	getErrs   map[string]error
}

func (f *fakeGmailAPI) ListMessages(_ context.Context, _ string, _ int64, pageToken string) (*gmail.ListMessagesResponse, error) {
	f.listCalls++
	idx := 0
	for i, page := range f.pages {
		if page.NextPageToken == pageToken && pageToken != "" {
			idx = i + 1
			break
		}
	}
	if idx >= len(f.pages) {
		return &gmail.ListMessagesResponse{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeGmailAPI) GetMessage(_ context.Context, id string) (*gmail.Message, error) {
	if err := f.getErrs[id]; err != nil {
		return nil, err
	}
	return f.messages[id], nil
}

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	t.Cleanup(l.Close)
	return l
}

func testRetry() RetryConfig {
	return RetryConfig{Attempts: 1, BaseDelay: time.Millisecond, CallTimeout: time.Second}
}

func TestBuildQuery(t *testing.T) {
	pref := &models.SyncPreference{
		GmailQuery:    "in:inbox -in:spam",
		IncludeLabels: "Primary",
		ExcludeLabels: "Promotions",
	}
	query := BuildQuery(pref)
	assert.Equal(t, "in:inbox -in:spam label:CATEGORY_PERSONAL -label:CATEGORY_PROMOTIONS", query)
}

func TestBuildQueryMultipleIncludes(t *testing.T) {
	pref := &models.SyncPreference{IncludeLabels: "Primary, Social"}
	assert.Equal(t, "(label:CATEGORY_PERSONAL OR label:CATEGORY_SOCIAL)", BuildQuery(pref))
}

func TestBuildQueryUnmappedLabelPassesThrough(t *testing.T) {
	pref := &models.SyncPreference{IncludeLabels: "Clients"}
	assert.Equal(t, "label:Clients", BuildQuery(pref))
}

func TestListMessageIDsFollowsContinuationToken(t *testing.T) {
	api := &fakeGmailAPI{
		pages: []*gmail.ListMessagesResponse{
			{
				Messages:      []*gmail.Message{{Id: "m1"}, {Id: "m2"}},
				NextPageToken: "page-2",
			},
			{
				Messages: []*gmail.Message{{Id: "m3"}},
			},
		},
	}
	f := NewGmailFetcher(api, newTestLimiter(t), "user-1", testRetry(), 100)

	ids, err := f.ListMessageIDs(context.Background(), "in:inbox", 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	// One continuation token means exactly two list calls.
	assert.Equal(t, 2, api.listCalls)
}

func TestListMessageIDsHonorsCap(t *testing.T) {
	api := &fakeGmailAPI{
		pages: []*gmail.ListMessagesResponse{
			{
				Messages:      []*gmail.Message{{Id: "m1"}, {Id: "m2"}, {Id: "m3"}},
				NextPageToken: "page-2",
			},
			{
				Messages: []*gmail.Message{{Id: "m4"}},
			},
		},
	}
	f := NewGmailFetcher(api, newTestLimiter(t), "user-1", testRetry(), 100)

	ids, err := f.ListMessageIDs(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)
	assert.Equal(t, 1, api.listCalls)
}

func TestFetchMessagesSettlesFailures(t *testing.T) {
	api := &fakeGmailAPI{
		messages: map[string]*gmail.Message{
			"m1": {Id: "m1"},
			"m3": {Id: "m3"},
		},
		getErrs: map[string]error{
			"m2": &googleapi.Error{Code: 404},
		},
	}
	f := NewGmailFetcher(api, newTestLimiter(t), "user-1", testRetry(), 100)

	fetched, failed := f.FetchMessages(context.Background(), []string{"m1", "m2", "m3"})
	assert.Len(t, fetched, 2)
	assert.Equal(t, 1, failed)
}

func TestMatchesLabels(t *testing.T) {
	primary := &gmail.Message{LabelIds: []string{"CATEGORY_PERSONAL", "INBOX"}}
	promo := &gmail.Message{LabelIds: []string{"CATEGORY_PROMOTIONS", "INBOX"}}
	both := &gmail.Message{LabelIds: []string{"CATEGORY_PERSONAL", "CATEGORY_PROMOTIONS"}}

	include := []string{"CATEGORY_PERSONAL"}
	exclude := []string{"CATEGORY_PROMOTIONS"}

	assert.True(t, MatchesLabels(primary, include, exclude))
	assert.False(t, MatchesLabels(promo, include, exclude))
	// Exclusion wins over inclusion.
	assert.False(t, MatchesLabels(both, include, exclude))

	// Empty include admits everything not excluded.
	assert.True(t, MatchesLabels(promo, nil, nil))
}

func TestMessageTimestampPrefersInternalDate(t *testing.T) {
	internal := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := &gmail.Message{
		InternalDate: internal.UnixMilli(),
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Date", Value: "Fri, 01 Mar 2024 08:00:00 +0000"},
			},
		},
	}
	assert.True(t, internal.Equal(MessageTimestamp(msg)))
}

func TestMessageTimestampFallsBackToDateHeader(t *testing.T) {
	msg := &gmail.Message{
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Date", Value: "Fri, 01 Mar 2024 08:00:00 +0000"},
			},
		},
	}
	expected := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.True(t, expected.Equal(MessageTimestamp(msg)))
}

func TestMessageTimestampFallsBackToNow(t *testing.T) {
	before := time.Now()
	got := MessageTimestamp(&gmail.Message{})
	assert.False(t, got.Before(before))
}

func TestGmailPreview(t *testing.T) {
	api := &fakeGmailAPI{
		pages: []*gmail.ListMessagesResponse{
			{Messages: []*gmail.Message{{Id: "m1"}, {Id: "m2"}}},
		},
		messages: map[string]*gmail.Message{
			"m1": {Id: "m1", Payload: &gmail.MessagePart{
				Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: "Invoice"}},
			}},
			"m2": {Id: "m2", Payload: &gmail.MessagePart{
				Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: "Session notes"}},
			}},
		},
	}
	f := NewGmailFetcher(api, newTestLimiter(t), "user-1", testRetry(), 100)

	preview, err := f.Preview(context.Background(), &models.SyncPreference{}, 25)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceGmail, preview.Provider)
	assert.Equal(t, 2, preview.Count)
	assert.ElementsMatch(t, []string{"Invoice", "Session notes"}, preview.Samples)
}
