package models

import (
	"time"

	"gorm.io/gorm"
)

// Provider and service identifiers for Google integrations.
const (
	ProviderGoogle  = "google"
	ServiceGmail    = "gmail"
	ServiceCalendar = "calendar"
)

// Job kinds produced and consumed by this service. The normalize kinds are
// consumed by the downstream normalization worker.
const (
	JobKindSyncGmail         = "sync_google_email"
	JobKindSyncCalendar      = "sync_google_event"
	JobKindNormalizeGmail    = "normalize_google_email"
	JobKindNormalizeCalendar = "normalize_google_event"
)

// Job statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IntegrationCredential stores one OAuth grant per (user, provider, service).
// Access and refresh tokens are ciphertext; plaintext never reaches the database.
type IntegrationCredential struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       string         `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_user_provider_service"`
	Provider     string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:idx_user_provider_service"`
	Service      string         `json:"service" gorm:"type:varchar(32);not null;uniqueIndex:idx_user_provider_service"`
	AccessToken  string         `json:"-" gorm:"type:text;not null"`
	RefreshToken *string        `json:"-" gorm:"type:text"`
	ExpiryDate   *time.Time     `json:"expiry_date"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for IntegrationCredential
func (IntegrationCredential) TableName() string {
	return "integration_credentials"
}

// RawEvent is one ingested provider item, stored verbatim pending
// normalization. Insertion is append-only during sync.
type RawEvent struct {
	ID         string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID     string         `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Provider   string         `json:"provider" gorm:"type:varchar(32);not null;index:idx_user_provider_occurred,priority:2"`
	Payload    string         `json:"payload" gorm:"type:longtext;not null"`
	OccurredAt time.Time      `json:"occurred_at" gorm:"index:idx_user_provider_occurred,priority:3"`
	ContactID  *string        `json:"contact_id" gorm:"type:varchar(36);index"`
	BatchID    string         `json:"batch_id" gorm:"type:varchar(36);not null;index"`
	SourceMeta string         `json:"source_meta" gorm:"type:text"`
	SourceID   string         `json:"source_id" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for RawEvent
func (RawEvent) TableName() string {
	return "raw_events"
}

// Job is a unit of background work. Sync jobs are claimed by the scheduler;
// normalize jobs are handed off to the downstream stage.
type Job struct {
	ID          string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID      string         `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Kind        string         `json:"kind" gorm:"type:varchar(64);not null;index:idx_kind_status,priority:1"`
	Status      string         `json:"status" gorm:"type:varchar(32);not null;index:idx_kind_status,priority:2"`
	Payload     string         `json:"payload" gorm:"type:text"`
	BatchID     string         `json:"batch_id" gorm:"type:varchar(36);index"`
	Attempts    int            `json:"attempts" gorm:"default:0"`
	LastError   *string        `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ProcessedAt *time.Time     `json:"processed_at"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Job
func (Job) TableName() string {
	return "jobs"
}

// SyncPreference holds a user's sync filters. Owned by the settings feature;
// read-only from this service's perspective.
type SyncPreference struct {
	ID                   uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID               string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	GmailQuery           string    `json:"gmail_query" gorm:"type:varchar(512)"`
	IncludeLabels        string    `json:"include_labels" gorm:"type:varchar(512)"`
	ExcludeLabels        string    `json:"exclude_labels" gorm:"type:varchar(512)"`
	CalendarDaysPast     int       `json:"calendar_days_past" gorm:"default:30"`
	CalendarDaysFuture   int       `json:"calendar_days_future" gorm:"default:60"`
	IncludeOrganizerSelf bool      `json:"include_organizer_self" gorm:"default:false"`
	IncludePrivate       bool      `json:"include_private" gorm:"default:false"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName specifies the table name for SyncPreference
func (SyncPreference) TableName() string {
	return "sync_preferences"
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SyncTriggerResponse is returned when a sync job is enqueued
type SyncTriggerResponse struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// PreviewResponse summarizes a bounded sample of candidate items so the user
// can confirm filters before approving a full sync.
type PreviewResponse struct {
	Provider string   `json:"provider"`
	Count    int      `json:"count"`
	Samples  []string `json:"samples"`
}
