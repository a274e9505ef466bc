package db

import (
	"time"

	"gorm.io/datatypes"
)

// Bucket is a named, typed stream of events from one watcher on one host.
// BucketID is the caller-facing identifier; the numeric ID is internal.
type Bucket struct {
	ID uint `gorm:"primaryKey" json:"-"`

	BucketID string `gorm:"uniqueIndex;size:255;not null" json:"id"`

	// Name is an optional display label; empty means "use BucketID".
	Name string `gorm:"size:255" json:"name,omitempty"`

	// Type tags the payload shape produced by the watcher
	// (e.g. "currentwindow", "afkstatus"). Not validated by the store.
	Type string `gorm:"size:128;not null" json:"type"`

	// Client is the originating watcher name.
	Client   string `gorm:"size:128" json:"client"`
	Hostname string `gorm:"size:255" json:"hostname"`

	Created time.Time `json:"created"`

	// Data holds open-ended bucket attributes (e.g. a schema reference).
	Data datatypes.JSONMap `gorm:"type:json" json:"data,omitempty"`
}

// Event is a single timestamped interval in a bucket. Duration is stored
// at microsecond resolution; the HTTP layer converts to/from seconds.
// The auto-increment ID doubles as the tie-breaker for events sharing a
// timestamp: retrieval order is always (timestamp DESC, id DESC).
type Event struct {
	ID uint `gorm:"primaryKey" json:"id"`

	BucketID string `gorm:"size:255;not null;index:idx_events_bucket_ts,priority:1" json:"-"`

	Timestamp time.Time `gorm:"not null;index:idx_events_bucket_ts,priority:2,sort:desc" json:"timestamp"`

	// DurationUs is the event duration in microseconds, never negative.
	DurationUs int64 `gorm:"not null" json:"duration_us"`

	// Chunk is the UTC month the event's timestamp falls in. It gives
	// retention and backfill pruning a coarse, indexed time partition to
	// cut on without scanning the hot (bucket, timestamp) index.
	Chunk time.Time `gorm:"index;not null" json:"-"`

	// Data is the bucket-type-specific payload. Structural equality of
	// this map decides heartbeat merge eligibility.
	Data datatypes.JSONMap `gorm:"type:json" json:"data"`
}

// Duration returns the event duration as a time.Duration.
func (e *Event) Duration() time.Duration {
	return time.Duration(e.DurationUs) * time.Microsecond
}

// SetDuration stores d truncated to microsecond resolution.
func (e *Event) SetDuration(d time.Duration) {
	e.DurationUs = d.Microseconds()
}

// End returns the instant the event's interval finishes.
func (e *Event) End() time.Time {
	return e.Timestamp.Add(e.Duration())
}

// KeyValue is a flat settings entry with last-write-wins semantics.
// Value is opaque JSON; the store never interprets it. The column is TEXT,
// not json: sqlite gives a json-typed column NUMERIC affinity, which
// coerces scalar values like 42 to INTEGER and breaks the scan back.
type KeyValue struct {
	Key       string         `gorm:"primaryKey;size:255" json:"key"`
	Value     datatypes.JSON `gorm:"type:text" json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// APIKey is the persisted record of an issued credential. Only the
// SHA-256 digest of the secret is stored; the plaintext exists solely on
// the IssuedKey returned by IssueAPIKey and is never serialized here.
type APIKey struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	KeyHash string `gorm:"uniqueIndex;size:64;not null" json:"-"`

	// ClientID is a human-assigned label, not required to be unique.
	ClientID    string `gorm:"size:128;index;not null" json:"client_id"`
	Description string `gorm:"size:255" json:"description,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// IsActive flips to false on revocation and never back.
	IsActive bool `gorm:"index;default:true" json:"is_active"`
}

// ActivityRollup stores pre-aggregated hourly activity per bucket for
// fast summary queries. Filled by the rollup worker.
type ActivityRollup struct {
	ID uint `gorm:"primaryKey" json:"-"`

	BucketID  string    `gorm:"uniqueIndex:idx_rollup_unique,priority:1;size:255;not null" json:"bucket_id"`
	HourStart time.Time `gorm:"uniqueIndex:idx_rollup_unique,priority:2;not null" json:"hour_start"` // start of the hour (UTC)

	EventCount      int64 `gorm:"not null" json:"event_count"`
	TotalDurationUs int64 `gorm:"not null" json:"total_duration_us"`
}
