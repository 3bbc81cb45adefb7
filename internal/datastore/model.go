// model.go defines the persistent data model for the scrobble queue and
// delivery history.
package datastore

import "time"

// Queue entry states. Pending entries are picked up by the delivery loop,
// InFlight marks an attempt in progress, Failed entries wait for their next
// retry. Delivered and Abandoned entries leave the queue table entirely.
const (
	StatePending  = "pending"
	StateInFlight = "in_flight"
	StateFailed   = "failed"
)

// ScrobbleQueueEntry is a confirmed play awaiting delivery. The queue table
// is the single source of truth for pending scrobbles and must survive
// process crashes.
type ScrobbleQueueEntry struct {
	ID           uint   `gorm:"primaryKey"`
	Artist       string `gorm:"not null"`
	Title        string `gorm:"not null"`
	Album        string
	Provider     string
	Confidence   float64
	Fingerprint  string        `gorm:"index:idx_queue_fingerprint"`
	PlayedAt     time.Time     `gorm:"index:idx_queue_played_at;not null"`
	PlayDuration time.Duration // how long the track was actually heard
	AttemptCount int           // delivery attempts so far, monotonically increasing
	NextRetryAt  time.Time     `gorm:"index:idx_queue_state_retry"`
	State        string        `gorm:"index:idx_queue_state_retry;type:varchar(20);not null"`
	LastError    string        `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScrobbleRecord is the delivery history for a successfully submitted play.
type ScrobbleRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Artist       string `gorm:"index:idx_scrobbles_artist;not null"`
	Title        string `gorm:"not null"`
	Album        string
	Provider     string
	Confidence   float64
	PlayedAt     time.Time `gorm:"index:idx_scrobbles_played_at;not null"`
	ScrobbledAt  time.Time `gorm:"index:idx_scrobbles_scrobbled_at;not null"`
	PlayDuration time.Duration
	AttemptCount int // attempts it took to deliver
}

// DeadLetterEntry preserves an abandoned queue entry for inspection after
// the retry budget is exhausted.
type DeadLetterEntry struct {
	ID           uint `gorm:"primaryKey"`
	Artist       string
	Title        string
	Album        string
	PlayedAt     time.Time
	AttemptCount int
	LastError    string    `gorm:"type:text"`
	AbandonedAt  time.Time `gorm:"index:idx_dead_letter_abandoned_at;not null"`
}
