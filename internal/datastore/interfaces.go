// interfaces.go: datastore interface and the shared GORM-backed
// implementation of the queue and history operations.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/errors"
)

// Interface abstracts the persistent store.
type Interface interface {
	Open() error
	Close() error

	// Scrobble queue operations.
	Enqueue(entry *ScrobbleQueueEntry) error
	QueueSize() (int64, error)
	DueEntries(now time.Time, limit int) ([]ScrobbleQueueEntry, error)
	MarkInFlight(id uint) error
	MarkDelivered(entry *ScrobbleQueueEntry, scrobbledAt time.Time) error
	MarkFailed(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error
	Abandon(entry *ScrobbleQueueEntry, lastError string) error
	RecoverInFlight() (int64, error)
	ClearQueue() (int64, error)
	QueueEntries(limit int) ([]ScrobbleQueueEntry, error)

	// Delivery history.
	RecentScrobbles(limit int) ([]ScrobbleRecord, error)
	CountScrobbles() (int64, error)
	DeadLetters(limit int) ([]DeadLetterEntry, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a datastore for the configured backend. SQLite is the only
// supported backend; the queue must be durable, so there is no in-memory
// fallback.
func New(settings *conf.Settings) Interface {
	return &SQLiteStore{Settings: settings}
}

// Enqueue inserts a new pending queue entry.
func (ds *DataStore) Enqueue(entry *ScrobbleQueueEntry) error {
	if entry.State == "" {
		entry.State = StatePending
	}
	if err := ds.DB.Create(entry).Error; err != nil {
		return errors.Newf("failed to enqueue scrobble: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return nil
}

// QueueSize returns the number of undelivered entries.
func (ds *DataStore) QueueSize() (int64, error) {
	var count int64
	if err := ds.DB.Model(&ScrobbleQueueEntry{}).Count(&count).Error; err != nil {
		return 0, errors.Newf("failed to count queue entries: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return count, nil
}

// DueEntries returns entries eligible for a delivery attempt, oldest play
// first so scrobbles arrive in listening order.
func (ds *DataStore) DueEntries(now time.Time, limit int) ([]ScrobbleQueueEntry, error) {
	var entries []ScrobbleQueueEntry
	err := ds.DB.
		Where("state = ? OR (state = ? AND next_retry_at <= ?)", StatePending, StateFailed, now).
		Order("played_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Newf("failed to fetch due queue entries: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return entries, nil
}

// MarkInFlight transitions an entry to InFlight before a delivery attempt.
func (ds *DataStore) MarkInFlight(id uint) error {
	return ds.updateState(id, map[string]any{"state": StateInFlight})
}

// MarkDelivered removes the queue entry and writes the history record in
// one transaction, so a crash cannot double-deliver or lose the play.
func (ds *DataStore) MarkDelivered(entry *ScrobbleQueueEntry, scrobbledAt time.Time) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		record := ScrobbleRecord{
			Artist:       entry.Artist,
			Title:        entry.Title,
			Album:        entry.Album,
			Provider:     entry.Provider,
			Confidence:   entry.Confidence,
			PlayedAt:     entry.PlayedAt,
			ScrobbledAt:  scrobbledAt,
			PlayDuration: entry.PlayDuration,
			AttemptCount: entry.AttemptCount,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Delete(&ScrobbleQueueEntry{}, entry.ID).Error
	})
	if err != nil {
		return errors.Newf("failed to mark entry %d delivered: %w", entry.ID, err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the next retry.
func (ds *DataStore) MarkFailed(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error {
	return ds.updateState(id, map[string]any{
		"state":         StateFailed,
		"attempt_count": attemptCount,
		"next_retry_at": nextRetryAt,
		"last_error":    lastError,
	})
}

// Abandon moves an entry to the dead-letter table after the retry budget is
// exhausted.
func (ds *DataStore) Abandon(entry *ScrobbleQueueEntry, lastError string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		dead := DeadLetterEntry{
			Artist:       entry.Artist,
			Title:        entry.Title,
			Album:        entry.Album,
			PlayedAt:     entry.PlayedAt,
			AttemptCount: entry.AttemptCount,
			LastError:    lastError,
			AbandonedAt:  time.Now(),
		}
		if err := tx.Create(&dead).Error; err != nil {
			return err
		}
		return tx.Delete(&ScrobbleQueueEntry{}, entry.ID).Error
	})
	if err != nil {
		return errors.Newf("failed to abandon entry %d: %w", entry.ID, err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return nil
}

// RecoverInFlight resets entries stuck in InFlight back to Pending. Called
// once at startup: an InFlight entry at that point means the process died
// mid-attempt.
func (ds *DataStore) RecoverInFlight() (int64, error) {
	res := ds.DB.Model(&ScrobbleQueueEntry{}).
		Where("state = ?", StateInFlight).
		Update("state", StatePending)
	if res.Error != nil {
		return 0, errors.Newf("failed to recover in-flight entries: %w", res.Error).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return res.RowsAffected, nil
}

// ClearQueue deletes all undelivered entries. Administrative override.
func (ds *DataStore) ClearQueue() (int64, error) {
	res := ds.DB.Where("1 = 1").Delete(&ScrobbleQueueEntry{})
	if res.Error != nil {
		return 0, errors.Newf("failed to clear scrobble queue: %w", res.Error).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return res.RowsAffected, nil
}

// QueueEntries returns current queue contents, oldest play first.
func (ds *DataStore) QueueEntries(limit int) ([]ScrobbleQueueEntry, error) {
	var entries []ScrobbleQueueEntry
	if err := ds.DB.Order("played_at ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, errors.Newf("failed to fetch queue entries: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return entries, nil
}

// RecentScrobbles returns the latest delivered plays, newest first.
func (ds *DataStore) RecentScrobbles(limit int) ([]ScrobbleRecord, error) {
	var records []ScrobbleRecord
	if err := ds.DB.Order("scrobbled_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, errors.Newf("failed to fetch recent scrobbles: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return records, nil
}

// CountScrobbles returns the total number of delivered plays.
func (ds *DataStore) CountScrobbles() (int64, error) {
	var count int64
	if err := ds.DB.Model(&ScrobbleRecord{}).Count(&count).Error; err != nil {
		return 0, errors.Newf("failed to count scrobbles: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return count, nil
}

// DeadLetters returns abandoned entries, newest first.
func (ds *DataStore) DeadLetters(limit int) ([]DeadLetterEntry, error) {
	var entries []DeadLetterEntry
	if err := ds.DB.Order("abandoned_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, errors.Newf("failed to fetch dead letters: %w", err).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying database: %w", err)
	}
	return sqlDB.Close()
}

func (ds *DataStore) updateState(id uint, fields map[string]any) error {
	res := ds.DB.Model(&ScrobbleQueueEntry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return errors.Newf("failed to update queue entry %d: %w", id, res.Error).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	if res.RowsAffected == 0 {
		return errors.Newf("queue entry %d not found", id).
			Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return nil
}
