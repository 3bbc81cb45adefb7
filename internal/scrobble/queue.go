package scrobble

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/errors"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/observability/metrics"
)

// deliveryBatchSize bounds how many due entries one pass picks up.
const deliveryBatchSize = 50

// ErrBelowMinPlayTime is returned by Enqueue when the play is too short to
// scrobble. A typed no-op, not a failure.
var ErrBelowMinPlayTime = errors.NewStd("play below minimum play time")

// ErrQueueFull is returned by Enqueue when the queue is at capacity. The
// newest entry is rejected; queued plays are never silently dropped.
var ErrQueueFull = errors.NewStd("scrobble queue is full")

// Queue is the durable scrobble queue plus its delivery loop. Entries are
// persisted before any delivery attempt so confirmed plays survive crashes
// and network outages.
type Queue struct {
	store  datastore.Interface
	client Submitter
	cfg    conf.LastfmSettings
	log    *slog.Logger

	wake chan struct{}

	mu         sync.Mutex
	authPaused bool

	onDelivered func(datastore.ScrobbleRecord)
	metrics     *metrics.ScrobbleMetrics // nil outside the full pipeline

	delivered uint64
	failed    uint64
	abandoned uint64
}

// SetMetrics attaches the delivery metric collectors. Must be called before
// Start.
func (q *Queue) SetMetrics(m *metrics.ScrobbleMetrics) {
	q.metrics = m
}

// NewQueue creates the queue over a datastore and a submitter.
func NewQueue(store datastore.Interface, client Submitter, cfg conf.LastfmSettings) *Queue {
	logger := logging.ForService("scrobble")
	if logger == nil {
		logger = logging.Discard()
	}
	return &Queue{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    logger,
		wake:   make(chan struct{}, 1),
	}
}

// OnDelivered registers a callback invoked after each confirmed delivery.
// Must be set before Start.
func (q *Queue) OnDelivered(fn func(datastore.ScrobbleRecord)) {
	q.onDelivered = fn
}

// Provenance carries the recognition metadata stored with a queued play.
type Provenance struct {
	Fingerprint string
	Provider    string
	Confidence  float64
}

// Enqueue durably records a confirmed play for delivery. Plays shorter than
// the minimum play time are rejected as a typed no-op; a full queue rejects
// the newest entry with ErrQueueFull.
func (q *Queue) Enqueue(track Track, prov Provenance) error {
	if !q.cfg.Enabled {
		q.log.Debug("scrobbling disabled, dropping play", "artist", track.Artist, "title", track.Title)
		return nil
	}
	if track.Duration < q.cfg.MinPlayTime {
		q.log.Debug("play below minimum play time, not scrobbling",
			"artist", track.Artist, "title", track.Title,
			"duration", track.Duration, "min_play_time", q.cfg.MinPlayTime)
		return ErrBelowMinPlayTime
	}

	size, err := q.store.QueueSize()
	if err != nil {
		return err
	}
	if q.cfg.MaxQueueSize > 0 && size >= int64(q.cfg.MaxQueueSize) {
		q.log.Warn("scrobble queue full, rejecting newest entry",
			"size", size, "max", q.cfg.MaxQueueSize,
			"artist", track.Artist, "title", track.Title)
		return errors.New(ErrQueueFull).
			Component("scrobble").Category(errors.CategoryLimit).
			Context("queue_size", size).Build()
	}

	entry := &datastore.ScrobbleQueueEntry{
		Artist:       track.Artist,
		Title:        track.Title,
		Album:        track.Album,
		Provider:     prov.Provider,
		Confidence:   prov.Confidence,
		Fingerprint:  prov.Fingerprint,
		PlayedAt:     track.PlayedAt,
		PlayDuration: track.Duration,
		State:        datastore.StatePending,
	}
	if err := q.store.Enqueue(entry); err != nil {
		return err
	}

	q.log.Info("play queued for scrobbling", "artist", track.Artist,
		"title", track.Title, "played_at", track.PlayedAt)

	// Wake the delivery loop; non-blocking, a pending wake is enough.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the delivery loop. It wakes on each enqueue and on the
// retry interval tick, and drains due entries until quitChan closes.
func (q *Queue) Start(wg *sync.WaitGroup, quitChan chan struct{}) {
	// Entries stuck in-flight from a previous crash go back to pending.
	if recovered, err := q.store.RecoverInFlight(); err != nil {
		q.log.Error("failed to recover in-flight entries", "error", err)
	} else if recovered > 0 {
		q.log.Info("recovered in-flight entries from previous run", "count", recovered)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.cfg.RetryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-quitChan:
				q.log.Info("stopping scrobble delivery loop")
				return
			case <-q.wake:
				q.deliverDue(time.Now())
			case <-ticker.C:
				// The tick also re-probes after an auth pause.
				q.setAuthPaused(false)
				q.deliverDue(time.Now())
			}
		}
	}()
}

// deliverDue attempts delivery for every entry whose retry time has come.
func (q *Queue) deliverDue(now time.Time) {
	if q.isAuthPaused() {
		return
	}

	entries, err := q.store.DueEntries(now, deliveryBatchSize)
	if err != nil {
		q.log.Error("failed to fetch due scrobbles", "error", err)
		return
	}

	for i := range entries {
		if q.isAuthPaused() {
			return
		}
		q.deliver(&entries[i], now)
	}
}

// deliver runs one delivery attempt for one entry.
func (q *Queue) deliver(entry *datastore.ScrobbleQueueEntry, now time.Time) {
	if err := q.store.MarkInFlight(entry.ID); err != nil {
		q.log.Error("failed to mark entry in-flight", "id", entry.ID, "error", err)
		return
	}

	track := Track{
		Artist:   entry.Artist,
		Title:    entry.Title,
		Album:    entry.Album,
		PlayedAt: entry.PlayedAt,
		Duration: entry.PlayDuration,
	}

	err := q.client.Scrobble(track)
	entry.AttemptCount++

	switch {
	case err == nil:
		if err := q.store.MarkDelivered(entry, now); err != nil {
			q.log.Error("scrobble delivered but not recorded", "id", entry.ID, "error", err)
			return
		}
		q.mu.Lock()
		q.delivered++
		q.mu.Unlock()
		q.log.Info("scrobble delivered", "artist", entry.Artist, "title", entry.Title,
			"attempts", entry.AttemptCount)
		if q.onDelivered != nil {
			q.onDelivered(datastore.ScrobbleRecord{
				Artist:       entry.Artist,
				Title:        entry.Title,
				Album:        entry.Album,
				Provider:     entry.Provider,
				Confidence:   entry.Confidence,
				PlayedAt:     entry.PlayedAt,
				ScrobbledAt:  now,
				PlayDuration: entry.PlayDuration,
				AttemptCount: entry.AttemptCount,
			})
		}

	case errors.HasCategory(err, errors.CategoryAuth):
		// Bad credentials fail every entry identically. Pause delivery and
		// put the entry back without consuming a retry attempt.
		q.log.Error("last.fm authentication failed, pausing delivery", "error", err)
		q.setAuthPaused(true)
		if err := q.store.MarkFailed(entry.ID, entry.AttemptCount-1, now.Add(q.cfg.RetryInterval), err.Error()); err != nil {
			q.log.Error("failed to reschedule entry after auth failure", "id", entry.ID, "error", err)
		}

	case errors.HasCategory(err, errors.CategoryValidation):
		// Permanently malformed; retrying can never succeed.
		q.log.Warn("scrobble rejected as invalid, abandoning",
			"artist", entry.Artist, "title", entry.Title, "error", err)
		q.abandon(entry, err.Error())

	default:
		q.retryOrAbandon(entry, now, err)
	}
}

// retryOrAbandon schedules the next attempt with exponential backoff, or
// moves the entry to the dead-letter table once the budget is exhausted.
func (q *Queue) retryOrAbandon(entry *datastore.ScrobbleQueueEntry, now time.Time, cause error) {
	if entry.AttemptCount > q.cfg.MaxRetries {
		q.log.Error("giving up on scrobble after max retries",
			"artist", entry.Artist, "title", entry.Title,
			"attempts", entry.AttemptCount, "error", cause)
		q.abandon(entry, cause.Error())
		return
	}

	delay := Backoff(entry.AttemptCount, q.cfg.RetryInterval, q.cfg.MaxRetryInterval)
	q.log.Warn("scrobble attempt failed, will retry",
		"artist", entry.Artist, "title", entry.Title,
		"attempt", entry.AttemptCount, "next_retry_in", delay, "error", cause)

	if err := q.store.MarkFailed(entry.ID, entry.AttemptCount, now.Add(delay), cause.Error()); err != nil {
		q.log.Error("failed to schedule retry", "id", entry.ID, "error", err)
		return
	}
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.Failed.Inc()
	}
}

func (q *Queue) abandon(entry *datastore.ScrobbleQueueEntry, lastError string) {
	if err := q.store.Abandon(entry, lastError); err != nil {
		q.log.Error("failed to move entry to dead letter", "id", entry.ID, "error", err)
		return
	}
	q.mu.Lock()
	q.abandoned++
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.Abandoned.Inc()
	}
}

// Backoff returns the delay before the given attempt's retry: the base
// interval doubled per prior attempt, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Size returns the number of undelivered entries.
func (q *Queue) Size() (int64, error) {
	return q.store.QueueSize()
}

// Clear removes all undelivered entries. Administrative override, logged.
func (q *Queue) Clear() (int64, error) {
	removed, err := q.store.ClearQueue()
	if err != nil {
		return 0, err
	}
	q.log.Warn("scrobble queue force-cleared", "removed", removed)
	return removed, nil
}

// AuthPaused reports whether delivery is paused on an auth failure.
func (q *Queue) AuthPaused() bool {
	return q.isAuthPaused()
}

// Stats returns delivered, failed-attempt and abandoned counters.
func (q *Queue) Stats() (delivered, failed, abandoned uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered, q.failed, q.abandoned
}

func (q *Queue) isAuthPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.authPaused
}

func (q *Queue) setAuthPaused(v bool) {
	q.mu.Lock()
	q.authPaused = v
	q.mu.Unlock()
}
