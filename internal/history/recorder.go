package history

import (
	"context"
	"sync"
	"time"

	"github.com/aviolabs/jblbridge/internal/jbl"
)

const (
	// recordQueueSize buffers changes so bursts never block the control
	// channel's event path. Overflow drops the oldest-pending behaviour is
	// not needed; drops are counted and logged instead.
	recordQueueSize = 128

	// recordTimeout bounds one insert.
	recordTimeout = 5 * time.Second

	// pruneInterval is how often retention is enforced.
	pruneInterval = 6 * time.Hour
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder writes receiver state changes to a Repository from a background
// worker, so persistence never stalls the event path.
type Recorder struct {
	repo      Repository
	retention time.Duration
	queue     chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    Logger
}

// NewRecorder creates and starts a recorder. retention of 0 disables
// pruning.
func NewRecorder(repo Repository, retention time.Duration, logger Logger) *Recorder {
	r := &Recorder{
		repo:      repo,
		retention: retention,
		queue:     make(chan Entry, recordQueueSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// OnChange adapts the recorder to the controller's change callback.
// Connection transitions are attributed to their own source so the audit
// trail distinguishes device reports from session churn.
func (r *Recorder) OnChange(change jbl.Change) {
	source := SourceFrame
	if change.Full {
		source = SourceConnection
	}
	r.enqueue(Entry{
		Fields:    change.Fields,
		Snapshot:  change.Snapshot,
		Source:    source,
		CreatedAt: change.Timestamp,
	})
}

// enqueue hands an entry to the worker, dropping it when the queue is full.
func (r *Recorder) enqueue(entry Entry) {
	select {
	case <-r.done:
	case r.queue <- entry:
	default:
		if r.logger != nil {
			r.logger.Warn("history queue full, dropping entry", "source", entry.Source)
		}
	}
}

// run drains the queue and enforces retention until Close().
func (r *Recorder) run() {
	defer r.wg.Done()

	var pruneC <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
		r.prune()
	}

	for {
		select {
		case <-r.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case entry := <-r.queue:
					r.record(entry)
				default:
					return
				}
			}
		case entry := <-r.queue:
			r.record(entry)
		case <-pruneC:
			r.prune()
		}
	}
}

func (r *Recorder) record(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, entry); err != nil && r.logger != nil {
		r.logger.Error("recording state history failed", "error", err)
	}
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	deleted, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("pruning state history failed", "error", err)
		}
		return
	}
	if deleted > 0 && r.logger != nil {
		r.logger.Debug("pruned state history", "deleted", deleted)
	}
}

// Close stops the worker after flushing queued entries.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}
