// Package queue batches sync operations per document. Enqueues are
// deduplicated by (document, action), collapsed by a single shared
// debounce timer, and processed in ascending priority order. Failed items
// are retried with a demoted priority up to a bounded number of attempts.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/google/uuid"
)

const (
	// DefaultDebounce is the quiet period after the last enqueue before
	// the queue flushes on its own.
	DefaultDebounce = 5 * time.Second

	// DefaultMaxRetries bounds how many times one item is attempted.
	DefaultMaxRetries = 3

	// DefaultItemTimeout bounds a single push, pull, or resolve.
	DefaultItemTimeout = 30 * time.Second

	// DefaultPriority is used by NewItem.
	DefaultPriority = 5
)

// Handler performs one queued operation. A returned error counts as a
// failed attempt.
type Handler func(ctx context.Context, item models.SyncQueueItem) error

// DropFunc is told about an item that failed its final attempt.
type DropFunc func(ctx context.Context, item models.SyncQueueItem, err error)

// Config holds the parameters for a Queue. Zero durations and counts fall
// back to the package defaults.
type Config struct {
	Backlog     Backlog
	Handler     Handler
	OnDrop      DropFunc
	Debounce    time.Duration
	MaxRetries  int
	ItemTimeout time.Duration
}

// Result summarises one processing pass.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`

	// Busy is set when another pass was already running. Nothing was
	// processed and Remaining is the current backlog size.
	Busy bool `json:"busy,omitempty"`

	// Dropped lists items that exhausted their retries in this pass.
	Dropped []models.SyncQueueItem `json:"dropped,omitempty"`
}

// Queue is the sync work queue. It is owned by a single coordinating
// service and is safe for concurrent use.
type Queue struct {
	backlog     Backlog
	handler     Handler
	onDrop      DropFunc
	debounce    time.Duration
	maxRetries  int
	itemTimeout time.Duration
	logger      *slog.Logger

	// processing is the single-flight guard for Process.
	processing atomic.Bool

	// mu guards timer and closed. The timer is shared by every enqueue.
	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	// ctx scopes timer-triggered passes and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. A nil Backlog uses an in-memory one.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Backlog == nil {
		cfg.Backlog = NewMemoryBacklog()
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		backlog:     cfg.Backlog,
		handler:     cfg.Handler,
		onDrop:      cfg.OnDrop,
		debounce:    cfg.Debounce,
		maxRetries:  cfg.MaxRetries,
		itemTimeout: cfg.ItemTimeout,
		logger:      logger.With(slog.String("component", "queue")),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewItem builds a queue item with a fresh id and the default priority.
func NewItem(tenantID, documentID string, provider models.CloudProvider, action models.SyncAction) models.SyncQueueItem {
	return models.SyncQueueItem{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		TenantID:   tenantID,
		Provider:   provider,
		Action:     action,
		Priority:   DefaultPriority,
	}
}

// Enqueue stores item, replacing any queued item for the same document and
// action, and restarts the shared debounce timer. Attempts is reset to zero
// and EnqueuedAt to now.
func (q *Queue) Enqueue(ctx context.Context, item models.SyncQueueItem) error {
	if item.DocumentID == "" || item.Action == "" {
		return fmt.Errorf("queue item requires document id and action")
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	item.Attempts = 0
	item.EnqueuedAt = time.Now()

	if err := q.backlog.Upsert(ctx, item); err != nil {
		return fmt.Errorf("enqueueing %s for %s: %w", item.Action, item.DocumentID, err)
	}

	q.scheduleFlush()

	return nil
}

// Flush cancels the pending debounce timer and processes the queue now.
func (q *Queue) Flush(ctx context.Context) (Result, error) {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	return q.Process(ctx)
}

// Process drains the backlog and runs every item in priority order. A call
// made while another pass is running returns immediately with Busy set.
// Handler failures never surface as an error here: they are retried or
// reported through OnDrop. The error return covers backlog failures only.
func (q *Queue) Process(ctx context.Context) (Result, error) {
	if !q.processing.CompareAndSwap(false, true) {
		n, err := q.backlog.Len(ctx)
		return Result{Busy: true, Remaining: n}, err
	}
	defer q.processing.Store(false)

	batch, err := q.backlog.Drain(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("draining backlog: %w", err)
	}

	sortItems(batch)

	var (
		res     Result
		retried bool
	)

	for i, item := range batch {
		if ctx.Err() != nil {
			q.restore(ctx, batch[i:])
			break
		}

		herr := q.run(ctx, item)
		if herr == nil {
			res.Processed++
			continue
		}

		res.Failed++

		if item.Attempts+1 < q.maxRetries {
			retry := item
			retry.Attempts++
			retry.Priority++

			// A fresher enqueue for the same key wins over the retry.
			inserted, err := q.backlog.Insert(ctx, retry)
			if err != nil {
				q.logger.Warn("requeueing failed item",
					slog.String("document_id", item.DocumentID),
					slog.String("error", err.Error()),
				)
			}

			if inserted {
				retried = true
			}

			q.logger.Debug("sync item failed, retrying",
				slog.String("document_id", item.DocumentID),
				slog.String("action", string(item.Action)),
				slog.Int("attempt", retry.Attempts),
				slog.Int("priority", retry.Priority),
				slog.String("error", herr.Error()),
			)

			continue
		}

		res.Dropped = append(res.Dropped, item)

		q.logger.Warn("sync item dropped after max retries",
			slog.String("document_id", item.DocumentID),
			slog.String("action", string(item.Action)),
			slog.Int("attempts", item.Attempts+1),
			slog.String("error", herr.Error()),
		)

		if q.onDrop != nil {
			q.onDrop(ctx, item, herr)
		}
	}

	n, err := q.backlog.Len(ctx)
	if err != nil {
		return res, fmt.Errorf("reading backlog length: %w", err)
	}

	res.Remaining = n

	if retried {
		q.scheduleFlush()
	}

	q.logger.Debug("queue pass complete",
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Int("remaining", res.Remaining),
	)

	return res, nil
}

// run executes one item under the per-item timeout.
func (q *Queue) run(ctx context.Context, item models.SyncQueueItem) error {
	if q.handler == nil {
		return fmt.Errorf("no handler configured")
	}

	ctx, cancel := context.WithTimeout(ctx, q.itemTimeout)
	defer cancel()

	return q.handler(ctx, item)
}

// restore puts unprocessed items back after a cancelled pass.
func (q *Queue) restore(ctx context.Context, items []models.SyncQueueItem) {
	ctx = context.WithoutCancel(ctx)

	for _, item := range items {
		if _, err := q.backlog.Insert(ctx, item); err != nil {
			q.logger.Warn("restoring unprocessed item",
				slog.String("document_id", item.DocumentID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Pending returns the queued items for one document.
func (q *Queue) Pending(ctx context.Context, tenantID, documentID string) ([]models.SyncQueueItem, error) {
	return q.backlog.Pending(ctx, tenantID, documentID)
}

// Remove cancels every queued item for one document.
func (q *Queue) Remove(ctx context.Context, tenantID, documentID string) (int, error) {
	return q.backlog.Remove(ctx, tenantID, documentID)
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.backlog.Len(ctx)
}

// scheduleFlush (re)arms the shared debounce timer.
func (q *Queue) scheduleFlush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if q.timer != nil {
		q.timer.Stop()
	}

	q.timer = time.AfterFunc(q.debounce, q.onTimer)
}

func (q *Queue) onTimer() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.timer = nil
	q.wg.Add(1)
	q.mu.Unlock()

	defer q.wg.Done()

	if _, err := q.Process(q.ctx); err != nil {
		q.logger.Warn("debounced flush failed", slog.String("error", err.Error()))
	}
}

// Close stops the debounce timer, cancels any timer-triggered pass, and
// waits for it to return. Queued items stay in the backlog.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
