// Package engine is the coordinating sync service. It owns the sync queue
// and dispatches queued pushes, pulls and resolutions to cloud providers,
// routing divergent edits to the conflict resolver. Local edits and
// conflict resolutions also drive coordination cascades, which run in the
// background so the edit never waits on dependent documents.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/docsync/internal/conflict"
	"github.com/alexjbarnes/docsync/internal/coordination"
	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/history"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/provider"
	"github.com/alexjbarnes/docsync/internal/queue"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/tracker"
)

// DefaultRecoveryInterval is how often stale links are re-enqueued.
const DefaultRecoveryInterval = time.Minute

// Config holds the service settings. Zero values fall back to defaults.
type Config struct {
	Backlog     queue.Backlog
	Debounce    time.Duration
	MaxRetries  int
	ItemTimeout time.Duration

	// Priority is given to pushes and pulls triggered by edits.
	Priority int

	RecoveryInterval time.Duration

	// DocTypes extends the document types coordination rules accept.
	DocTypes []string
}

// Service wires the sync components together.
type Service struct {
	state     *state.State
	providers *provider.Registry
	tracker   *tracker.Tracker
	resolver  *conflict.Resolver
	history   *history.History
	rules     *coordination.Engine
	queue     *queue.Queue

	priority         int
	recoveryInterval time.Duration
	logger           *slog.Logger
	now              func() time.Time

	// ctx scopes background cascades and is cancelled by Close.
	ctx      context.Context
	cancel   context.CancelFunc
	cascades sync.WaitGroup
}

// New creates a Service.
func New(st *state.State, providers *provider.Registry, cfg Config, logger *slog.Logger) *Service {
	if cfg.Priority <= 0 {
		cfg.Priority = queue.DefaultPriority
	}

	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultRecoveryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		state:            st,
		providers:        providers,
		tracker:          tracker.New(st, logger),
		history:          history.New(st, logger),
		priority:         cfg.Priority,
		recoveryInterval: cfg.RecoveryInterval,
		logger:           logger.With(slog.String("component", "engine")),
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}

	s.resolver = conflict.New(st, s.tracker, logger)
	s.rules = coordination.New(st, s.history, coordination.Config{
		DocTypes:  cfg.DocTypes,
		OnApplied: s.cascadeApplied,
	}, logger)
	s.queue = queue.New(queue.Config{
		Backlog:     cfg.Backlog,
		Handler:     s.handle,
		OnDrop:      s.dropped,
		Debounce:    cfg.Debounce,
		MaxRetries:  cfg.MaxRetries,
		ItemTimeout: cfg.ItemTimeout,
	}, logger)

	return s
}

// Tracker returns the sync state tracker.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// Resolver returns the conflict resolver.
func (s *Service) Resolver() *conflict.Resolver { return s.resolver }

// History returns the version history.
func (s *Service) History() *history.History { return s.history }

// Rules returns the coordination rule engine.
func (s *Service) Rules() *coordination.Engine { return s.rules }

// Queue returns the sync queue.
func (s *Service) Queue() *queue.Queue { return s.queue }

// CreateDocument stores a new document and records its first version.
func (s *Service) CreateDocument(doc models.Document) (*models.Document, error) {
	content, err := normalizeContent(doc.Content)
	if err != nil {
		return nil, err
	}

	existing, err := s.state.GetDocument(doc.TenantID, doc.ID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, fmt.Errorf("document %s exists: %w", doc.ID, derrors.ErrInvalidInput)
	}

	doc.Content = content
	doc.UpdatedAt = s.now()

	if err := s.state.PutDocument(doc); err != nil {
		return nil, err
	}

	if _, err := s.history.Record(history.Entry{
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		Source:     models.SourceInternal,
		Snapshot:   doc.Content,
		CreatedBy:  doc.UpdatedBy,
	}); err != nil {
		return nil, err
	}

	return &doc, nil
}

// Document returns a stored document, or ErrNotFound.
func (s *Service) Document(tenantID, documentID string) (*models.Document, error) {
	doc, err := s.state.GetDocument(tenantID, documentID)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, derrors.ErrNotFound)
	}

	return doc, nil
}

// Link connects a document to a cloud file.
func (s *Service) Link(req tracker.LinkRequest) (*models.DocumentSyncState, error) {
	if _, err := s.Document(req.TenantID, req.DocumentID); err != nil {
		return nil, err
	}

	if _, err := s.providers.Get(req.Provider); err != nil {
		return nil, err
	}

	return s.tracker.Link(req)
}

// Unlink removes a document's cloud link and cancels its queued work.
func (s *Service) Unlink(ctx context.Context, tenantID, documentID string) error {
	if err := s.tracker.Unlink(tenantID, documentID); err != nil {
		return err
	}

	if _, err := s.queue.Remove(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("removing queued items for %s: %w", documentID, err)
	}

	return nil
}

// LocalEdit is an authoritative change made in the system's own editor.
type LocalEdit struct {
	TenantID   string
	DocumentID string
	Content    json.RawMessage

	// ChangedFields are the dot paths that changed. When empty the
	// top-level sections that differ from the previous version are used.
	ChangedFields []string

	UpdatedBy string
}

// RecordLocalEdit stores new content, records a version, marks the link
// for a push and starts coordination cascades for the changed fields.
func (s *Service) RecordLocalEdit(ctx context.Context, e LocalEdit) (*models.Document, error) {
	content, err := normalizeContent(e.Content)
	if err != nil {
		return nil, err
	}

	at := s.now()

	doc, v, err := s.writeContent(contentWrite{
		tenantID:   e.TenantID,
		documentID: e.DocumentID,
		content:    content,
		at:         at,
		by:         e.UpdatedBy,
		source:     models.SourceInternal,
		localEdit:  true,
	})
	if err != nil {
		return nil, err
	}

	if err := s.markLocalEdit(ctx, e.TenantID, e.DocumentID, at); err != nil {
		return nil, err
	}

	fields := e.ChangedFields
	if len(fields) == 0 && v.DiffSummary != nil {
		fields = v.DiffSummary.SectionsChanged
	}

	s.cascade(e.TenantID, e.DocumentID, fields)

	return doc, nil
}

// contentWrite replaces a document's content.
type contentWrite struct {
	tenantID   string
	documentID string
	content    json.RawMessage
	at         time.Time
	by         string
	source     models.DocumentSource

	// localEdit stamps the link, if any, with the edit in the same
	// transaction as the content.
	localEdit bool

	// guard vets the stored link before anything is written. link is nil
	// for an unlinked document. An error aborts the write.
	guard func(link *models.DocumentSyncState) error
}

// writeContent stores new content and its version atomically.
func (s *Service) writeContent(w contentWrite) (*models.Document, models.DocumentVersion, error) {
	return s.history.Apply(history.Change{
		TenantID:   w.tenantID,
		DocumentID: w.documentID,
		Source:     w.source,
		CreatedBy:  w.by,
		Update: func(doc *models.Document, link *models.DocumentSyncState) error {
			if w.guard != nil {
				if err := w.guard(link); err != nil {
					return err
				}
			}

			doc.Content = w.content
			doc.UpdatedAt = w.at
			doc.UpdatedBy = w.by

			if w.localEdit && link != nil {
				tracker.StampLocalEdit(link, w.at)
				link.UpdatedAt = w.at
			}

			return nil
		},
	})
}

// markLocalEdit stamps a linked document's local edit and queues a push.
// Unlinked documents are left alone.
func (s *Service) markLocalEdit(ctx context.Context, tenantID, documentID string, at time.Time) error {
	st, err := s.tracker.RecordLocalEdit(tenantID, documentID, at)
	if errors.Is(err, derrors.ErrNotLinked) {
		return nil
	}

	if err != nil {
		return err
	}

	return s.enqueue(ctx, *st, models.ActionPush, s.priority)
}

func (s *Service) enqueue(ctx context.Context, st models.DocumentSyncState, action models.SyncAction, priority int) error {
	item := queue.NewItem(st.TenantID, st.DocumentID, st.CloudProvider, action)
	item.Priority = priority

	return s.queue.Enqueue(ctx, item)
}

// CloudEdit is a change detected in a cloud copy.
type CloudEdit struct {
	TenantID   string
	DocumentID string
	At         time.Time

	// Content is the cloud copy after the edit. When nil it is pulled
	// from the provider so a later conflict can show it.
	Content *string

	Source models.DocumentSource
}

// RecordCloudEdit stamps a cloud edit, keeps the observed content and
// queues a pull.
func (s *Service) RecordCloudEdit(ctx context.Context, e CloudEdit) (*models.DocumentSyncState, error) {
	st, err := s.tracker.Get(e.TenantID, e.DocumentID)
	if err != nil {
		return nil, err
	}

	var content string

	if e.Content != nil {
		content = *e.Content
	} else {
		p, err := s.providers.Get(st.CloudProvider)
		if err != nil {
			return nil, err
		}

		res, err := p.Pull(ctx, *st)
		if err != nil {
			return nil, fmt.Errorf("reading cloud copy of %s: %w", e.DocumentID, err)
		}

		if res != nil {
			content = res.Content
			if e.At.IsZero() {
				e.At = res.RemoteUpdatedAt
			}
		}
	}

	if e.At.IsZero() {
		e.At = s.now()
	}

	st, err = s.tracker.RecordCloudEdit(e.TenantID, e.DocumentID, e.At, content, e.Source)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, *st, models.ActionPull, s.priority); err != nil {
		return nil, err
	}

	return st, nil
}

// CloudFileChanged routes a change notification for a cloud file to the
// document linked to it. An empty tenantID searches every tenant.
func (s *Service) CloudFileChanged(ctx context.Context, tenantID string, kind models.CloudProvider, cloudFileID string, content *string, at time.Time) (*models.DocumentSyncState, error) {
	tenants := []string{tenantID}

	if tenantID == "" {
		var err error

		tenants, err = s.state.Tenants()
		if err != nil {
			return nil, err
		}
	}

	for _, t := range tenants {
		st, err := s.state.SyncStateByCloudFile(t, kind, cloudFileID)
		if err != nil {
			return nil, err
		}

		if st != nil {
			return s.RecordCloudEdit(ctx, CloudEdit{
				TenantID:   st.TenantID,
				DocumentID: st.DocumentID,
				At:         at,
				Content:    content,
			})
		}
	}

	return nil, fmt.Errorf("%s file %s: %w", kind, cloudFileID, derrors.ErrNotLinked)
}

// SyncNow processes the queue immediately.
func (s *Service) SyncNow(ctx context.Context) (queue.Result, error) {
	return s.queue.Flush(ctx)
}

// Recover re-enqueues every link whose state shows unsynced edits or an
// interrupted sync. It rebuilds the queue after a restart and finishes
// conflict resolutions that were recorded but never applied.
func (s *Service) Recover(ctx context.Context) (int, error) {
	tenants, err := s.state.Tenants()
	if err != nil {
		return 0, err
	}

	n := 0

	for _, t := range tenants {
		s.recoverConflicts(ctx, t)

		stale, err := s.tracker.StaleLinks(t)
		if err != nil {
			return n, err
		}

		for _, l := range stale {
			if err := s.enqueue(ctx, l.State, l.Action, s.priority); err != nil {
				return n, err
			}

			n++
		}
	}

	if n > 0 {
		s.logger.Info("re-enqueued stale links", slog.Int("count", n))
	}

	return n, nil
}

// recoverConflicts settles links left in conflict without a pending
// conflict. A recorded resolution that was never applied is applied again;
// a link with no conflict record at all gets one raised from its state.
func (s *Service) recoverConflicts(ctx context.Context, tenantID string) {
	links, err := s.tracker.List(tenantID)
	if err != nil {
		s.logger.Warn("listing links for conflict recovery", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		return
	}

	for _, st := range links {
		if st.SyncStatus != models.StatusConflict {
			continue
		}

		c, err := s.state.LatestConflict(tenantID, st.DocumentID)

		switch {
		case err != nil:
		case c == nil:
			s.logger.Warn("conflicted link has no conflict record", slog.String("document_id", st.DocumentID))
			err = s.raiseConflict(st)
		case c.Resolved():
			s.logger.Info("applying interrupted conflict resolution",
				slog.String("conflict_id", c.ID),
				slog.String("document_id", st.DocumentID),
				slog.String("resolution", string(c.Resolution)),
			)
			err = s.applyResolution(ctx, c, st)
		}

		if err != nil {
			s.logger.Warn("recovering conflicted link",
				slog.String("document_id", st.DocumentID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run recovers once and then every recovery interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		s.logger.Warn("recovery failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil {
				s.logger.Warn("recovery failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Wait blocks until background cascades finish.
func (s *Service) Wait() {
	s.cascades.Wait()
}

// Close stops the queue timer, cancels running cascades and waits for
// them. Queued items stay in the backlog.
func (s *Service) Close() {
	s.queue.Close()
	s.cancel()
	s.cascades.Wait()
}

// normalizeContent checks content is JSON. Empty content becomes {}.
func normalizeContent(content json.RawMessage) (json.RawMessage, error) {
	if len(content) == 0 {
		return json.RawMessage("{}"), nil
	}

	if !json.Valid(content) {
		return nil, fmt.Errorf("content is not valid JSON: %w", derrors.ErrInvalidInput)
	}

	return content, nil
}

// contentFromCloud converts a cloud copy to document content. Text that
// is not JSON is stored as a JSON string.
func contentFromCloud(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	b, _ := json.Marshal(s)

	return b
}

func latest(ts ...time.Time) time.Time {
	var out time.Time

	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}

	return out
}
