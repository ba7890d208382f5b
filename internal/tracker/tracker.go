// Package tracker owns the per-document sync state machine:
//
//	idle -> syncing -> {synced, error, conflict}
//	{synced, error} -> idle on the next local or cloud edit
//	conflict -> idle or synced once the conflict is resolved
//
// A document stays in conflict for as long as it has an unresolved
// conflict, even when further edits arrive.
package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
)

// subscriberBuffer is the per-subscriber channel size. Updates to a full
// subscriber are dropped rather than blocking the writer.
const subscriberBuffer = 64

// Outcome is what happened to a sync attempt.
type Outcome int

const (
	// OutcomeStarted marks an item dequeued for processing.
	OutcomeStarted Outcome = iota
	// OutcomeSynced marks a completed push or pull.
	OutcomeSynced
	// OutcomeConflict marks divergence found instead of a push or pull.
	OutcomeConflict
	// OutcomeFailed marks a terminal failure after retries ran out.
	OutcomeFailed
	// OutcomeResolved marks a conflict resolution that re-established a
	// sync point.
	OutcomeResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeSynced:
		return "synced"
	case OutcomeConflict:
		return "conflict"
	case OutcomeFailed:
		return "failed"
	case OutcomeResolved:
		return "resolved"
	}

	return fmt.Sprintf("outcome(%d)", int(o))
}

// Attempt describes one sync attempt outcome.
type Attempt struct {
	Outcome Outcome

	// SyncedAt becomes lastSyncAt for OutcomeSynced and OutcomeResolved.
	SyncedAt time.Time

	// CloudFileID replaces the stored id when a push created the file.
	CloudFileID string

	// Error is the message stored with OutcomeFailed.
	Error string
}

// LinkRequest describes a new cloud link.
type LinkRequest struct {
	TenantID    string
	DocumentID  string
	Provider    models.CloudProvider
	CloudFileID string
	WebURL      string
	Metadata    models.CloudMetadata
}

// StaleLink is a link whose state says it still needs a sync, together
// with the action that would bring it up to date.
type StaleLink struct {
	State  models.DocumentSyncState
	Action models.SyncAction
}

// Tracker records sync links and their status transitions.
type Tracker struct {
	state  *state.State
	logger *slog.Logger
	now    func() time.Time

	subMu  sync.Mutex
	subs   map[int]subscriber
	nextID int
}

type subscriber struct {
	tenantID string
	ch       chan models.DocumentSyncState
}

// New creates a Tracker over the given store.
func New(st *state.State, logger *slog.Logger) *Tracker {
	return &Tracker{
		state:  st,
		logger: logger.With(slog.String("component", "tracker")),
		now:    time.Now,
		subs:   make(map[int]subscriber),
	}
}

// Link creates an idle sync state for a document. A document has at most
// one cloud link.
func (t *Tracker) Link(req LinkRequest) (*models.DocumentSyncState, error) {
	if req.TenantID == "" || req.DocumentID == "" {
		return nil, fmt.Errorf("tenant and document are required: %w", derrors.ErrInvalidInput)
	}

	if !req.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q: %w", req.Provider, derrors.ErrInvalidInput)
	}

	now := t.now()
	st := models.DocumentSyncState{
		DocumentID:    req.DocumentID,
		TenantID:      req.TenantID,
		CloudProvider: req.Provider,
		CloudFileID:   req.CloudFileID,
		SyncStatus:    models.StatusIdle,
		CloudWebURL:   req.WebURL,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := t.state.CreateSyncState(st); err != nil {
		return nil, err
	}

	t.logger.Info("document linked",
		slog.String("document_id", req.DocumentID),
		slog.String("provider", string(req.Provider)),
	)
	t.publish(st)

	return &st, nil
}

// Unlink removes a document's sync state.
func (t *Tracker) Unlink(tenantID, documentID string) error {
	st, err := t.Get(tenantID, documentID)
	if err != nil {
		return err
	}

	if err := t.state.DeleteSyncState(tenantID, documentID); err != nil {
		return fmt.Errorf("unlinking %s: %w", documentID, err)
	}

	t.logger.Info("document unlinked",
		slog.String("document_id", documentID),
		slog.String("provider", string(st.CloudProvider)),
	)

	return nil
}

// Get returns a document's sync state, or ErrNotLinked.
func (t *Tracker) Get(tenantID, documentID string) (*models.DocumentSyncState, error) {
	st, err := t.state.GetSyncState(tenantID, documentID)
	if err != nil {
		return nil, err
	}

	if st == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, derrors.ErrNotLinked)
	}

	return st, nil
}

// List returns every sync state for a tenant.
func (t *Tracker) List(tenantID string) ([]models.DocumentSyncState, error) {
	return t.state.AllSyncStates(tenantID)
}

// RecordLocalEdit stamps a local edit. A synced or failed link drops back
// to idle.
func (t *Tracker) RecordLocalEdit(tenantID, documentID string, at time.Time) (*models.DocumentSyncState, error) {
	return t.update(tenantID, documentID, func(st *models.DocumentSyncState) {
		StampLocalEdit(st, at)
	})
}

// StampLocalEdit applies a local edit made at at to st. Writers that store
// a link in the same transaction as the edited content use it directly.
func StampLocalEdit(st *models.DocumentSyncState, at time.Time) {
	if at.After(st.LastLocalEditAt) {
		st.LastLocalEditAt = at
	}

	invalidate(st)
}

// RecordCloudEdit stamps a cloud edit and keeps the observed cloud content
// so a later conflict can capture it verbatim.
func (t *Tracker) RecordCloudEdit(tenantID, documentID string, at time.Time, content string, source models.DocumentSource) (*models.DocumentSyncState, error) {
	st, err := t.update(tenantID, documentID, func(st *models.DocumentSyncState) {
		if at.After(st.LastCloudEditAt) {
			st.LastCloudEditAt = at
		}

		invalidate(st)
	})
	if err != nil {
		return nil, err
	}

	if source == "" {
		source = st.Metadata.Source()
	}

	shadow := models.CloudShadow{
		DocumentID: documentID,
		Provider:   st.CloudProvider,
		Content:    content,
		UpdatedAt:  at,
		Source:     source,
	}
	if err := t.state.PutCloudShadow(tenantID, shadow); err != nil {
		return nil, fmt.Errorf("storing cloud shadow for %s: %w", documentID, err)
	}

	return st, nil
}

// CloudShadow returns the last cloud content seen for a document, or nil.
func (t *Tracker) CloudShadow(tenantID, documentID string) (*models.CloudShadow, error) {
	return t.state.GetCloudShadow(tenantID, documentID)
}

// RecordSyncAttempt applies one state machine transition.
func (t *Tracker) RecordSyncAttempt(tenantID, documentID string, a Attempt) (*models.DocumentSyncState, error) {
	return t.update(tenantID, documentID, func(st *models.DocumentSyncState) {
		switch a.Outcome {
		case OutcomeStarted:
			if st.SyncStatus != models.StatusConflict {
				st.SyncStatus = models.StatusSyncing
			}
		case OutcomeSynced:
			if st.SyncStatus == models.StatusConflict {
				return
			}

			markSynced(st, a)
		case OutcomeConflict:
			st.SyncStatus = models.StatusConflict
			st.ErrorMessage = ""
		case OutcomeFailed:
			if st.SyncStatus == models.StatusConflict {
				return
			}

			st.SyncStatus = models.StatusError
			st.ErrorMessage = a.Error
		case OutcomeResolved:
			markSynced(st, a)
		}
	})
}

// markSynced records a new sync point. Edits newer than the sync point
// leave the link idle so it is picked up again.
func markSynced(st *models.DocumentSyncState, a Attempt) {
	if !a.SyncedAt.IsZero() {
		st.LastSyncAt = a.SyncedAt
	}

	if a.CloudFileID != "" {
		st.CloudFileID = a.CloudFileID
	}

	st.ErrorMessage = ""
	st.SyncStatus = models.StatusSynced

	if st.LocalChanged() || st.CloudChanged() {
		st.SyncStatus = models.StatusIdle
	}
}

// invalidate moves a settled link back to idle after an edit. Conflicts
// stay put until resolved and in-flight syncs settle on completion.
func invalidate(st *models.DocumentSyncState) {
	switch st.SyncStatus {
	case models.StatusSynced, models.StatusError:
		st.SyncStatus = models.StatusIdle
		st.ErrorMessage = ""
	}
}

// StaleLinks returns every link whose edits are newer than its last sync,
// plus links left in syncing by a crash. Conflicted links are excluded.
func (t *Tracker) StaleLinks(tenantID string) ([]StaleLink, error) {
	states, err := t.state.AllSyncStates(tenantID)
	if err != nil {
		return nil, err
	}

	var stale []StaleLink

	for _, st := range states {
		if st.SyncStatus == models.StatusConflict {
			continue
		}

		switch {
		case st.LocalChanged():
			stale = append(stale, StaleLink{State: st, Action: models.ActionPush})
		case st.CloudChanged():
			stale = append(stale, StaleLink{State: st, Action: models.ActionPull})
		case st.SyncStatus == models.StatusSyncing:
			stale = append(stale, StaleLink{State: st, Action: models.ActionPush})
		}
	}

	return stale, nil
}

func (t *Tracker) update(tenantID, documentID string, fn func(st *models.DocumentSyncState)) (*models.DocumentSyncState, error) {
	var before models.SyncStatus

	st, err := t.state.UpdateSyncState(tenantID, documentID, func(st *models.DocumentSyncState) error {
		before = st.SyncStatus
		fn(st)
		st.UpdatedAt = t.now()

		return nil
	})
	if err != nil {
		return nil, err
	}

	if before != st.SyncStatus {
		t.logger.Debug("sync status changed",
			slog.String("document_id", documentID),
			slog.String("from", string(before)),
			slog.String("to", string(st.SyncStatus)),
		)
	}

	t.publish(*st)

	return st, nil
}

// Subscribe returns a channel of state changes for one tenant and a
// function that ends the subscription.
func (t *Tracker) Subscribe(tenantID string) (<-chan models.DocumentSyncState, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextID
	t.nextID++

	ch := make(chan models.DocumentSyncState, subscriberBuffer)
	t.subs[id] = subscriber{tenantID: tenantID, ch: ch}

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publish(st models.DocumentSyncState) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	for _, sub := range t.subs {
		if sub.tenantID != st.TenantID {
			continue
		}

		select {
		case sub.ch <- st:
		default:
			t.logger.Debug("status subscriber full, dropping update",
				slog.String("document_id", st.DocumentID),
			)
		}
	}
}
