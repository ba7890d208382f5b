// Package conflict detects divergent local and cloud edits and records
// their resolution. The resolver never computes a merge: a merged payload
// is authored upstream and only recorded here.
package conflict

import (
	"fmt"
	"log/slog"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/history"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/tracker"
	"github.com/oklog/ulid/v2"
)

// Resolver creates and resolves conflicts.
type Resolver struct {
	state   *state.State
	tracker *tracker.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Resolver.
func New(st *state.State, tr *tracker.Tracker, logger *slog.Logger) *Resolver {
	return &Resolver{
		state:   st,
		tracker: tr,
		logger:  logger.With(slog.String("component", "conflict")),
		now:     time.Now,
	}
}

// Capture holds both versions of a diverged document.
type Capture struct {
	TenantID   string
	DocumentID string
	SectionID  string
	Provider   models.CloudProvider
	Local      models.LocalVersion
	Cloud      models.CloudVersion
}

// Create records a pending conflict and moves the link to conflict. If the
// document already has a pending conflict that one is returned instead, so
// a document never carries two open conflicts.
func (r *Resolver) Create(c Capture) (*models.SyncConflict, error) {
	latest, err := r.state.LatestConflict(c.TenantID, c.DocumentID)
	if err != nil {
		return nil, err
	}

	if latest != nil && !latest.Resolved() {
		return latest, nil
	}

	conflict := models.SyncConflict{
		ID:           ulid.Make().String(),
		DocumentID:   c.DocumentID,
		SectionID:    c.SectionID,
		TenantID:     c.TenantID,
		Provider:     c.Provider,
		LocalVersion: c.Local,
		CloudVersion: c.Cloud,
		Resolution:   models.ResolutionPending,
		CreatedAt:    r.now(),
	}

	if err := r.state.PutConflict(conflict); err != nil {
		return nil, fmt.Errorf("storing conflict for %s: %w", c.DocumentID, err)
	}

	if _, err := r.tracker.RecordSyncAttempt(c.TenantID, c.DocumentID, tracker.Attempt{Outcome: tracker.OutcomeConflict}); err != nil {
		return nil, fmt.Errorf("marking %s conflicted: %w", c.DocumentID, err)
	}

	r.logger.Info("sync conflict detected",
		slog.String("conflict_id", conflict.ID),
		slog.String("document_id", c.DocumentID),
		slog.Time("local_updated_at", c.Local.UpdatedAt),
		slog.Time("cloud_updated_at", c.Cloud.UpdatedAt),
	)

	return &conflict, nil
}

// CaptureFromState builds a Capture for a linked document from its stored
// content and the last observed cloud content.
func (r *Resolver) CaptureFromState(st models.DocumentSyncState) (Capture, error) {
	doc, err := r.state.GetDocument(st.TenantID, st.DocumentID)
	if err != nil {
		return Capture{}, err
	}

	if doc == nil {
		return Capture{}, fmt.Errorf("document %s: %w", st.DocumentID, derrors.ErrNotFound)
	}

	shadow, err := r.state.GetCloudShadow(st.TenantID, st.DocumentID)
	if err != nil {
		return Capture{}, err
	}

	c := Capture{
		TenantID:   st.TenantID,
		DocumentID: st.DocumentID,
		Provider:   st.CloudProvider,
		Local: models.LocalVersion{
			Content:   string(doc.Content),
			UpdatedAt: st.LastLocalEditAt,
			UpdatedBy: doc.UpdatedBy,
		},
		Cloud: models.CloudVersion{
			UpdatedAt: st.LastCloudEditAt,
			Source:    st.Metadata.Source(),
		},
	}

	if shadow != nil {
		c.Cloud.Content = shadow.Content
		c.Cloud.Source = shadow.Source
	}

	return c, nil
}

// ResolveRequest is a resolution decision for one conflict.
type ResolveRequest struct {
	TenantID      string
	ConflictID    string
	Resolution    models.ConflictResolution
	MergedContent string
	ResolvedBy    string
}

// Resolve records a resolution. A conflict is resolved at most once: a
// second call fails with ErrAlreadyResolved and leaves the stored record
// untouched. Applying the resolution to the document and its link is the
// caller's job.
func (r *Resolver) Resolve(req ResolveRequest) (*models.SyncConflict, error) {
	switch req.Resolution {
	case models.ResolutionKeepLocal, models.ResolutionKeepCloud:
	case models.ResolutionMerge:
		if req.MergedContent == "" {
			return nil, derrors.ErrMergeContent
		}
	default:
		return nil, fmt.Errorf("%q: %w", req.Resolution, derrors.ErrInvalidResolution)
	}

	c, err := r.state.UpdateConflict(req.TenantID, req.ConflictID, func(c *models.SyncConflict) error {
		if c.Resolved() {
			return fmt.Errorf("conflict %s resolved as %s: %w", c.ID, c.Resolution, derrors.ErrAlreadyResolved)
		}

		c.Resolution = req.Resolution
		c.ResolvedBy = req.ResolvedBy
		c.ResolvedAt = r.now()

		if req.Resolution == models.ResolutionMerge {
			c.MergedContent = req.MergedContent
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("sync conflict resolved",
		slog.String("conflict_id", c.ID),
		slog.String("document_id", c.DocumentID),
		slog.String("resolution", string(c.Resolution)),
		slog.String("resolved_by", c.ResolvedBy),
	)

	return c, nil
}

// Get returns a conflict, or ErrNotFound.
func (r *Resolver) Get(tenantID, conflictID string) (*models.SyncConflict, error) {
	c, err := r.state.GetConflict(tenantID, conflictID)
	if err != nil {
		return nil, err
	}

	if c == nil {
		return nil, fmt.Errorf("conflict %s: %w", conflictID, derrors.ErrNotFound)
	}

	return c, nil
}

// List returns a tenant's conflicts oldest first, optionally for one
// document and optionally pending only.
func (r *Resolver) List(tenantID, documentID string, pendingOnly bool) ([]models.SyncConflict, error) {
	return r.state.ListConflicts(tenantID, documentID, pendingOnly)
}

// Regions returns the line ranges where the local and cloud versions of a
// conflict differ, for side-by-side display.
func Regions(c models.SyncConflict) []history.Hunk {
	return history.LineHunks(c.LocalVersion.Content, c.CloudVersion.Content)
}
