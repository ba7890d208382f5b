// Package history records immutable document snapshots. Version numbers
// start at 1 and increase by one per document with no gaps. Versions are
// never edited or deleted: a correction is a new version.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/oklog/ulid/v2"
)

// History records and reads document versions.
type History struct {
	state  *state.State
	logger *slog.Logger
	now    func() time.Time
}

// New creates a History over the given store.
func New(st *state.State, logger *slog.Logger) *History {
	return &History{
		state:  st,
		logger: logger.With(slog.String("component", "history")),
		now:    time.Now,
	}
}

// Entry is one snapshot to record.
type Entry struct {
	TenantID   string
	DocumentID string
	Source     models.DocumentSource
	Snapshot   json.RawMessage

	// Previous is the snapshot to diff against. When nil the document's
	// latest stored version is used. The first version of a document has
	// no diff summary.
	Previous json.RawMessage

	CreatedBy string
}

// Record appends a version and returns it.
func (h *History) Record(e Entry) (models.DocumentVersion, error) {
	if e.TenantID == "" || e.DocumentID == "" {
		return models.DocumentVersion{}, fmt.Errorf("tenant and document are required: %w", derrors.ErrInvalidInput)
	}

	v, err := h.state.AppendVersion(e.TenantID, e.DocumentID, func(prev *models.DocumentVersion, _ int64) (models.DocumentVersion, error) {
		return h.build(e, prev)
	})
	if err != nil {
		return models.DocumentVersion{}, fmt.Errorf("recording version of %s: %w", e.DocumentID, err)
	}

	h.recorded(v)

	return v, nil
}

// Change is a document write that is versioned as it is stored.
type Change struct {
	TenantID   string
	DocumentID string
	Source     models.DocumentSource
	CreatedBy  string

	// Update modifies the stored document. link is the document's sync
	// state, nil when unlinked; changes to it are stored with the document.
	// An error aborts the change and is returned unwrapped.
	Update func(doc *models.Document, link *models.DocumentSyncState) error
}

// Apply runs c.Update and records the resulting content as a version in
// the same transaction, diffed against the content it replaced. Either
// both the document and its version are stored or neither is.
func (h *History) Apply(c Change) (*models.Document, models.DocumentVersion, error) {
	if c.TenantID == "" || c.DocumentID == "" {
		return nil, models.DocumentVersion{}, fmt.Errorf("tenant and document are required: %w", derrors.ErrInvalidInput)
	}

	doc, v, err := h.state.WriteDocument(state.DocumentWrite{
		TenantID:   c.TenantID,
		DocumentID: c.DocumentID,
		Update:     c.Update,
		Version: func(before, after models.Document, prev *models.DocumentVersion) (models.DocumentVersion, error) {
			return h.build(Entry{
				TenantID:   c.TenantID,
				DocumentID: c.DocumentID,
				Source:     c.Source,
				Snapshot:   after.Content,
				Previous:   before.Content,
				CreatedBy:  c.CreatedBy,
			}, prev)
		},
	})
	if err != nil {
		return nil, models.DocumentVersion{}, err
	}

	h.recorded(v)

	return doc, v, nil
}

// build produces the version for e given the latest stored one.
func (h *History) build(e Entry, prev *models.DocumentVersion) (models.DocumentVersion, error) {
	if !json.Valid(e.Snapshot) {
		return models.DocumentVersion{}, fmt.Errorf("snapshot is not valid JSON: %w", derrors.ErrInvalidInput)
	}

	if e.Source == "" {
		e.Source = models.SourceInternal
	}

	base := e.Previous
	if base == nil && prev != nil {
		base = prev.Snapshot
	}

	var summary *models.DiffSummary

	if base != nil {
		s, err := DiffSnapshots(base, e.Snapshot)
		if err != nil {
			return models.DocumentVersion{}, err
		}

		summary = &s
	}

	return models.DocumentVersion{
		ID:          ulid.Make().String(),
		Source:      e.Source,
		Snapshot:    e.Snapshot,
		DiffSummary: summary,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   h.now(),
	}, nil
}

func (h *History) recorded(v models.DocumentVersion) {
	h.logger.Debug("version recorded",
		slog.String("document_id", v.DocumentID),
		slog.Int64("version", v.VersionNumber),
		slog.String("source", string(v.Source)),
	)
}

// List returns a document's versions in append order.
func (h *History) List(tenantID, documentID string) ([]models.DocumentVersion, error) {
	return h.state.ListVersions(tenantID, documentID)
}

// Get returns one version. Returns ErrNotFound for an unknown number.
func (h *History) Get(tenantID, documentID string, number int64) (*models.DocumentVersion, error) {
	return h.state.GetVersion(tenantID, documentID, number)
}

// Latest returns the newest version of a document, or ErrNotFound.
func (h *History) Latest(tenantID, documentID string) (*models.DocumentVersion, error) {
	v, err := h.state.LatestVersion(tenantID, documentID)
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, fmt.Errorf("versions of %s: %w", documentID, derrors.ErrNotFound)
	}

	return v, nil
}

// DiffVersions summarises the change from version a to version b.
func (h *History) DiffVersions(tenantID, documentID string, a, b int64) (models.DiffSummary, error) {
	va, err := h.Get(tenantID, documentID, a)
	if err != nil {
		return models.DiffSummary{}, err
	}

	vb, err := h.Get(tenantID, documentID, b)
	if err != nil {
		return models.DiffSummary{}, err
	}

	return DiffSnapshots(va.Snapshot, vb.Snapshot)
}
