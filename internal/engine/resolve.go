package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alexjbarnes/docsync/internal/conflict"
	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/history"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/tracker"
)

// resolvePriority puts a keep_cloud pull ahead of ordinary work.
const resolvePriority = 0

// ResolveConflict records a resolution and applies it.
//
// keep_local keeps the stored content, records it as a version and pushes
// it over the cloud copy. keep_cloud replaces the stored content with the
// captured cloud copy, or queues a forced pull when none was captured.
// merge stores the supplied merged content and pushes it. Any content
// change is recorded as a version and cascaded to dependent documents.
//
// The resolution is committed before it is applied. If applying fails the
// link stays in conflict until Recover applies it again.
func (s *Service) ResolveConflict(ctx context.Context, req conflict.ResolveRequest) (*models.SyncConflict, error) {
	c, err := s.resolver.Resolve(req)
	if err != nil {
		return nil, err
	}

	st, err := s.tracker.Get(c.TenantID, c.DocumentID)
	if errors.Is(err, derrors.ErrNotLinked) {
		s.logger.Info("conflict resolved for unlinked document", slog.String("document_id", c.DocumentID))
		return c, nil
	}

	if err != nil {
		return nil, err
	}

	if err := s.applyResolution(ctx, c, *st); err != nil {
		return nil, err
	}

	return c, nil
}

// applyResolution moves a conflicted link to a new sync point according
// to a resolved conflict. Applying the same resolution twice leaves the
// same content in place.
func (s *Service) applyResolution(ctx context.Context, c *models.SyncConflict, st models.DocumentSyncState) error {
	syncedAt := latest(st.LastLocalEditAt, st.LastCloudEditAt)
	at := s.now()

	switch c.Resolution {
	case models.ResolutionKeepLocal:
		if err := s.recordKept(c); err != nil {
			return err
		}

		if err := s.settle(st, syncedAt); err != nil {
			return err
		}

		return s.markLocalEdit(ctx, c.TenantID, c.DocumentID, at)

	case models.ResolutionMerge:
		if err := s.applyResolved(ctx, c, contentFromCloud(c.MergedContent), at, models.SourceInternal); err != nil {
			return err
		}

		if err := s.settle(st, syncedAt); err != nil {
			return err
		}

		return s.markLocalEdit(ctx, c.TenantID, c.DocumentID, at)

	case models.ResolutionKeepCloud:
		if c.CloudVersion.Content == "" {
			if err := s.settle(st, syncedAt); err != nil {
				return err
			}

			return s.enqueue(ctx, st, models.ActionResolve, resolvePriority)
		}

		source := c.CloudVersion.Source
		if source == "" {
			source = st.Metadata.Source()
		}

		if err := s.applyResolved(ctx, c, contentFromCloud(c.CloudVersion.Content), at, source); err != nil {
			return err
		}

		return s.settle(st, syncedAt)
	}

	return nil
}

// recordKept records the stored content as the version a keep_local
// resolution chose.
func (s *Service) recordKept(c *models.SyncConflict) error {
	doc, err := s.Document(c.TenantID, c.DocumentID)
	if err != nil {
		return err
	}

	_, err = s.history.Record(history.Entry{
		TenantID:   c.TenantID,
		DocumentID: c.DocumentID,
		Source:     models.SourceInternal,
		Snapshot:   doc.Content,
		CreatedBy:  c.ResolvedBy,
	})

	return err
}

// settle leaves the conflict state with a new sync point.
func (s *Service) settle(st models.DocumentSyncState, syncedAt time.Time) error {
	_, err := s.tracker.RecordSyncAttempt(st.TenantID, st.DocumentID, tracker.Attempt{
		Outcome:  tracker.OutcomeResolved,
		SyncedAt: syncedAt,
	})

	return err
}

// applyResolved writes resolved content, records the version and starts
// cascades for the sections that changed.
func (s *Service) applyResolved(_ context.Context, c *models.SyncConflict, content json.RawMessage, at time.Time, source models.DocumentSource) error {
	_, v, err := s.writeContent(contentWrite{
		tenantID:   c.TenantID,
		documentID: c.DocumentID,
		content:    content,
		at:         at,
		by:         c.ResolvedBy,
		source:     source,
	})
	if err != nil {
		return err
	}

	if v.DiffSummary != nil {
		s.cascade(c.TenantID, c.DocumentID, v.DiffSummary.SectionsChanged)
	}

	return nil
}
