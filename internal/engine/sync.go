package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/docsync/internal/conflict"
	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/provider"
	"github.com/alexjbarnes/docsync/internal/tracker"
)

var (
	// errNoRemoteContent fails a pull whose provider has no copy of the file.
	errNoRemoteContent = errors.New("provider returned no content")

	// errEditedDuringPull aborts a pull whose document was edited locally
	// after the pull started.
	errEditedDuringPull = errors.New("document edited locally during pull")
)

// handle runs one queue item. The stored timestamps decide the direction:
// an edit on one side is pushed or pulled, edits on both sides become a
// conflict and nothing is transferred. A resolve item always pulls and
// discards the local edit.
func (s *Service) handle(ctx context.Context, item models.SyncQueueItem) error {
	st, err := s.tracker.Get(item.TenantID, item.DocumentID)
	if errors.Is(err, derrors.ErrNotLinked) {
		s.logger.Debug("skipping item for unlinked document", slog.String("document_id", item.DocumentID))
		return nil
	}

	if err != nil {
		return err
	}

	// Nothing moves until the conflict is resolved.
	if st.SyncStatus == models.StatusConflict {
		return nil
	}

	p, err := s.providers.Get(st.CloudProvider)
	if err != nil {
		return err
	}

	st, err = s.tracker.RecordSyncAttempt(item.TenantID, item.DocumentID, tracker.Attempt{Outcome: tracker.OutcomeStarted})
	if err != nil {
		return err
	}

	if item.Action == models.ActionResolve {
		return s.pull(ctx, p, *st, true)
	}

	switch conflict.Decide(*st) {
	case conflict.DecisionPush:
		return s.push(ctx, p, *st)
	case conflict.DecisionPull:
		return s.pull(ctx, p, *st, false)
	case conflict.DecisionConflict:
		return s.raiseConflict(*st)
	}

	_, err = s.tracker.RecordSyncAttempt(st.TenantID, st.DocumentID, tracker.Attempt{Outcome: tracker.OutcomeSynced})

	return err
}

func (s *Service) push(ctx context.Context, p provider.Provider, st models.DocumentSyncState) error {
	doc, err := s.Document(st.TenantID, st.DocumentID)
	if err != nil {
		return err
	}

	res, err := p.Push(ctx, st, string(doc.Content))
	if err != nil {
		return fmt.Errorf("pushing %s to %s: %w", st.DocumentID, st.CloudProvider, err)
	}

	a := tracker.Attempt{Outcome: tracker.OutcomeSynced, SyncedAt: st.LastLocalEditAt}
	if res != nil {
		a.CloudFileID = res.CloudFileID
	}

	if _, err := s.tracker.RecordSyncAttempt(st.TenantID, st.DocumentID, a); err != nil {
		return err
	}

	s.logger.Debug("pushed",
		slog.String("document_id", st.DocumentID),
		slog.String("provider", string(st.CloudProvider)),
	)

	return nil
}

// pull replaces local content with the cloud copy. With discardLocal the
// new sync point also covers local edits, which resolves a keep_cloud
// decision whose cloud content was not captured. A local edit stored while
// the provider call was in flight is never overwritten: the pulled content
// becomes the cloud side of a new conflict instead.
func (s *Service) pull(ctx context.Context, p provider.Provider, st models.DocumentSyncState, discardLocal bool) error {
	res, err := p.Pull(ctx, st)
	if err != nil {
		return fmt.Errorf("pulling %s from %s: %w", st.DocumentID, st.CloudProvider, err)
	}

	if res == nil {
		return fmt.Errorf("pulling %s from %s: %w", st.DocumentID, st.CloudProvider, errNoRemoteContent)
	}

	source := st.Metadata.Source()

	_, _, err = s.writeContent(contentWrite{
		tenantID:   st.TenantID,
		documentID: st.DocumentID,
		content:    contentFromCloud(res.Content),
		at:         s.now(),
		by:         string(source),
		source:     source,
		guard: func(link *models.DocumentSyncState) error {
			if link == nil {
				return fmt.Errorf("document %s: %w", st.DocumentID, derrors.ErrNotLinked)
			}

			if link.SyncStatus == models.StatusConflict || link.LastLocalEditAt.After(st.LastLocalEditAt) {
				return errEditedDuringPull
			}

			return nil
		},
	})

	switch {
	case errors.Is(err, errEditedDuringPull):
		return s.pullOvertaken(st, res, source)
	case errors.Is(err, derrors.ErrNotLinked):
		s.logger.Debug("document unlinked during pull", slog.String("document_id", st.DocumentID))
		return nil
	case err != nil:
		return err
	}

	syncedAt := st.LastCloudEditAt
	if syncedAt.IsZero() {
		syncedAt = res.RemoteUpdatedAt
	}

	outcome := tracker.OutcomeSynced
	if discardLocal {
		syncedAt = latest(syncedAt, st.LastLocalEditAt)
		outcome = tracker.OutcomeResolved
	}

	if _, err := s.tracker.RecordSyncAttempt(st.TenantID, st.DocumentID, tracker.Attempt{Outcome: outcome, SyncedAt: syncedAt}); err != nil {
		return err
	}

	s.logger.Debug("pulled",
		slog.String("document_id", st.DocumentID),
		slog.String("provider", string(st.CloudProvider)),
	)

	return nil
}

// pullOvertaken keeps pulled content that lost a race with a local edit as
// the cloud shadow and puts the document in conflict with the local edit.
func (s *Service) pullOvertaken(st models.DocumentSyncState, res *provider.PullResult, source models.DocumentSource) error {
	at := latest(st.LastCloudEditAt, res.RemoteUpdatedAt)

	fresh, err := s.tracker.RecordCloudEdit(st.TenantID, st.DocumentID, at, res.Content, source)
	if err != nil {
		return err
	}

	if fresh.SyncStatus == models.StatusConflict {
		return nil
	}

	s.logger.Info("local edit arrived during pull",
		slog.String("document_id", st.DocumentID),
		slog.String("provider", string(st.CloudProvider)),
	)

	return s.raiseConflict(*fresh)
}

func (s *Service) raiseConflict(st models.DocumentSyncState) error {
	c, err := s.resolver.CaptureFromState(st)
	if err != nil {
		return err
	}

	_, err = s.resolver.Create(c)

	return err
}

// dropped records a terminal failure on the link.
func (s *Service) dropped(_ context.Context, item models.SyncQueueItem, err error) {
	_, terr := s.tracker.RecordSyncAttempt(item.TenantID, item.DocumentID, tracker.Attempt{
		Outcome: tracker.OutcomeFailed,
		Error:   err.Error(),
	})
	if terr != nil && !errors.Is(terr, derrors.ErrNotLinked) {
		s.logger.Warn("recording sync failure",
			slog.String("document_id", item.DocumentID),
			slog.String("error", terr.Error()),
		)
	}
}

