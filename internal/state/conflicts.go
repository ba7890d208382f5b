package state

import (
	"fmt"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Conflict ids are ULIDs, so key order is creation order and the newest
// conflict for a document is found by scanning backwards.

// PutConflict stores a newly detected conflict.
func (s *State) PutConflict(c models.SyncConflict) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tenantBucket(c.TenantID, kindConflicts), []byte(c.ID), c)
	})
}

// GetConflict returns a conflict by id, or nil if not found.
func (s *State) GetConflict(tenantID, conflictID string) (*models.SyncConflict, error) {
	var c *models.SyncConflict

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getJSON[models.SyncConflict](tx, tenantBucket(tenantID, kindConflicts), []byte(conflictID))

		return err
	})

	return c, err
}

// UpdateConflict applies fn to a stored conflict inside a single write
// transaction, so a check of the current resolution and the write that
// replaces it cannot interleave with another resolver.
func (s *State) UpdateConflict(tenantID, conflictID string, fn func(c *models.SyncConflict) error) (*models.SyncConflict, error) {
	var out *models.SyncConflict

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tenantBucket(tenantID, kindConflicts)

		c, err := getJSON[models.SyncConflict](tx, bucket, []byte(conflictID))
		if err != nil {
			return err
		}

		if c == nil {
			return fmt.Errorf("conflict %s: %w", conflictID, derrors.ErrNotFound)
		}

		if err := fn(c); err != nil {
			return err
		}

		out = c

		return putJSON(tx, bucket, []byte(conflictID), c)
	})

	return out, err
}

// ListConflicts returns a tenant's conflicts oldest first. An empty
// documentID matches every document; pendingOnly drops resolved records.
func (s *State) ListConflicts(tenantID, documentID string, pendingOnly bool) ([]models.SyncConflict, error) {
	var out []models.SyncConflict

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindConflicts), func(_ []byte, c *models.SyncConflict) error {
			if documentID != "" && c.DocumentID != documentID {
				return nil
			}

			if pendingOnly && c.Resolved() {
				return nil
			}

			out = append(out, *c)

			return nil
		})
	})

	return out, err
}

// LatestConflict returns the most recent conflict for a document, or nil.
func (s *State) LatestConflict(tenantID, documentID string) (*models.SyncConflict, error) {
	var found *models.SyncConflict

	err := s.db.View(func(tx *bolt.Tx) error {
		return reverseJSON(tx, tenantBucket(tenantID, kindConflicts), func(c *models.SyncConflict) bool {
			if c.DocumentID == documentID {
				found = c
				return false
			}

			return true
		})
	})

	return found, err
}
