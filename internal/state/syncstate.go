package state

import (
	"fmt"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetSyncState returns the sync link for a document, or nil if the
// document is not linked.
func (s *State) GetSyncState(tenantID, documentID string) (*models.DocumentSyncState, error) {
	var st *models.DocumentSyncState

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		st, err = getJSON[models.DocumentSyncState](tx, tenantBucket(tenantID, kindSync), []byte(documentID))

		return err
	})

	return st, err
}

// CreateSyncState stores a new link. It fails with ErrAlreadyLinked when
// the document already has one.
func (s *State) CreateSyncState(st models.DocumentSyncState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tenantBucket(st.TenantID, kindSync)

		existing, err := getJSON[models.DocumentSyncState](tx, bucket, []byte(st.DocumentID))
		if err != nil {
			return err
		}

		if existing != nil {
			return fmt.Errorf("document %s linked to %s: %w", st.DocumentID, existing.CloudProvider, derrors.ErrAlreadyLinked)
		}

		return putJSON(tx, bucket, []byte(st.DocumentID), st)
	})
}

// UpdateSyncState applies fn to the stored link inside a single write
// transaction. Returns ErrNotLinked when no link exists.
func (s *State) UpdateSyncState(tenantID, documentID string, fn func(st *models.DocumentSyncState) error) (*models.DocumentSyncState, error) {
	var out *models.DocumentSyncState

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tenantBucket(tenantID, kindSync)

		st, err := getJSON[models.DocumentSyncState](tx, bucket, []byte(documentID))
		if err != nil {
			return err
		}

		if st == nil {
			return fmt.Errorf("document %s: %w", documentID, derrors.ErrNotLinked)
		}

		if err := fn(st); err != nil {
			return err
		}

		out = st

		return putJSON(tx, bucket, []byte(documentID), st)
	})

	return out, err
}

// DeleteSyncState removes a link together with its cloud shadow.
func (s *State) DeleteSyncState(tenantID, documentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, kind := range []string{kindSync, kindShadow} {
			b := tx.Bucket(tenantBucket(tenantID, kind))
			if b == nil {
				continue
			}

			if err := b.Delete([]byte(documentID)); err != nil {
				return err
			}
		}

		return nil
	})
}

// AllSyncStates returns every link for a tenant in document id order.
func (s *State) AllSyncStates(tenantID string) ([]models.DocumentSyncState, error) {
	var states []models.DocumentSyncState

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindSync), func(_ []byte, st *models.DocumentSyncState) error {
			states = append(states, *st)
			return nil
		})
	})

	return states, err
}

// SyncStateByCloudFile finds the link for a provider's file id, or nil.
func (s *State) SyncStateByCloudFile(tenantID string, provider models.CloudProvider, cloudFileID string) (*models.DocumentSyncState, error) {
	var found *models.DocumentSyncState

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindSync), func(_ []byte, st *models.DocumentSyncState) error {
			if found == nil && st.CloudProvider == provider && st.CloudFileID == cloudFileID {
				found = st
			}

			return nil
		})
	})

	return found, err
}

// GetCloudShadow returns the last observed cloud content for a link, or nil.
func (s *State) GetCloudShadow(tenantID, documentID string) (*models.CloudShadow, error) {
	var sh *models.CloudShadow

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sh, err = getJSON[models.CloudShadow](tx, tenantBucket(tenantID, kindShadow), []byte(documentID))

		return err
	})

	return sh, err
}

// PutCloudShadow replaces the observed cloud content for a link.
func (s *State) PutCloudShadow(tenantID string, sh models.CloudShadow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tenantBucket(tenantID, kindShadow), []byte(sh.DocumentID), sh)
	})
}
