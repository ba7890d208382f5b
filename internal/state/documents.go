package state

import (
	"fmt"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetDocument returns a document, or nil if not found.
func (s *State) GetDocument(tenantID, documentID string) (*models.Document, error) {
	var doc *models.Document

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = getJSON[models.Document](tx, tenantBucket(tenantID, kindDocuments), []byte(documentID))

		return err
	})

	return doc, err
}

// PutDocument creates or replaces a document.
func (s *State) PutDocument(doc models.Document) error {
	if doc.ID == "" || doc.TenantID == "" {
		return fmt.Errorf("document id and tenant are required: %w", derrors.ErrInvalidInput)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tenantBucket(doc.TenantID, kindDocuments), []byte(doc.ID), doc)
	})
}

// DocumentWrite changes a document and appends a version of the result.
type DocumentWrite struct {
	TenantID   string
	DocumentID string

	// Update modifies the stored document. link is the document's sync
	// state, nil when the document is unlinked. Changes made to a non-nil
	// link are stored with the document.
	Update func(doc *models.Document, link *models.DocumentSyncState) error

	// Version builds the version to append from the document as it was
	// before and after Update.
	Version func(before, after models.Document, prev *models.DocumentVersion) (models.DocumentVersion, error)
}

// WriteDocument applies w in a single write transaction: the document, its
// link and the new version are stored together or not at all. An error
// from Update or Version aborts the write and is returned unchanged.
func (s *State) WriteDocument(w DocumentWrite) (*models.Document, models.DocumentVersion, error) {
	var (
		out     *models.Document
		version models.DocumentVersion
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(w.DocumentID)
		docs := tenantBucket(w.TenantID, kindDocuments)
		links := tenantBucket(w.TenantID, kindSync)

		doc, err := getJSON[models.Document](tx, docs, key)
		if err != nil {
			return err
		}

		if doc == nil {
			return fmt.Errorf("document %s: %w", w.DocumentID, derrors.ErrNotFound)
		}

		link, err := getJSON[models.DocumentSyncState](tx, links, key)
		if err != nil {
			return err
		}

		before := *doc

		if err := w.Update(doc, link); err != nil {
			return err
		}

		if err := putJSON(tx, docs, key, doc); err != nil {
			return err
		}

		if link != nil {
			if err := putJSON(tx, links, key, link); err != nil {
				return err
			}
		}

		version, err = appendVersion(tx, w.TenantID, w.DocumentID, func(prev *models.DocumentVersion, _ int64) (models.DocumentVersion, error) {
			return w.Version(before, *doc, prev)
		})
		if err != nil {
			return err
		}

		out = doc

		return nil
	})
	if err != nil {
		return nil, models.DocumentVersion{}, err
	}

	return out, version, nil
}

// RelatedDocuments returns the documents of docType that share parentID.
// Documents without a parent are never related to anything.
func (s *State) RelatedDocuments(tenantID, parentID, docType string) ([]models.Document, error) {
	if parentID == "" {
		return nil, nil
	}

	var docs []models.Document

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindDocuments), func(_ []byte, d *models.Document) error {
			if d.ParentID == parentID && d.DocType == docType {
				docs = append(docs, *d)
			}

			return nil
		})
	})

	return docs, err
}

// AllDocuments returns every document for a tenant in id order.
func (s *State) AllDocuments(tenantID string) ([]models.Document, error) {
	var docs []models.Document

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindDocuments), func(_ []byte, d *models.Document) error {
			docs = append(docs, *d)
			return nil
		})
	})

	return docs, err
}
