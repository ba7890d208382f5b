package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

func versionKey(n int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))

	return k
}

// BuildVersion produces the record to append given the document's latest
// stored version (nil for the first) and the number it will be stored
// under.
type BuildVersion func(prev *models.DocumentVersion, number int64) (models.DocumentVersion, error)

// AppendVersion assigns the next version number for a document and stores
// the record produced by build, all in one write transaction. Numbers come
// from the bucket sequence, so they start at 1 and have no gaps.
func (s *State) AppendVersion(tenantID, documentID string, build BuildVersion) (models.DocumentVersion, error) {
	var out models.DocumentVersion

	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		out, err = appendVersion(tx, tenantID, documentID, build)

		return err
	})

	return out, err
}

func appendVersion(tx *bolt.Tx, tenantID, documentID string, build BuildVersion) (models.DocumentVersion, error) {
	b, err := tx.CreateBucketIfNotExists(versionsBucket(tenantID, documentID))
	if err != nil {
		return models.DocumentVersion{}, err
	}

	var prev *models.DocumentVersion

	if k, raw := b.Cursor().Last(); k != nil {
		prev = &models.DocumentVersion{}
		if err := json.Unmarshal(raw, prev); err != nil {
			return models.DocumentVersion{}, fmt.Errorf("decoding latest version: %w", err)
		}
	}

	seq, err := b.NextSequence()
	if err != nil {
		return models.DocumentVersion{}, err
	}

	v, err := build(prev, int64(seq))
	if err != nil {
		return models.DocumentVersion{}, err
	}

	v.VersionNumber = int64(seq)
	v.DocumentID = documentID
	v.TenantID = tenantID

	return v, putJSON(tx, versionsBucket(tenantID, documentID), versionKey(v.VersionNumber), v)
}

// ListVersions returns a document's versions in append order.
func (s *State) ListVersions(tenantID, documentID string) ([]models.DocumentVersion, error) {
	var out []models.DocumentVersion

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, versionsBucket(tenantID, documentID), func(_ []byte, v *models.DocumentVersion) error {
			out = append(out, *v)
			return nil
		})
	})

	return out, err
}

// GetVersion returns one version of a document.
func (s *State) GetVersion(tenantID, documentID string, number int64) (*models.DocumentVersion, error) {
	var v *models.DocumentVersion

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = getJSON[models.DocumentVersion](tx, versionsBucket(tenantID, documentID), versionKey(number))

		return err
	})
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, fmt.Errorf("version %d of %s: %w", number, documentID, derrors.ErrNotFound)
	}

	return v, nil
}

// LatestVersion returns a document's newest version, or nil if it has none.
func (s *State) LatestVersion(tenantID, documentID string) (*models.DocumentVersion, error) {
	var latest *models.DocumentVersion

	err := s.db.View(func(tx *bolt.Tx) error {
		return reverseJSON(tx, versionsBucket(tenantID, documentID), func(v *models.DocumentVersion) bool {
			latest = v
			return false
		})
	})

	return latest, err
}
