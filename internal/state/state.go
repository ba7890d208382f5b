// Package state persists every tenant-scoped entity in a single bbolt
// database. Each tenant gets its own flat set of buckets, named
// "tenant:<id>:<kind>", so a tenant's data can be scanned without touching
// any other tenant's keys.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

const tenantPrefix = "tenant:"

const (
	kindDocuments = "documents"
	kindSync      = "sync"
	kindShadow    = "shadow"
	kindConflicts = "conflicts"
	kindRules     = "rules"
	kindCoordLog  = "coordlog"
	kindVersions  = "versions"
)

func tenantBucket(tenantID, kind string) []byte {
	return []byte(tenantPrefix + tenantID + ":" + kind)
}

// versionsBucket holds one document's versions, keyed by big-endian
// version number so cursor order is version order.
func versionsBucket(tenantID, documentID string) []byte {
	return []byte(tenantPrefix + tenantID + ":" + kindVersions + ":" + documentID)
}

// State wraps a bbolt database for all persistent engine state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// parent directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Tenants returns every tenant that has at least one sync link, in
// lexical order. Used by crash recovery to scan all tenants.
func (s *State) Tenants() ([]string, error) {
	var tenants []string

	suffix := ":" + kindSync

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			n := string(name)
			if strings.HasPrefix(n, tenantPrefix) && strings.HasSuffix(n, suffix) {
				tenants = append(tenants, strings.TrimSuffix(strings.TrimPrefix(n, tenantPrefix), suffix))
			}

			return nil
		})
	})

	return tenants, err
}

// getJSON decodes the value at key into a new T, or returns nil when the
// bucket or key does not exist.
func getJSON[T any](tx *bolt.Tx, bucket, key []byte) (*T, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil, nil
	}

	v := b.Get(key)
	if v == nil {
		return nil, nil
	}

	out := new(T)
	if err := json.Unmarshal(v, out); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
	}

	return out, nil
}

// putJSON encodes v and stores it at key, creating the bucket on demand.
func putJSON(tx *bolt.Tx, bucket, key []byte, v any) error {
	b, err := tx.CreateBucketIfNotExists(bucket)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// forEachJSON decodes every value in bucket in key order. A missing
// bucket yields nothing.
func forEachJSON[T any](tx *bolt.Tx, bucket []byte, fn func(k []byte, v *T) error) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil
	}

	return b.ForEach(func(k, raw []byte) error {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decoding %s/%s: %w", bucket, k, err)
		}

		return fn(k, v)
	})
}

// reverseJSON walks bucket from the last key backwards, stopping when fn
// returns false.
func reverseJSON[T any](tx *bolt.Tx, bucket []byte, fn func(v *T) bool) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil
	}

	c := b.Cursor()
	for k, raw := c.Last(); k != nil; k, raw = c.Prev() {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decoding %s/%s: %w", bucket, k, err)
		}

		if !fn(v) {
			return nil
		}
	}

	return nil
}
