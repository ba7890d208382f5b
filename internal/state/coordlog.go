package state

import (
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// LogFilter narrows a coordination log query. Zero fields match anything.
type LogFilter struct {
	TriggerDocumentID string
	RuleID            string
	Limit             int
}

func (f LogFilter) match(e *models.CoordinationLogEntry) bool {
	if f.TriggerDocumentID != "" && e.TriggerDocumentID != f.TriggerDocumentID {
		return false
	}

	return f.RuleID == "" || e.RuleID == f.RuleID
}

// AppendLogEntry writes one coordination log entry. Entries are keyed by
// their ULID id and never rewritten.
func (s *State) AppendLogEntry(e models.CoordinationLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tenantBucket(e.TenantID, kindCoordLog), []byte(e.ID), e)
	})
}

// ListLogEntries returns matching entries newest first.
func (s *State) ListLogEntries(tenantID string, f LogFilter) ([]models.CoordinationLogEntry, error) {
	var out []models.CoordinationLogEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		return reverseJSON(tx, tenantBucket(tenantID, kindCoordLog), func(e *models.CoordinationLogEntry) bool {
			if f.match(e) {
				out = append(out, *e)
			}

			return f.Limit <= 0 || len(out) < f.Limit
		})
	})

	return out, err
}
