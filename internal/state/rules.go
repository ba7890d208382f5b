package state

import (
	"github.com/alexjbarnes/docsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// PutRule creates or replaces a coordination rule.
func (s *State) PutRule(r models.CoordinationRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tenantBucket(r.TenantID, kindRules), []byte(r.ID), r)
	})
}

// GetRule returns a rule by id, or nil if not found.
func (s *State) GetRule(tenantID, ruleID string) (*models.CoordinationRule, error) {
	var r *models.CoordinationRule

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = getJSON[models.CoordinationRule](tx, tenantBucket(tenantID, kindRules), []byte(ruleID))

		return err
	})

	return r, err
}

// ListRules returns every rule for a tenant, active or not, in id order.
func (s *State) ListRules(tenantID string) ([]models.CoordinationRule, error) {
	var rules []models.CoordinationRule

	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachJSON(tx, tenantBucket(tenantID, kindRules), func(_ []byte, r *models.CoordinationRule) error {
			rules = append(rules, *r)
			return nil
		})
	})

	return rules, err
}
