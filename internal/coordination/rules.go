package coordination

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultDocTypes are the proposal document types rules may reference.
var DefaultDocTypes = []string{
	"cover_letter",
	"executive_summary",
	"technical_volume",
	"management_volume",
	"past_performance",
	"pricing_volume",
	"staffing_plan",
	"quality_plan",
	"transition_plan",
	"subcontracting_plan",
	"compliance_matrix",
	"resume",
	"org_chart",
	"schedule",
	"risk_register",
}

// RuleInput holds the fields of a new rule.
type RuleInput struct {
	TenantID        string
	SourceDocType   string
	SourceFieldPath string
	TargetDocType   string
	TargetFieldPath string
	TransformType   models.TransformType
	Description     string
}

// RuleUpdate is a partial rule edit. Nil fields are left unchanged.
type RuleUpdate struct {
	SourceDocType   *string
	SourceFieldPath *string
	TargetDocType   *string
	TargetFieldPath *string
	TransformType   *models.TransformType
	Description     *string
	IsActive        *bool
}

func (e *Engine) validate(r *models.CoordinationRule) error {
	r.SourceFieldPath = strings.TrimSpace(r.SourceFieldPath)
	r.TargetFieldPath = strings.TrimSpace(r.TargetFieldPath)

	switch {
	case r.TenantID == "":
		return fmt.Errorf("tenant is required: %w", derrors.ErrInvalidRule)
	case !slices.Contains(e.docTypes, r.SourceDocType):
		return fmt.Errorf("unknown source document type %q: %w", r.SourceDocType, derrors.ErrInvalidRule)
	case !slices.Contains(e.docTypes, r.TargetDocType):
		return fmt.Errorf("unknown target document type %q: %w", r.TargetDocType, derrors.ErrInvalidRule)
	case !r.TransformType.Valid():
		return fmt.Errorf("unknown transform %q: %w", r.TransformType, derrors.ErrInvalidRule)
	case r.SourceFieldPath == "" || r.TargetFieldPath == "":
		return fmt.Errorf("field paths are required: %w", derrors.ErrInvalidRule)
	case r.SourceDocType == r.TargetDocType && r.SourceFieldPath == r.TargetFieldPath:
		return fmt.Errorf("rule maps %s.%s onto itself: %w", r.SourceDocType, r.SourceFieldPath, derrors.ErrInvalidRule)
	}

	return nil
}

// CreateRule validates and stores a new active rule.
func (e *Engine) CreateRule(in RuleInput) (*models.CoordinationRule, error) {
	now := e.now()
	r := models.CoordinationRule{
		ID:              uuid.New().String(),
		TenantID:        in.TenantID,
		SourceDocType:   in.SourceDocType,
		SourceFieldPath: in.SourceFieldPath,
		TargetDocType:   in.TargetDocType,
		TargetFieldPath: in.TargetFieldPath,
		TransformType:   in.TransformType,
		IsActive:        true,
		Description:     in.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.validate(&r); err != nil {
		return nil, err
	}

	if err := e.state.PutRule(r); err != nil {
		return nil, fmt.Errorf("storing rule: %w", err)
	}

	e.logger.Info("coordination rule created",
		slog.String("rule_id", r.ID),
		slog.String("source", r.SourceDocType+"."+r.SourceFieldPath),
		slog.String("target", r.TargetDocType+"."+r.TargetFieldPath),
	)

	return &r, nil
}

// GetRule returns a rule, or ErrNotFound.
func (e *Engine) GetRule(tenantID, ruleID string) (*models.CoordinationRule, error) {
	r, err := e.state.GetRule(tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	if r == nil {
		return nil, fmt.Errorf("rule %s: %w", ruleID, derrors.ErrNotFound)
	}

	return r, nil
}

// UpdateRule applies a partial edit and revalidates the result.
func (e *Engine) UpdateRule(tenantID, ruleID string, u RuleUpdate) (*models.CoordinationRule, error) {
	r, err := e.GetRule(tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	setIf(&r.SourceDocType, u.SourceDocType)
	setIf(&r.SourceFieldPath, u.SourceFieldPath)
	setIf(&r.TargetDocType, u.TargetDocType)
	setIf(&r.TargetFieldPath, u.TargetFieldPath)
	setIf(&r.TransformType, u.TransformType)
	setIf(&r.Description, u.Description)
	setIf(&r.IsActive, u.IsActive)

	if err := e.validate(r); err != nil {
		return nil, err
	}

	r.UpdatedAt = e.now()

	if err := e.state.PutRule(*r); err != nil {
		return nil, fmt.Errorf("storing rule: %w", err)
	}

	return r, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// DeactivateRule stops a rule from being evaluated. The record is kept so
// log entries keep pointing at it.
func (e *Engine) DeactivateRule(tenantID, ruleID string) error {
	inactive := false
	_, err := e.UpdateRule(tenantID, ruleID, RuleUpdate{IsActive: &inactive})

	return err
}

// ListRules returns every rule of a tenant, active or not.
func (e *Engine) ListRules(tenantID string) ([]models.CoordinationRule, error) {
	return e.state.ListRules(tenantID)
}

// ActiveRules returns the rules that are evaluated on change.
func (e *Engine) ActiveRules(tenantID string) ([]models.CoordinationRule, error) {
	rules, err := e.state.ListRules(tenantID)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(rules, func(r models.CoordinationRule) bool { return !r.IsActive }), nil
}

type rulesFile struct {
	Rules []models.CoordinationRule `yaml:"rules"`
}

// LoadRulesFile seeds rules from a YAML file. Rules are keyed by id, so
// loading the same file twice leaves one copy of each rule.
//
//	rules:
//	  - id: ceiling-to-contract-value
//	    tenant_id: acme
//	    source_doc_type: opportunity
//	    source_field_path: ceiling
//	    target_doc_type: cost_model
//	    target_field_path: contractValue
//	    transform_type: copy
//	    is_active: true
func (e *Engine) LoadRulesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parsing rules file: %w", err)
	}

	now := e.now()

	for i := range f.Rules {
		r := f.Rules[i]
		if r.ID == "" {
			return i, fmt.Errorf("rule %d has no id: %w", i, derrors.ErrInvalidRule)
		}

		if err := e.validate(&r); err != nil {
			return i, fmt.Errorf("rule %s: %w", r.ID, err)
		}

		existing, err := e.state.GetRule(r.TenantID, r.ID)
		if err != nil {
			return i, err
		}

		r.CreatedAt = now
		if existing != nil {
			r.CreatedAt = existing.CreatedAt
		}

		r.UpdatedAt = now

		if err := e.state.PutRule(r); err != nil {
			return i, fmt.Errorf("storing rule %s: %w", r.ID, err)
		}
	}

	e.logger.Info("coordination rules loaded", slog.String("path", path), slog.Int("count", len(f.Rules)))

	return len(f.Rules), nil
}
