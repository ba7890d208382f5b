package models

import (
	"encoding/json"
	"time"
)

// TransformType selects how a source value becomes a target value.
type TransformType string

const (
	TransformCopy      TransformType = "copy"
	TransformFormat    TransformType = "format"
	TransformAggregate TransformType = "aggregate"
	TransformReference TransformType = "reference"
)

// Valid reports whether t is a known transform.
func (t TransformType) Valid() bool {
	switch t {
	case TransformCopy, TransformFormat, TransformAggregate, TransformReference:
		return true
	}

	return false
}

// CoordinationRule maps a field of one document type to a field of another.
// Field paths are dot-separated paths into a document's JSON content.
type CoordinationRule struct {
	ID              string        `json:"id" yaml:"id"`
	TenantID        string        `json:"tenant_id" yaml:"tenant_id"`
	SourceDocType   string        `json:"source_doc_type" yaml:"source_doc_type"`
	SourceFieldPath string        `json:"source_field_path" yaml:"source_field_path"`
	TargetDocType   string        `json:"target_doc_type" yaml:"target_doc_type"`
	TargetFieldPath string        `json:"target_field_path" yaml:"target_field_path"`
	TransformType   TransformType `json:"transform_type" yaml:"transform_type"`
	IsActive        bool          `json:"is_active" yaml:"is_active"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt       time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time     `json:"updated_at" yaml:"-"`
}

// CascadeStatus is the outcome of evaluating a rule or a single target.
type CascadeStatus string

const (
	CascadePending CascadeStatus = "pending"
	CascadeApplied CascadeStatus = "applied"
	CascadeFailed  CascadeStatus = "failed"
	CascadeSkipped CascadeStatus = "skipped"
)

// FieldChange is one value written into a target document.
type FieldChange struct {
	DocumentID string          `json:"document_id"`
	FieldPath  string          `json:"field_path"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
}

// TargetOutcome is the per-target result of a rule evaluation.
type TargetOutcome struct {
	DocumentID string        `json:"document_id"`
	Status     CascadeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// CoordinationLogEntry is the append-only audit record of one rule
// evaluation.
type CoordinationLogEntry struct {
	ID                string          `json:"id"`
	RuleID            string          `json:"rule_id"`
	TriggerDocumentID string          `json:"trigger_document_id"`
	TenantID          string          `json:"tenant_id"`
	AffectedDocuments []string        `json:"affected_documents"`
	ChangesApplied    []FieldChange   `json:"changes_applied"`
	Outcomes          []TargetOutcome `json:"outcomes"`
	Status            CascadeStatus   `json:"status"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	ExecutedAt        time.Time       `json:"executed_at"`
}

// CascadePreviewItem describes a change a rule would make, without making it.
type CascadePreviewItem struct {
	RuleID          string          `json:"rule_id"`
	RuleDescription string          `json:"rule_description,omitempty"`
	TargetDocType   string          `json:"target_doc_type"`
	TargetFieldPath string          `json:"target_field_path"`
	DocumentID      string          `json:"document_id"`
	DocumentTitle   string          `json:"document_title"`
	CurrentValue    json.RawMessage `json:"current_value"`
	NewValue        json.RawMessage `json:"new_value"`
	Changed         bool            `json:"changed"`
	Error           string          `json:"error,omitempty"`
}
