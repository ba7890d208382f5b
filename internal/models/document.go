package models

import (
	"encoding/json"
	"time"
)

// Document is the system's authoritative copy of a proposal artifact.
// Content is a JSON object addressed by dot-separated field paths.
// Documents sharing a ParentID belong to the same proposal.
type Document struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	DocType   string          `json:"doc_type"`
	Title     string          `json:"title,omitempty"`
	Content   json.RawMessage `json:"content"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by,omitempty"`
}

// DiffSummary counts line-level changes between two snapshots and names
// the top-level sections that differ.
type DiffSummary struct {
	Additions       int      `json:"additions"`
	Deletions       int      `json:"deletions"`
	Modifications   int      `json:"modifications"`
	SectionsChanged []string `json:"sections_changed,omitempty"`
}

// DocumentVersion is an immutable snapshot. DiffSummary is nil for the
// first version of a document.
type DocumentVersion struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"document_id"`
	TenantID      string          `json:"tenant_id"`
	VersionNumber int64           `json:"version_number"`
	Source        DocumentSource  `json:"source"`
	Snapshot      json.RawMessage `json:"snapshot"`
	DiffSummary   *DiffSummary    `json:"diff_summary,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
