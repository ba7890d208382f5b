package models

import "time"

// ConflictResolution is the outcome chosen for a SyncConflict.
type ConflictResolution string

const (
	ResolutionKeepLocal ConflictResolution = "keep_local"
	ResolutionKeepCloud ConflictResolution = "keep_cloud"
	ResolutionMerge     ConflictResolution = "merge"
	ResolutionPending   ConflictResolution = "pending"
)

// LocalVersion is the system's copy at the time a conflict was detected.
type LocalVersion struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// CloudVersion is the external editor's copy at the time a conflict was
// detected.
type CloudVersion struct {
	Content   string         `json:"content"`
	UpdatedAt time.Time      `json:"updated_at"`
	Source    DocumentSource `json:"source,omitempty"`
}

// SyncConflict records a divergence between local and cloud copies. Once
// Resolution leaves pending the record is never modified again.
type SyncConflict struct {
	ID            string             `json:"id"`
	DocumentID    string             `json:"document_id"`
	SectionID     string             `json:"section_id,omitempty"`
	TenantID      string             `json:"tenant_id"`
	Provider      CloudProvider      `json:"provider"`
	LocalVersion  LocalVersion       `json:"local_version"`
	CloudVersion  CloudVersion       `json:"cloud_version"`
	Resolution    ConflictResolution `json:"resolution"`
	MergedContent string             `json:"merged_content,omitempty"`
	ResolvedBy    string             `json:"resolved_by,omitempty"`
	ResolvedAt    time.Time          `json:"resolved_at,omitzero"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Resolved reports whether a final resolution has been recorded.
func (c SyncConflict) Resolved() bool {
	return c.Resolution != "" && c.Resolution != ResolutionPending
}
