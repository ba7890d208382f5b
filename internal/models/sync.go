// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"
)

// CloudProvider identifies an external storage system a document can be
// linked to.
type CloudProvider string

const (
	ProviderOneDrive    CloudProvider = "onedrive"
	ProviderGoogleDrive CloudProvider = "google_drive"
	ProviderSharePoint  CloudProvider = "sharepoint"
	ProviderFolder      CloudProvider = "local_folder"
)

// Valid reports whether p is a known provider.
func (p CloudProvider) Valid() bool {
	switch p {
	case ProviderOneDrive, ProviderGoogleDrive, ProviderSharePoint, ProviderFolder:
		return true
	}

	return false
}

// SyncStatus is the badge state of a single cloud link.
type SyncStatus string

const (
	StatusIdle     SyncStatus = "idle"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// DocumentSource records which editor produced a version.
type DocumentSource string

const (
	SourceInternal     DocumentSource = "internal"
	SourceWordOnline   DocumentSource = "word_online"
	SourceExcelOnline  DocumentSource = "excel_online"
	SourcePPTXOnline   DocumentSource = "pptx_online"
	SourceGoogleDocs   DocumentSource = "google_docs"
	SourceGoogleSheets DocumentSource = "google_sheets"
	SourceLocalFolder  DocumentSource = "local_folder"
)

// GraphMetadata is stored for OneDrive and SharePoint links.
type GraphMetadata struct {
	DriveID  string `json:"drive_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// DriveMetadata is stored for Google Drive links.
type DriveMetadata struct {
	MimeType   string `json:"mime_type,omitempty"`
	RevisionID string `json:"revision_id,omitempty"`
}

// FolderMetadata is stored for local folder links.
type FolderMetadata struct {
	Path string `json:"path,omitempty"`
}

// CloudMetadata holds provider-specific link details. At most one variant
// is set, matching the link's CloudProvider.
type CloudMetadata struct {
	Graph  *GraphMetadata  `json:"graph,omitempty"`
	Drive  *DriveMetadata  `json:"drive,omitempty"`
	Folder *FolderMetadata `json:"folder,omitempty"`
}

// Source derives the editor that owns the cloud copy from the variant and
// its mime type.
func (m CloudMetadata) Source() DocumentSource {
	switch {
	case m.Graph != nil:
		mt := m.Graph.MimeType
		switch {
		case strings.Contains(mt, "spreadsheetml"):
			return SourceExcelOnline
		case strings.Contains(mt, "presentationml"):
			return SourcePPTXOnline
		default:
			return SourceWordOnline
		}
	case m.Drive != nil:
		if strings.HasSuffix(m.Drive.MimeType, "spreadsheet") {
			return SourceGoogleSheets
		}

		return SourceGoogleDocs
	case m.Folder != nil:
		return SourceLocalFolder
	}

	return SourceInternal
}

// DocumentSyncState is the durable record of one (document, cloud link).
// Zero timestamps mean "never".
type DocumentSyncState struct {
	DocumentID      string        `json:"document_id"`
	TenantID        string        `json:"tenant_id"`
	CloudProvider   CloudProvider `json:"cloud_provider"`
	CloudFileID     string        `json:"cloud_file_id"`
	SyncStatus      SyncStatus    `json:"sync_status"`
	LastSyncAt      time.Time     `json:"last_sync_at,omitzero"`
	LastCloudEditAt time.Time     `json:"last_cloud_edit_at,omitzero"`
	LastLocalEditAt time.Time     `json:"last_local_edit_at,omitzero"`
	CloudWebURL     string        `json:"cloud_web_url,omitempty"`
	Metadata        CloudMetadata `json:"metadata"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// LocalChanged reports whether a local edit happened after the last sync.
func (s DocumentSyncState) LocalChanged() bool {
	return !s.LastLocalEditAt.IsZero() && s.LastLocalEditAt.After(s.LastSyncAt)
}

// CloudChanged reports whether a cloud edit happened after the last sync.
func (s DocumentSyncState) CloudChanged() bool {
	return !s.LastCloudEditAt.IsZero() && s.LastCloudEditAt.After(s.LastSyncAt)
}

// CloudShadow is the last cloud content observed for a link, captured when
// a cloud edit is detected so a later conflict can record it verbatim.
type CloudShadow struct {
	DocumentID string         `json:"document_id"`
	Provider   CloudProvider  `json:"provider"`
	Content    string         `json:"content"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Source     DocumentSource `json:"source"`
}

// SyncAction is the operation a queue item performs.
type SyncAction string

const (
	ActionPush    SyncAction = "push"
	ActionPull    SyncAction = "pull"
	ActionResolve SyncAction = "resolve"
)

// SyncQueueItem is a pending push, pull, or resolve for one document.
type SyncQueueItem struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	TenantID   string        `json:"tenant_id"`
	Provider   CloudProvider `json:"provider"`
	Action     SyncAction    `json:"action"`
	Priority   int           `json:"priority"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Attempts   int           `json:"attempts"`
}

// Key is the deduplication key: one queued item per (tenant, document,
// action). Document ids are only unique within a tenant.
func (i SyncQueueItem) Key() string {
	return i.TenantID + "|" + i.DocumentID + "|" + string(i.Action)
}
