package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/tidwall/gjson"
)

// maxWebhookBody caps change notification payloads.
const maxWebhookBody = 1 << 20

// fileChange is one changed cloud file named by a notification.
type fileChange struct {
	FileID string
	At     time.Time
}

// webhookResponse reports how many notified files were linked documents.
type webhookResponse struct {
	Received int `json:"received"`
	Accepted int `json:"accepted"`
}

// HandleWebhook receives change notifications from a cloud provider and
// records a cloud edit for every linked file they name. Files that are
// not linked are ignored.
func HandleWebhook(svc *engine.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := models.CloudProvider(r.PathValue("provider"))
		if !kind.Valid() {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "reading body", http.StatusRequestEntityTooLarge)
			return
		}

		if !gjson.ValidBytes(body) {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		tenantID := RequestTenantID(r.Context())
		changes := parseNotification(kind, body)
		resp := webhookResponse{Received: len(changes)}

		for _, c := range changes {
			_, err := svc.CloudFileChanged(r.Context(), tenantID, kind, c.FileID, nil, c.At)
			if errors.Is(err, derrors.ErrNotLinked) {
				logger.Debug("webhook for unlinked file",
					slog.String("provider", string(kind)),
					slog.String("cloud_file_id", c.FileID),
				)

				continue
			}

			if err != nil {
				logger.Warn("recording cloud edit failed",
					slog.String("provider", string(kind)),
					slog.String("cloud_file_id", c.FileID),
					slog.String("error", err.Error()),
				)

				continue
			}

			resp.Accepted++
		}

		writeJSON(w, http.StatusAccepted, resp)
	}
}

// GraphValidation answers Microsoft Graph subscription validation
// requests, which carry a validationToken query parameter that must be
// echoed back as plain text. Graph sends them without credentials, so
// this runs ahead of authentication. Other requests pass through.
func GraphValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("validationToken")
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
	})
}

// parseNotification extracts changed files from a provider payload.
//
// Graph (OneDrive, SharePoint) sends {"value":[{"resource":...,
// "resourceData":{"id":...}}]}. Drive and the local folder send a single
// object with fileId or path and an optional modifiedTime.
func parseNotification(kind models.CloudProvider, body []byte) []fileChange {
	var changes []fileChange

	switch kind {
	case models.ProviderOneDrive, models.ProviderSharePoint:
		gjson.GetBytes(body, "value").ForEach(func(_, item gjson.Result) bool {
			id := item.Get("resourceData.id").String()
			if id == "" {
				if res := item.Get("resource").String(); res != "" {
					id = path.Base(res)
				}
			}

			if id != "" {
				changes = append(changes, fileChange{FileID: id})
			}

			return true
		})

	case models.ProviderGoogleDrive:
		if id := gjson.GetBytes(body, "fileId").String(); id != "" {
			changes = append(changes, fileChange{FileID: id, At: parseTime(gjson.GetBytes(body, "modifiedTime"))})
		}

	case models.ProviderFolder:
		if p := gjson.GetBytes(body, "path").String(); p != "" {
			changes = append(changes, fileChange{FileID: p, At: parseTime(gjson.GetBytes(body, "modifiedTime"))})
		}
	}

	return changes
}

func parseTime(r gjson.Result) time.Time {
	if !r.Exists() {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, r.String())
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
