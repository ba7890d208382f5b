package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// statusWriteTimeout bounds a single status frame write.
const statusWriteTimeout = 5 * time.Second

// StatusMessage is one frame on the status stream. The first frame is a
// snapshot of every link; later frames carry one changed link each.
type StatusMessage struct {
	Type  string                     `json:"type"`
	Links []models.DocumentSyncState `json:"links"`
}

const (
	statusSnapshot = "snapshot"
	statusUpdate   = "update"
)

// HandleStatus streams sync status badges for the caller's tenant over a
// WebSocket until the client disconnects.
func HandleStatus(svc *engine.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := RequestTenantID(r.Context())

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("status websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer conn.CloseNow()

		updates, unsubscribe := svc.Tracker().Subscribe(tenantID)
		defer unsubscribe()

		// The stream is write-only. CloseRead discards client frames and
		// cancels ctx when the client goes away.
		ctx := conn.CloseRead(r.Context())

		links, err := svc.Tracker().List(tenantID)
		if err != nil {
			logger.Warn("loading sync status failed", slog.String("error", err.Error()))
			conn.Close(websocket.StatusInternalError, "loading status")

			return
		}

		if err := writeStatus(ctx, conn, StatusMessage{Type: statusSnapshot, Links: links}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case st, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "")
					return
				}

				if err := writeStatus(ctx, conn, StatusMessage{Type: statusUpdate, Links: []models.DocumentSyncState{st}}); err != nil {
					logger.Debug("status write failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *websocket.Conn, msg StatusMessage) error {
	ctx, cancel := context.WithTimeout(ctx, statusWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, msg)
}
