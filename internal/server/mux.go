// Package server provides HTTP server construction for docsync.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/docsync/internal/config"
	"github.com/alexjbarnes/docsync/internal/engine"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Service    *engine.Service
	APIKeys    []config.APIKeyEntry
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with provider webhooks, the status stream,
// and the MCP endpoint. Every route except the health check and the Graph
// validation handshake is protected by API key middleware, which binds
// the request to one tenant.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	authMiddleware := APIKeyMiddleware(cfg.APIKeys, cfg.Logger)
	mux.Handle("POST /webhooks/{provider}", GraphValidation(authMiddleware(HandleWebhook(cfg.Service, cfg.Logger))))
	mux.Handle("GET /ws/status", authMiddleware(HandleStatus(cfg.Service, cfg.Logger)))

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	return mux
}
