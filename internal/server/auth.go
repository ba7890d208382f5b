package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/alexjbarnes/docsync/internal/config"
)

type contextKey int

const (
	ctxTenantID contextKey = iota
	ctxRemoteIP
)

// RequestTenantID returns the authenticated tenant from the context, or "".
func RequestTenantID(ctx context.Context) string {
	v, _ := ctx.Value(ctxTenantID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithTenant returns a context carrying the given tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantID, tenantID)
}

type apiKey struct {
	tenantID string
	hash     [sha256.Size]byte
}

// APIKeyMiddleware returns HTTP middleware that validates Bearer API keys
// and binds the request to the key's tenant. Every key is compared in
// constant time so the response time does not reveal a partial match.
func APIKeyMiddleware(entries []config.APIKeyEntry, logger *slog.Logger) func(http.Handler) http.Handler {
	keys := make([]apiKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, apiKey{tenantID: e.TenantID, hash: sha256.Sum256([]byte(e.Key))})
	}

	lookup := func(token string) (string, bool) {
		h := sha256.Sum256([]byte(token))

		tenantID, found := "", false

		for _, k := range keys {
			if subtle.ConstantTimeCompare(h[:], k.hash[:]) == 1 {
				tenantID, found = k.tenantID, true
			}
		}

		return tenantID, found
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			tenantID, ok := lookup(strings.TrimPrefix(authHeader, "Bearer "))
			if !ok {
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated via API key",
				slog.String("tenant_id", tenantID),
				slog.String("ip", ip),
			)

			ctx := WithTenant(r.Context(), tenantID)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
