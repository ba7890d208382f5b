// Package provider is the push/pull contract between the sync engine and
// external document stores. Each store's auth, rate limits and payload
// formats stay behind this interface.
package provider

//go:generate mockgen -destination=mock_provider.go -package=provider github.com/alexjbarnes/docsync/internal/provider Provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
)

// PushResult is what a store reports after accepting local content.
type PushResult struct {
	// CloudFileID is set when the store assigned or changed the file id.
	CloudFileID     string
	RemoteUpdatedAt time.Time
}

// PullResult is the store's current copy of a linked document.
type PullResult struct {
	Content         string
	RemoteUpdatedAt time.Time
}

// Provider pushes local content to, and pulls remote content from, one
// external store. Pull returns nil, nil when the store holds no content
// for the link.
type Provider interface {
	Push(ctx context.Context, link models.DocumentSyncState, content string) (*PushResult, error)
	Pull(ctx context.Context, link models.DocumentSyncState) (*PullResult, error)
}

// Registry maps provider kinds to their adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.CloudProvider]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[models.CloudProvider]Provider)}
}

// Register adds or replaces the adapter for kind.
func (r *Registry) Register(kind models.CloudProvider, p Provider) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown provider %q: %w", kind, derrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[kind] = p

	return nil
}

// Get returns the adapter for kind, or ErrProviderUnavailable.
func (r *Registry) Get(kind models.CloudProvider) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, derrors.ErrProviderUnavailable)
	}

	return p, nil
}

// Kinds lists the registered provider kinds in name order.
func (r *Registry) Kinds() []models.CloudProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.CloudProvider, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}
