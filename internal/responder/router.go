package responder

import (
	"context"
	"fmt"
	"sync"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// Router dispatches a reply request to the responder registered for its
// provider, falling back to a default provider.
type Router struct {
	mu        sync.RWMutex
	providers map[core.Provider]core.Responder
	fallback  core.Provider
}

// NewRouter creates an empty router.
func NewRouter(fallback core.Provider) *Router {
	return &Router{providers: make(map[core.Provider]core.Responder), fallback: fallback}
}

// Register installs a responder for a provider, replacing any previous one.
func (r *Router) Register(p core.Provider, resp core.Responder) {
	r.mu.Lock()
	r.providers[p] = resp
	r.mu.Unlock()
}

// Has reports whether a provider is registered.
func (r *Router) Has(p core.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[p]
	return ok
}

// Fallback returns the default provider.
func (r *Router) Fallback() core.Provider {
	return r.fallback
}

// GenerateReply implements core.Responder.
func (r *Router) GenerateReply(ctx context.Context, req core.ReplyRequest) (string, error) {
	r.mu.RLock()
	resp, ok := r.providers[req.Provider]
	if !ok {
		resp, ok = r.providers[r.fallback]
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no responder for provider %q", core.ErrResponderFailed, req.Provider)
	}
	return resp.GenerateReply(ctx, req)
}
