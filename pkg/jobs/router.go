package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Router dispatches jobs to handlers registered per job type, letting one worker
// pool serve every pipeline stage.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds handler to jobType, replacing any previous binding.
func (r *Router) Register(jobType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// Handle implements Handler.
func (r *Router) Handle(ctx context.Context, job Job) error {
	r.mu.RLock()
	handler, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for job type %q", job.Type))
	}
	return handler(ctx, job)
}
