package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sweepInterval = time.Minute

// Registry holds the live sessions, keyed by a random session ID.
type Registry struct {
	deps Deps
	ttl  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry. Sessions idle for longer than ttl
// are removed by the sweeper; ttl <= 0 disables expiry.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{deps: deps, ttl: ttl, sessions: make(map[string]*Controller)}
}

// Create starts a new session.
func (r *Registry) Create() *Controller {
	id := uuid.NewString()
	c := NewController(id, r.deps)

	r.mu.Lock()
	r.sessions[id] = c
	n := len(r.sessions)
	r.mu.Unlock()

	r.deps.Metrics.SetSessions(n)
	r.deps.Logger.Info("Session created", "session_id", id)
	return c
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Controller, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove closes and forgets the session for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		c.Close()
		r.deps.Metrics.SetSessions(n)
		r.deps.Logger.Info("Session removed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle since before now-ttl that have no response in
// flight, restoring the terminal for any that were still infected.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl)

	r.mu.RLock()
	var expired []*Controller
	for _, c := range r.sessions {
		if c.LastActive().Before(cutoff) && !c.Snapshot().AIResponding {
			expired = append(expired, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range expired {
		if c.Snapshot().Infected {
			c.restoreTerminal(ctx)
		}
		r.Remove(c.ID())
	}
	if len(expired) > 0 {
		r.deps.Logger.Info("Session sweep completed", "expired", len(expired))
	}
	return len(expired)
}

// StartSweeper periodically expires idle sessions until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		r.deps.Logger.Info("Session sweeper started", "interval", sweepInterval, "ttl", r.ttl)
		for {
			select {
			case now := <-ticker.C:
				r.Sweep(ctx, now)
			case <-ctx.Done():
				r.deps.Logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Close waits for in-flight responses, up to ctx, then closes every session.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()

	for id, c := range sessions {
		if err := c.Wait(ctx); err != nil {
			r.deps.Logger.Warn("Session still responding at shutdown", "session_id", id, "error", err)
		}
		c.Close()
	}
	r.deps.Metrics.SetSessions(0)
}
