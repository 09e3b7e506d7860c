package grapher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sessions holds chart sessions by id and drops the ones left idle.
type Sessions struct {
	cfg  Config
	idle time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(cfg Config, idle time.Duration) *Sessions {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sessions{cfg: cfg, idle: idle, sessions: make(map[string]*Session)}
}

// Get returns the session with id, or a new one when id is empty or unknown.
func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := NewSession(r.cfg)
	r.sessions[s.ID] = s
	return s
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the configured duration and
// returns how many were removed.
func (r *Sessions) Sweep(now time.Time) int {
	if r.idle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastUsed()) > r.idle {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (r *Sessions) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Sweep(now); n > 0 {
				r.cfg.Logger.Debug("expired idle sessions", "removed", n, "remaining", r.Len())
			}
		}
	}
}
