package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps session id to Session for the lifetime of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// NextGenerated returns a fresh anonymous identity. Sequence numbers start
// at 0 and never repeat within a process.
func (r *Registry) NextGenerated() Identity {
	return Generated(r.seq.Add(1) - 1)
}

// Register stores s under its id and returns the session it replaced, if
// any. The caller decides what happens to the replaced session.
func (r *Registry) Register(s *Session) (previous *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.sessions[s.ID()]
	r.sessions[s.ID()] = s
	if previous == s {
		return nil
	}
	return previous
}

// Remove deletes s if it is still the registered session for its id. A
// session that was replaced never removes its successor.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID()]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.ID())
	return true
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the registered sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CloseAll disconnects every registered session concurrently and waits for
// them to finish or for ctx to expire.
func (r *Registry) CloseAll(ctx context.Context) error {
	sessions := r.Sessions()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Disconnect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}
