package session

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the live sessions and the last time each token posted.
// Tokens are stamped even when they never resolve to a session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
	}
}

// Touch records a post from token at now.
func (r *Registry) Touch(token string, now time.Time) {
	r.mu.Lock()
	r.lastSeen[token] = now
	r.mu.Unlock()
}

// LastSeen returns when token last posted.
func (r *Registry) LastSeen(token string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[token]
	return t, ok
}

// Get returns the session of token.
func (r *Registry) Get(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	return s, ok
}

// Put stores s. A session already held for the same token is replaced and
// its processing lock, match attachment, channel, snapshot and seen events
// move to s.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[s.token]; ok && old != s {
		s.carryOver(old)
	}
	r.sessions[s.token] = s
	return s
}

// Evict removes token and detaches its realtime channel. The session's
// match attachment is left as it was.
func (r *Registry) Evict(token string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	delete(r.sessions, token)
	delete(r.lastSeen, token)
	r.mu.Unlock()
	if ok {
		s.Detach()
	}
	return s, ok
}

// Stale returns tokens whose last post is more than timeout before now, sorted.
func (r *Registry) Stale(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for token, seen := range r.lastSeen {
		if now.Sub(seen) > timeout {
			out = append(out, token)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every session until it returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()
	for _, s := range list {
		if !fn(s) {
			return
		}
	}
}
