package sandbox

import (
	"sync"
	"time"
)

// SessionPool tracks every live sandbox Session, keyed by session ID, and
// the currently-attached ExecutionStream (if any) claiming that session's
// generator handle. Grounded on haasonsaas-nexus/internal/tools/sandbox's
// Pool, narrowed from a language-keyed warm pool of reusable executors to a
// session-ID-keyed map of in-flight containers, since PTC sessions are not
// interchangeable: each one carries its own running workspace.
type SessionPool struct {
	mu       sync.Mutex
	sessions map[string]*Session
	streams  map[string]ExecutionStream
}

// NewSessionPool constructs an empty pool.
func NewSessionPool() *SessionPool {
	return &SessionPool{
		sessions: make(map[string]*Session),
		streams:  make(map[string]ExecutionStream),
	}
}

// Put registers a newly created session.
func (p *SessionPool) Put(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

// Get returns the session for id without mutating its busy state.
func (p *SessionPool) Get(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Remove deletes a session from the pool, returning it if present.
func (p *SessionPool) Remove(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
		delete(p.streams, id)
	}
	return s, ok
}

// TryClaim marks a session busy, failing if it is already claimed: a second
// concurrent code run on the same session is disallowed.
func (p *SessionPool) TryClaim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok || s.busy {
		return false
	}
	s.busy = true
	return true
}

// Release clears a session's busy flag.
func (p *SessionPool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[id]; ok {
		s.busy = false
	}
	delete(p.streams, id)
}

// Touch refreshes a session's LastUsedAt/ExpiresAt bookkeeping after a run
// completes, keeping it alive for the configured idle window.
func (p *SessionPool) Touch(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[id]; ok {
		now := time.Now()
		if !s.LastUsedAt.IsZero() {
			s.ExpiresAt = now.Add(s.ExpiresAt.Sub(s.LastUsedAt))
		}
		s.LastUsedAt = now
	}
}

// RegisterStream associates the stream currently driving session id's
// generator, so InjectToolError can route to it.
func (p *SessionPool) RegisterStream(id string, stream ExecutionStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams[id] = stream
}

// ActiveStream returns the stream currently claiming session id, if any.
func (p *SessionPool) ActiveStream(id string) (ExecutionStream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	return s, ok
}

// IdleExpired returns the IDs of every non-busy session whose ExpiresAt has
// passed as of now, for the background sweeper to close.
func (p *SessionPool) IdleExpired(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, s := range p.sessions {
		if !s.busy && now.After(s.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids
}
