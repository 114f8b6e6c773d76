package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie is the cookie name the HTTP layer uses.
const SessionCookie = "gpu_sched_session"

type session struct {
	username string
	issuedAt time.Time
}

// Sessions is an in-memory session table. Sessions expire after the TTL and
// are renewed every time they are looked up.
type Sessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
	now      func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:      ttl,
		sessions: map[string]*session{},
		now:      time.Now,
	}
}

// Create registers a session for username and returns its opaque ID.
func (s *Sessions) Create(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	id := uuid.NewString()
	s.sessions[id] = &session{username: username, issuedAt: s.now()}
	return id
}

// Lookup resolves a session ID to a username, renewing the session on use.
func (s *Sessions) Lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	sess.issuedAt = s.now()
	return sess.username, true
}

// Destroy removes a session; unknown IDs are a no-op.
func (s *Sessions) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Sessions) pruneLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.issuedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
