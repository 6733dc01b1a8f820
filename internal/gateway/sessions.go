package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorflow/internal/lifecycle"
	"tutorflow/internal/metrics"
	"tutorflow/internal/model"
)

var errUnknownSession = errors.New("unknown session")

// session is one screen's controller. A closed session stays as a
// tombstone until the sweeper purges it so late requests get 410.
type session struct {
	ctrl     *lifecycle.Controller
	owner    string
	lastSeen time.Time
	closedAt time.Time
}

// Registry hosts the controller sessions of all connected screens.
type Registry struct {
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry closes sessions idle for longer than idle.
func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Registry{idle: idle, now: time.Now, sessions: make(map[string]*session)}
}

// Open registers ctrl and returns its session id.
func (r *Registry) Open(ctrl *lifecycle.Controller) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &session{ctrl: ctrl, owner: ctrl.Identity().UserID, lastSeen: r.now()}
	metrics.ActiveSessions.Inc()
	return id
}

// Get returns the open controller sid for userID. Sessions of other users
// are reported as unknown.
func (r *Registry) Get(sid, userID string) (*lifecycle.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok || s.owner != userID {
		return nil, errUnknownSession
	}
	if !s.closedAt.IsZero() {
		return nil, model.ErrSessionClosed
	}
	s.lastSeen = r.now()
	return s.ctrl, nil
}

// Close tears the session down. Closing twice is not an error.
func (r *Registry) Close(sid, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok || s.owner != userID {
		return errUnknownSession
	}
	r.closeLocked(s)
	return nil
}

func (r *Registry) closeLocked(s *session) {
	if !s.closedAt.IsZero() {
		return
	}
	s.ctrl.Close()
	s.closedAt = r.now()
	metrics.ActiveSessions.Dec()
}

// Sweep closes idle sessions and purges tombstones older than the idle
// timeout.
func (r *Registry) Sweep() (closed, purged int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, s := range r.sessions {
		switch {
		case !s.closedAt.IsZero():
			if now.Sub(s.closedAt) > r.idle {
				delete(r.sessions, id)
				purged++
			}
		case now.Sub(s.lastSeen) > r.idle:
			r.closeLocked(s)
			closed++
		}
	}
	return closed, purged
}

// CloseAll closes every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		r.closeLocked(s)
	}
}

// OpenCount returns the number of open sessions.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.closedAt.IsZero() {
			n++
		}
	}
	return n
}
