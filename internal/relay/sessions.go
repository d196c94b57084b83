package relay

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/sloane/internal/observe"
)

// SessionInfo holds metadata about an open capture socket.
type SessionInfo struct {
	// ID is the capture socket id, also logged as capture_id.
	ID string

	// SessionID is the practice session id.
	SessionID string

	// RemoteAddr is the client address.
	RemoteAddr string

	// StartedAt is when the socket was opened.
	StartedAt time.Time

	// Level is the session's current difficulty.
	Level int
}

// Sessions tracks the open capture sockets so they can be listed,
// reconfigured, and closed on shutdown. All methods are safe for concurrent
// use.
type Sessions struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	active map[string]*conn
}

// NewSessions creates an empty registry reporting its size to m.
func NewSessions(m *observe.Metrics) *Sessions {
	return &Sessions{metrics: m, active: make(map[string]*conn)}
}

func (s *Sessions) add(ctx context.Context, c *conn) {
	s.mu.Lock()
	s.active[c.id] = c
	s.mu.Unlock()
	s.metrics.ActiveCaptures.Add(ctx, 1)
}

func (s *Sessions) remove(ctx context.Context, id string) {
	s.mu.Lock()
	_, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok {
		s.metrics.ActiveCaptures.Add(ctx, -1)
	}
}

// Count returns the number of open sockets.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// List returns a snapshot of the open sockets, oldest first.
func (s *Sessions) List() []SessionInfo {
	conns := s.snapshot()
	infos := make([]SessionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, SessionInfo{
			ID:         c.id,
			SessionID:  c.sess.ID(),
			RemoteAddr: c.remote,
			StartedAt:  c.startedAt,
			Level:      int(c.sess.Level()),
		})
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return infos
}

// SetSilence applies new silence windows to every open capture. Zero keeps
// the current value.
func (s *Sessions) SetSilence(normal, whisper time.Duration) {
	for _, c := range s.snapshot() {
		c.capt.SetSilence(normal, whisper)
	}
}

// CloseAll closes every open socket with a going-away status. The sockets'
// handlers then release their sessions.
func (s *Sessions) CloseAll(reason string) int {
	conns := s.snapshot()
	for _, c := range conns {
		c.log.Info("closing capture socket", "reason", reason)
		_ = c.ws.Close(websocket.StatusGoingAway, reason)
	}
	return len(conns)
}

func (s *Sessions) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*conn, 0, len(s.active))
	for _, c := range s.active {
		conns = append(conns, c)
	}
	return conns
}
