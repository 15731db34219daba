package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrStaleConnection signals a send to a connection id that is no
// longer registered. Deliveries are advisory live-state, not a queue:
// the caller logs and drops, it never retries.
var ErrStaleConnection = errors.New("stale target connection")

// Conn is the transport endpoint abstraction. *websocket.Conn
// satisfies it; tests plug in fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Registry tracks live connections and the caller identity bound to
// each. Pure bookkeeping: it never inspects payloads and holds no ride
// state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

type session struct {
	conn     Conn
	identity models.Identity

	mu       sync.Mutex // serializes writes to conn
	lastSeen *models.Coord
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*session), logger: logger}
}

// Add registers a connection under its verified identity.
func (r *Registry) Add(connID string, id models.Identity, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = &session{conn: conn, identity: id}
}

// Remove drops a connection. Ride state referencing the id is left
// alone; a later send simply finds nothing.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Identity resolves the caller identity bound to a connection.
func (r *Registry) Identity(connID string) (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return models.Identity{}, false
	}
	return s.identity, true
}

// UpdatePosition records a driver's last reported position.
func (r *Registry) UpdatePosition(connID string, c models.Coord) {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.lastSeen = &c
	s.mu.Unlock()
}

// Position returns the last reported position for a connection.
func (r *Registry) Position(connID string) (models.Coord, bool) {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		return models.Coord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen == nil {
		return models.Coord{}, false
	}
	return *s.lastSeen, true
}

// Send delivers one event to one connection, best-effort. A missing id
// means the party disconnected since the ride last referenced it; the
// send is a logged no-op.
func (r *Registry) Send(connID string, ev models.Outbound) error {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("send to stale connection", "conn_id", connID, "event", ev.Type)
		return ErrStaleConnection
	}
	if err := s.write(ev); err != nil {
		r.logger.Warn("ws send error", "conn_id", connID, "event", ev.Type, "error", err)
		return err
	}
	return nil
}

// BroadcastDrivers fans an event out to every driver connection except
// the excluded id (empty excludes nobody).
func (r *Registry) BroadcastDrivers(ev models.Outbound, exclude string) {
	r.broadcast(ev, models.RoleDriver, exclude)
}

// BroadcastRiders fans an event out to every rider connection except
// the excluded id.
func (r *Registry) BroadcastRiders(ev models.Outbound, exclude string) {
	r.broadcast(ev, models.RoleRider, exclude)
}

func (r *Registry) broadcast(ev models.Outbound, role models.Role, exclude string) {
	r.mu.RLock()
	targets := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == exclude || s.identity.Role != role {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.write(ev); err != nil {
			r.logger.Warn("ws broadcast error", "event", ev.Type, "error", err)
		}
	}
}

// Count reports connections currently registered for a role.
func (r *Registry) Count(role models.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.identity.Role == role {
			n++
		}
	}
	return n
}

func (s *session) write(ev models.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}
