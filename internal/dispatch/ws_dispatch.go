package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	NoticeTripPosted = "trip_posted"
	NoticeTripTaken  = "trip_taken"
)

// Notice is the payload pushed to driver sockets when the board
// changes.
type Notice struct {
	Kind    string `json:"kind"`
	TripID  string `json:"trip_id"`
	Pickup  string `json:"pickup,omitempty"`
	Dropoff string `json:"dropoff,omitempty"`
	Fare    int64  `json:"fare,omitempty"`
}

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry holds driver sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Notify sends to one driver's session.
func (r *WSRegistry) Notify(driverID string, n Notice) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		slog.Warn("ws send failed", "driver_id", driverID, "err", err)
		return err
	}
	return nil
}

// Broadcast fans a notice out to every session. Dead sockets are
// dropped from the registry.
func (r *WSRegistry) Broadcast(n Notice) {
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	for id, s := range targets {
		if err := s.Send(n); err != nil {
			slog.Warn("ws send failed", "driver_id", id, "err", err)
			r.Remove(id)
		}
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
