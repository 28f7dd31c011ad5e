// Package bootstrap issues connection credentials and tracks pending
// sessions in an in-memory table with expiry. Single-process by design; a
// multi-instance deployment needs a shared store behind the same API.
package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AudioParams are the capture parameters handed to the client. Provider
// secrets never appear here.
type AudioParams struct {
	SampleRateHz int     `json:"sampleRateHz"`
	Encoding     string  `json:"encoding"`
	Channels     int     `json:"channels"`
	VADSilenceMs int     `json:"vadSilenceMs"`
	VADThreshold float64 `json:"vadThreshold"`
}

// Credentials is the bootstrap response for one session.
type Credentials struct {
	SessionID string      `json:"sessionId"`
	WSURL     string      `json:"wsUrl"`
	Audio     AudioParams `json:"audio"`
	ExpiresIn int         `json:"expiresIn"` // seconds
}

type entry struct {
	expiresAt time.Time
}

// Store is the expiring session table.
type Store struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	wsURL    string
	audio    AudioParams
	now      func() time.Time
}

// NewStore creates a session table issuing credentials with the given
// websocket URL, audio parameters, and time-to-live.
func NewStore(wsURL string, audio AudioParams, ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]entry),
		ttl:      ttl,
		wsURL:    wsURL,
		audio:    audio,
		now:      time.Now,
	}
}

// Issue creates a new pending session and returns its credentials.
func (s *Store) Issue() Credentials {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = entry{expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return Credentials{
		SessionID: id,
		WSURL:     s.wsURL,
		Audio:     s.audio,
		ExpiresIn: int(s.ttl.Seconds()),
	}
}

// Valid reports whether the session id was issued and has not expired.
func (s *Store) Valid(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	return ok && s.now().Before(e.expiresAt)
}

// Len returns the number of tracked sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired entries every interval until ctx is done.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
