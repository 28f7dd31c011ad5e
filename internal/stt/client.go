// Package stt streams microphone audio to a transcription provider and
// delivers interim and final transcripts back to the session.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicedesk/gateway/internal/metrics"
)

// Callbacks receive transcript events from the provider stream. Both are
// invoked from the stream's reader goroutine.
type Callbacks struct {
	OnPartial func(text string)
	OnFinal   func(text string)
}

// Stream is one open transcription stream for an active audio session.
type Stream interface {
	// Send forwards one raw audio frame to the provider.
	Send(frame []byte) error
	// Close finalizes the stream. Pending transcripts are delivered
	// before Close returns; if no final transcript was produced, none is
	// fabricated.
	Close() error
}

// Opener creates provider streams, one per audio session.
type Opener interface {
	Open(ctx context.Context, cb Callbacks) (Stream, error)
}

// Config holds transcription provider connection parameters.
type Config struct {
	URL          string // ws:// or wss:// endpoint
	APIKey       string
	SampleRateHz int
	Encoding     string
	Language     string
}

// WebSocketOpener dials the provider's streaming endpoint with gorilla's
// client dialer, one connection per audio session.
type WebSocketOpener struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewWebSocketOpener creates a provider stream factory.
func NewWebSocketOpener(cfg Config) *WebSocketOpener {
	return &WebSocketOpener{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// startMessage configures the provider stream before audio is sent.
type startMessage struct {
	Type         string `json:"type"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Encoding     string `json:"encoding"`
	Language     string `json:"language,omitempty"`
}

// transcriptMessage is a provider transcript event.
type transcriptMessage struct {
	Type string `json:"type"` // "partial" or "final"
	Text string `json:"text"`
}

// Open dials the provider and starts the reader goroutine.
func (o *WebSocketOpener) Open(ctx context.Context, cb Callbacks) (Stream, error) {
	header := http.Header{}
	if o.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	conn, resp, err := o.dialer.DialContext(ctx, o.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stt dial status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stt dial: %w", err)
	}

	start := startMessage{
		Type:         "start",
		SampleRateHz: o.cfg.SampleRateHz,
		Encoding:     o.cfg.Encoding,
		Language:     o.cfg.Language,
	}
	if err = conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stt start message: %w", err)
	}

	s := &wsStream{conn: conn, cb: cb, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	cb   Callbacks
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stt stream closed")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		metrics.Errors.WithLabelValues("stt", "write").Inc()
		return fmt.Errorf("stt write: %w", err)
	}
	return nil
}

// Close asks the provider to flush, then waits for the reader to drain the
// remaining transcript events.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.conn.WriteJSON(map[string]string{"type": "finalize"})
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		slog.Warn("stt finalize timed out")
	}
	s.conn.Close()
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg transcriptMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			slog.Warn("stt message parse", "error", err)
			continue
		}
		switch msg.Type {
		case "partial":
			if s.cb.OnPartial != nil {
				s.cb.OnPartial(msg.Text)
			}
		case "final":
			if s.cb.OnFinal != nil {
				s.cb.OnFinal(msg.Text)
			}
		case "done":
			return
		}
	}
}
