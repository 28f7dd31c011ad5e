// Package ws implements the WebSocket session protocol: one bidirectional
// connection per client, dispatching control messages into the voice
// session and streaming state transitions, transcripts, and synthesized
// audio back out.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicedesk/gateway/internal/metrics"
	"github.com/voicedesk/gateway/internal/pipeline"
	"github.com/voicedesk/gateway/internal/protocol"
	"github.com/voicedesk/gateway/internal/session"
	"github.com/voicedesk/gateway/internal/stt"
	"github.com/voicedesk/gateway/internal/tts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared backend clients for all agent sessions.
type HandlerConfig struct {
	STT           stt.Opener
	Tools         *pipeline.ToolRouter
	Retrieval     *pipeline.RetrievalClient
	VoiceConfig   *pipeline.VoiceConfigClient
	Speaker       *tts.FallbackSpeaker
	TTSOptions    tts.Options
	MaxConcurrent int
	Greeting      bool
}

// Handler manages WebSocket agent sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with shared backend clients and a
// concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// ServeHTTP upgrades the connection and runs the agent session.
// Returns 503 at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := uuid.NewString()
	sink := newConnSink(conn)

	c := newAgentConn(sessionID, sink)
	voice := session.New(session.Config{
		SessionID:   sessionID,
		STT:         h.cfg.STT,
		Tools:       h.cfg.Tools,
		Retrieval:   h.cfg.Retrieval,
		VoiceConfig: h.cfg.VoiceConfig,
		Speaker:     h.cfg.Speaker,
		TTSOptions:  h.cfg.TTSOptions,
		Sink:        sink,
		Transition:  c.transition,
	})
	c.voice = voice
	defer voice.Close()

	sink.SendEvent(protocol.StateEvent(protocol.StateConnecting))
	slog.Info("session started", "session_id", sessionID)

	if h.cfg.Greeting {
		go voice.TriggerGreeting(ctx)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "session_id", sessionID, "error", err)
			return
		}
		switch msgType {
		case websocket.TextMessage:
			c.handleControl(ctx, data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

// voiceSession is the slice of session.Session the handler drives.
type voiceSession interface {
	StartAudioSession(ctx context.Context) error
	SendAudio(frame []byte) error
	EndAudioSession() error
	CancelResponse()
	HandleText(text string)
	TriggerGreeting(ctx context.Context)
	Close()
}

// agentConn is the per-connection protocol state. audioActive is touched
// only by the read loop; state is shared with turn goroutines and guarded
// by mu so the state event order matches the transition order exactly.
type agentConn struct {
	id    string
	sink  protocol.Sink
	voice voiceSession

	mu          sync.Mutex
	state       protocol.AgentState
	audioActive bool
}

func newAgentConn(id string, sink protocol.Sink) *agentConn {
	return &agentConn{id: id, sink: sink, state: protocol.StateConnecting}
}

// transition sets the state and synchronously emits the paired state
// event. Transitions are never batched or coalesced.
func (c *agentConn) transition(st protocol.AgentState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	c.sink.SendEvent(protocol.StateEvent(st))
}

// handleControl parses and dispatches one inbound text frame. A malformed
// frame produces a non-fatal error event; the connection stays open and
// the next valid message is processed normally.
func (c *agentConn) handleControl(ctx context.Context, raw []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sink.SendEvent(protocol.ErrorEvent("Invalid message format", ""))
		return
	}

	switch msg.Type {
	case protocol.ClientStart:
		if c.audioActive {
			return
		}
		if err := c.voice.StartAudioSession(ctx); err != nil {
			slog.Error("start audio session", "session_id", c.id, "error", err)
			c.sink.SendEvent(protocol.ErrorEvent("Could not start audio session", "stt_unavailable"))
			return
		}
		c.audioActive = true
		c.transition(protocol.StateListening)

	case protocol.ClientStop:
		if !c.audioActive {
			return
		}
		c.audioActive = false
		// Transition first so the client gets feedback before the
		// blocking stream teardown completes.
		c.transition(protocol.StateProcessing)
		if err := c.voice.EndAudioSession(); err != nil {
			slog.Warn("end audio session", "session_id", c.id, "error", err)
		}

	case protocol.ClientBargeIn:
		metrics.BargeIns.Inc()
		c.voice.CancelResponse()
		c.transition(protocol.StateListening)

	case protocol.ClientText:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		c.transition(protocol.StateProcessing)
		c.voice.HandleText(text)

	case protocol.ClientToolResult:
		// Reserved for tool callbacks; no action.

	default:
		// Unrecognized tag: silently ignored.
	}
}

// handleBinary forwards a raw audio frame to the voice session while an
// audio session is active; otherwise the frame is dropped without error.
func (c *agentConn) handleBinary(frame []byte) {
	if !c.audioActive {
		metrics.AudioFramesDropped.Inc()
		return
	}
	if err := c.voice.SendAudio(frame); err != nil {
		slog.Warn("forward audio", "session_id", c.id, "error", err)
	}
}

// connSink serializes all outbound writes on one connection.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

func (s *connSink) SendEvent(ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("write event", "error", err)
	}
}

func (s *connSink) SendAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		slog.Error("write audio", "error", err)
	}
}
