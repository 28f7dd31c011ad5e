// Package session owns per-connection voice state: the audio session
// lifecycle, turn execution, cooperative cancellation, and the greeting.
package session

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/voicedesk/gateway/internal/metrics"
	"github.com/voicedesk/gateway/internal/pipeline"
	"github.com/voicedesk/gateway/internal/protocol"
	"github.com/voicedesk/gateway/internal/stt"
	"github.com/voicedesk/gateway/internal/tts"
)

// ConversationalFallback replaces a retrieval refusal when the user input
// was smalltalk rather than a document question.
const ConversationalFallback = "I'm your document assistant. Happy to chat, but I'm at my best " +
	"answering questions about your documents. What would you like to know?"

// Config wires a voice session to its collaborators. Sink and Transition
// are provided by the protocol handler that owns the connection.
type Config struct {
	SessionID   string
	STT         stt.Opener
	Tools       *pipeline.ToolRouter
	Retrieval   *pipeline.RetrievalClient
	VoiceConfig *pipeline.VoiceConfigClient
	Speaker     *tts.FallbackSpeaker
	TTSOptions  tts.Options
	Sink        protocol.Sink
	Transition  func(protocol.AgentState)
}

// Session is the voice state for one connection. All state is in-memory
// and discarded when the connection closes.
type Session struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	stream     stt.Stream
	turnCancel context.CancelFunc
	history    []pipeline.Turn
	voice      pipeline.VoiceConfig
}

// New creates a voice session bound to the connection lifetime.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		voice:  pipeline.DefaultVoiceConfig(),
	}
}

// Close tears down the session: cancels any in-flight turn and closes the
// transcription stream.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.turnCancel = nil
	s.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// StartAudioSession opens the transcription stream for a new capture.
// The handler's dispatch guard prevents double-start.
func (s *Session) StartAudioSession(ctx context.Context) error {
	stream, err := s.cfg.STT.Open(ctx, stt.Callbacks{
		OnPartial: s.onPartialTranscript,
		OnFinal:   s.onFinalTranscript,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	return nil
}

// SendAudio forwards one raw audio frame to the transcription stream.
func (s *Session) SendAudio(frame []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	metrics.AudioFramesForwarded.Inc()
	return stream.Send(frame)
}

// EndAudioSession flushes and closes the transcription stream. A final
// transcript that arrives during the flush still triggers its turn; if
// none had been produced, no query is issued.
func (s *Session) EndAudioSession() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

// CancelResponse abandons any in-flight turn. Safe to call when nothing
// is in flight.
func (s *Session) CancelResponse() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HandleText runs a turn for a typed query. A previous turn still in
// flight is implicitly cancelled; the new turn always wins.
func (s *Session) HandleText(text string) {
	ctx := s.beginTurn()
	go s.runTurn(ctx, text)
}

// TriggerGreeting fetches the persona config and speaks the greeting as
// if it were an assistant reply, then returns the session to idle.
func (s *Session) TriggerGreeting(ctx context.Context) {
	cfg := s.cfg.VoiceConfig.Fetch(ctx)
	s.mu.Lock()
	s.voice = cfg
	s.mu.Unlock()

	greeting := pipeline.StripForSpeech(cfg.Greeting)
	if greeting == "" {
		greeting = pipeline.DefaultGreeting
	}
	s.speak(s.beginTurn(), greeting)
}

func (s *Session) onPartialTranscript(text string) {
	if s.ctx.Err() != nil {
		return
	}
	s.cfg.Sink.SendEvent(protocol.ASRPartial(text))
}

// onFinalTranscript emits asr_final, transitions to processing, and starts
// the answer pipeline. The asr_final event always precedes the processing
// transition it causes.
func (s *Session) onFinalTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" || s.ctx.Err() != nil {
		return
	}
	s.cfg.Sink.SendEvent(protocol.ASRFinal(text))
	s.cfg.Transition(protocol.StateProcessing)
	ctx := s.beginTurn()
	go s.runTurn(ctx, text)
}

// beginTurn cancels any outstanding turn and returns the context for the
// new one.
func (s *Session) beginTurn() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	return ctx
}

// runTurn executes tool routing → retrieval → speech for one finalized
// input. Every await point checks the turn context so a barge-in stops
// output before the next chunk.
func (s *Session) runTurn(ctx context.Context, text string) {
	outcome := pipeline.ToolOutcome{}
	if s.cfg.Tools != nil {
		outcome = s.cfg.Tools.Route(ctx, text)
	}

	reply := outcome.Text
	if !outcome.Handled || outcome.Requery != "" {
		query := text
		if outcome.Requery != "" {
			query = outcome.Requery
		}

		resp, err := s.cfg.Retrieval.Query(ctx, query, s.historyCopy(), func(tok string) {
			s.emit(ctx, protocol.AgentTextPartial(tok))
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("retrieval", "session_id", s.cfg.SessionID, "error", err)
			s.emit(ctx, protocol.ErrorEvent("I had trouble reaching the knowledge base. Please try again.", "retrieval_failed"))
			s.transition(ctx, protocol.StateIdle)
			return
		}

		reply = resp.Text
		if resp.IsSilence && isConversational(text) {
			reply = ConversationalFallback
		}
	}

	reply = pipeline.StripForSpeech(reply)
	if reply == "" {
		s.transition(ctx, protocol.StateIdle)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if outcome.Executing {
		s.transition(ctx, protocol.StateExecuting)
	}
	s.appendHistory(text, reply)
	metrics.TurnsTotal.Inc()
	s.speak(ctx, reply)
}

// speak emits the final answer text, then speaking → audio chunks → idle.
// agent_text_final always precedes the speaking transition.
func (s *Session) speak(ctx context.Context, reply string) {
	if ctx.Err() != nil {
		return
	}
	s.emit(ctx, protocol.AgentTextFinal(reply))
	s.transition(ctx, protocol.StateSpeaking)

	err := s.cfg.Speaker.Speak(ctx, reply, s.ttsOptions(), s.cfg.Sink.SendAudio)
	if ctx.Err() != nil {
		// Barged in mid-reply; the handler already moved to listening.
		return
	}
	if err != nil {
		slog.Error("tts", "session_id", s.cfg.SessionID, "error", err)
		metrics.Errors.WithLabelValues("tts", "speak").Inc()
		s.emit(ctx, protocol.ErrorEvent("I couldn't generate audio for that reply.", "tts_failed"))
	}

	s.transition(ctx, protocol.StateIdle)
}

func (s *Session) ttsOptions() tts.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := s.cfg.TTSOptions
	if s.voice.VoiceID != "" {
		opts.Voice = s.voice.VoiceID
	}
	return opts
}

func (s *Session) appendHistory(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, pipeline.Turn{User: user, Assistant: assistant})
}

func (s *Session) historyCopy() []pipeline.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) emit(ctx context.Context, ev protocol.ServerEvent) {
	if ctx.Err() != nil {
		return
	}
	s.cfg.Sink.SendEvent(ev)
}

func (s *Session) transition(ctx context.Context, st protocol.AgentState) {
	if ctx.Err() != nil {
		return
	}
	s.cfg.Transition(st)
}

var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|howdy|yo)\b`),
	regexp.MustCompile(`(?i)^good (morning|afternoon|evening)\b`),
	regexp.MustCompile(`(?i)\bhow are you\b`),
	regexp.MustCompile(`(?i)^thank(s| you)\b`),
	regexp.MustCompile(`(?i)\bwho are you\b`),
	regexp.MustCompile(`(?i)\bwhat'?s up\b`),
	regexp.MustCompile(`(?i)^(bye|goodbye|see you)\b`),
}

// isConversational reports whether the input is smalltalk rather than a
// document-seeking query.
func isConversational(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range conversationalPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
