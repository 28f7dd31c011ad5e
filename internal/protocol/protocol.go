// Package protocol defines the wire messages exchanged over the agent
// WebSocket. Text frames carry JSON tagged variants; binary frames carry
// raw audio (client → server) or synthesized audio chunks (server → client).
package protocol

import "encoding/json"

// AgentState is the session state advertised to the client.
type AgentState string

const (
	StateConnecting AgentState = "connecting"
	StateListening  AgentState = "listening"
	StateProcessing AgentState = "processing"
	StateSpeaking   AgentState = "speaking"
	StateExecuting  AgentState = "executing"
	StateIdle       AgentState = "idle"
	StateError      AgentState = "error"
)

// ClientMessageType tags inbound control messages.
type ClientMessageType string

const (
	ClientStart      ClientMessageType = "start"
	ClientStop       ClientMessageType = "stop"
	ClientBargeIn    ClientMessageType = "barge_in"
	ClientText       ClientMessageType = "text"
	ClientToolResult ClientMessageType = "tool_result"
)

// ClientMessage is a control message received as a text frame.
// Only the fields for the tagged variant are populated.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	Text   string            `json:"text,omitempty"`
	Name   string            `json:"name,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
}

// ServerEventType tags outbound events.
type ServerEventType string

const (
	EventState            ServerEventType = "state"
	EventASRPartial       ServerEventType = "asr_partial"
	EventASRFinal         ServerEventType = "asr_final"
	EventAgentTextPartial ServerEventType = "agent_text_partial"
	EventAgentTextFinal   ServerEventType = "agent_text_final"
	EventError            ServerEventType = "error"
)

// ServerEvent is an outbound event sent as a text frame.
type ServerEvent struct {
	Type    ServerEventType `json:"type"`
	State   AgentState      `json:"state,omitempty"`
	Text    string          `json:"text,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// StateEvent builds a state transition event.
func StateEvent(s AgentState) ServerEvent {
	return ServerEvent{Type: EventState, State: s}
}

// ASRPartial builds an interim transcript event.
func ASRPartial(text string) ServerEvent {
	return ServerEvent{Type: EventASRPartial, Text: text}
}

// ASRFinal builds a final transcript event.
func ASRFinal(text string) ServerEvent {
	return ServerEvent{Type: EventASRFinal, Text: text}
}

// AgentTextPartial builds a streamed answer token event.
func AgentTextPartial(text string) ServerEvent {
	return ServerEvent{Type: EventAgentTextPartial, Text: text}
}

// AgentTextFinal builds a completed answer event.
func AgentTextFinal(text string) ServerEvent {
	return ServerEvent{Type: EventAgentTextFinal, Text: text}
}

// ErrorEvent builds a non-fatal error event. Code may be empty.
func ErrorEvent(message, code string) ServerEvent {
	return ServerEvent{Type: EventError, Message: message, Code: code}
}

// Sink receives outbound events and synthesized audio for one session.
// Implementations must be safe for concurrent use.
type Sink interface {
	SendEvent(ev ServerEvent)
	SendAudio(chunk []byte)
}
