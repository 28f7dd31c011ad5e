// Package tts synthesizes reply text into audio, with transparent
// failover from a primary to a secondary provider.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicedesk/gateway/internal/audio"
	"github.com/voicedesk/gateway/internal/metrics"
)

// DefaultChunkSize is the outbound audio chunk size in bytes.
const DefaultChunkSize = 16 * 1024

// Options holds the synthesis parameters. The same options are passed to
// both providers on a fallback.
type Options struct {
	Voice        string
	SampleRateHz int
	Encoding     string
	Speed        float64
}

// Synthesizer produces audio from text.
type Synthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error)
	Name() string
}

// FallbackSpeaker tries the primary provider, then the secondary. The
// fallback decision is made fresh on every call; no state carries over
// between calls.
type FallbackSpeaker struct {
	primary   Synthesizer
	secondary Synthesizer
	chunkSize int
}

// NewFallbackSpeaker creates a speaker over a primary and secondary
// provider. chunkSize <= 0 uses DefaultChunkSize.
func NewFallbackSpeaker(primary, secondary Synthesizer, chunkSize int) *FallbackSpeaker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FallbackSpeaker{primary: primary, secondary: secondary, chunkSize: chunkSize}
}

// Speak synthesizes text and emits the audio as ordered chunks of at most
// the configured size. On primary failure the secondary is tried with the
// same text and options; that failure is returned and no chunks are
// emitted. Cancellation is checked before every chunk.
func (f *FallbackSpeaker) Speak(ctx context.Context, text string, opts Options, emit func(chunk []byte)) error {
	start := time.Now()

	data, err := f.primary.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("primary tts failed, trying fallback", "provider", f.primary.Name(), "error", err)
		metrics.TTSFallbacks.Inc()

		data, err = f.secondary.SynthesizeAudio(ctx, text, opts)
		if err != nil {
			metrics.Errors.WithLabelValues("tts", "both_providers").Inc()
			return fmt.Errorf("tts fallback %s: %w", f.secondary.Name(), err)
		}
	}

	for _, chunk := range audio.Chunks(data, f.chunkSize) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(chunk)
	}

	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return nil
}

// --- OpenAI-compatible backend (any server exposing /v1/audio/speech) ---

type openaiSynthesizer struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// NewOpenAISynthesizer creates a client for an OpenAI-compatible speech
// endpoint.
func NewOpenAISynthesizer(url, model, apiKey string, client *http.Client) Synthesizer {
	return &openaiSynthesizer{url: url, model: model, apiKey: apiKey, client: client}
}

func (o *openaiSynthesizer) Name() string { return "openai" }

func (o *openaiSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error) {
	body, err := json.Marshal(struct {
		Input          string  `json:"input"`
		Model          string  `json:"model"`
		Voice          string  `json:"voice"`
		Speed          float64 `json:"speed,omitempty"`
		ResponseFormat string  `json:"response_format"`
		SampleRate     int     `json:"sample_rate,omitempty"`
	}{Input: text, Model: o.model, Voice: opts.Voice, Speed: opts.Speed, ResponseFormat: opts.Encoding, SampleRate: opts.SampleRateHz})
	if err != nil {
		return nil, fmt.Errorf("marshal openai tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create openai tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	return doTTSRequest(o.client, req)
}

// --- ElevenLabs backend (cloud API via api.elevenlabs.io) ---

type elevenlabsSynthesizer struct {
	baseURL string
	apiKey  string
	modelID string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates an ElevenLabs client. baseURL is
// overridable for tests; empty means the public API.
func NewElevenLabsSynthesizer(baseURL, apiKey, modelID string, client *http.Client) Synthesizer {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &elevenlabsSynthesizer{baseURL: baseURL, apiKey: apiKey, modelID: modelID, client: client}
}

func (e *elevenlabsSynthesizer) Name() string { return "elevenlabs" }

func (e *elevenlabsSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s_%d",
		e.baseURL, opts.Voice, opts.Encoding, opts.SampleRateHz)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	return doTTSRequest(e.client, req)
}

// --- shared HTTP helper ---

func doTTSRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, string(detail))
	}

	return io.ReadAll(resp.Body)
}
