package tts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider serves distinct audio per call, or a fixed failure.
type countingProvider struct {
	calls atomic.Int64
	fail  atomic.Bool
	srv   *httptest.Server
}

func newCountingProvider(t *testing.T) *countingProvider {
	t.Helper()
	p := &countingProvider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := p.calls.Add(1)
		if p.fail.Load() {
			http.Error(w, "synth backend down", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "audio-call-%d", n)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *countingProvider) synthesizer() Synthesizer {
	return NewOpenAISynthesizer(p.srv.URL, "test-model", "", p.srv.Client())
}

func collect(chunks *[][]byte) func([]byte) {
	return func(chunk []byte) {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		*chunks = append(*chunks, cp)
	}
}

func TestFallbackUsedOnPrimaryFailure(t *testing.T) {
	primary := newCountingProvider(t)
	primary.fail.Store(true)
	secondary := newCountingProvider(t)
	speaker := NewFallbackSpeaker(primary.synthesizer(), secondary.synthesizer(), 0)

	var delivered [][]byte
	for i := 0; i < 5; i++ {
		var chunks [][]byte
		err := speaker.Speak(context.Background(), "hello", Options{Voice: "v"}, collect(&chunks))
		require.NoError(t, err, "call %d", i)
		require.NotEmpty(t, chunks)
		delivered = append(delivered, bytes.Join(chunks, nil))
	}

	assert.Equal(t, int64(5), primary.calls.Load())
	assert.Equal(t, int64(5), secondary.calls.Load(), "total provider calls = 10")

	// No cross-call state leakage: every decoded payload differs.
	seen := map[string]bool{}
	for _, audio := range delivered {
		seen[string(audio)] = true
	}
	assert.Len(t, seen, 5)
}

func TestBothProvidersFailing(t *testing.T) {
	primary := newCountingProvider(t)
	primary.fail.Store(true)
	secondary := newCountingProvider(t)
	secondary.fail.Store(true)
	speaker := NewFallbackSpeaker(primary.synthesizer(), secondary.synthesizer(), 0)

	var chunks [][]byte
	err := speaker.Speak(context.Background(), "hello", Options{Voice: "v"}, collect(&chunks))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "synth backend down", "carries the secondary provider's detail")
	assert.Empty(t, chunks, "zero audio chunks on double failure")

	// The next call is independent: providers recovered, synthesis works.
	primary.fail.Store(false)
	secondary.fail.Store(false)
	chunks = nil
	err = speaker.Speak(context.Background(), "hello again", Options{Voice: "v"}, collect(&chunks))
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestChunkingPreservesByteOrder(t *testing.T) {
	payload := make([]byte, 40000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	speaker := NewFallbackSpeaker(
		NewOpenAISynthesizer(srv.URL, "m", "", srv.Client()),
		NewOpenAISynthesizer(srv.URL, "m", "", srv.Client()),
		DefaultChunkSize,
	)

	var chunks [][]byte
	require.NoError(t, speaker.Speak(context.Background(), "x", Options{}, collect(&chunks)))

	require.Len(t, chunks, 3) // 16k + 16k + remainder
	for _, c := range chunks[:2] {
		assert.Len(t, c, DefaultChunkSize)
	}
	assert.Equal(t, payload, bytes.Join(chunks, nil))
}

func TestSpeakStopsEmittingAfterCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100000))
	}))
	defer srv.Close()

	speaker := NewFallbackSpeaker(
		NewOpenAISynthesizer(srv.URL, "m", "", srv.Client()),
		NewOpenAISynthesizer(srv.URL, "m", "", srv.Client()),
		1024,
	)

	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	err := speaker.Speak(ctx, "x", Options{}, func([]byte) {
		emitted++
		if emitted == 3 {
			cancel()
		}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, emitted, "no chunk emitted after cancellation")
}
