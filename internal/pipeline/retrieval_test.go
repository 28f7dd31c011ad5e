package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetrievalServer(t *testing.T, handler http.HandlerFunc) *RetrievalClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRetrievalClient(RetrievalConfig{
		URL:           srv.URL,
		AuthToken:     "secret",
		PrivilegeMode: "standard",
		MaxTier:       2,
		Client:        srv.Client(),
	})
}

func TestQueryAccumulatesTokens(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/query", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Internal-Auth"))

		var req retrievalRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is the refund policy", req.Query)
		assert.Equal(t, "standard", req.PrivilegeMode)
		assert.Equal(t, 2, req.MaxTier)
		assert.Len(t, req.History, 1)

		fmt.Fprint(w, "event: token\n")
		fmt.Fprint(w, `data: {"text":"Refunds are issued "}`+"\n")
		fmt.Fprint(w, "event: token\n")
		fmt.Fprint(w, `data: {"text":"within 30 days."}`+"\n")
		fmt.Fprint(w, "event: confidence\n")
		fmt.Fprint(w, "data: 0.91\n")
		fmt.Fprint(w, "event: citations\n")
		fmt.Fprint(w, `data: [{"doc":"policy.pdf"}]`+"\n")
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n")
	})

	var tokens []string
	resp, err := client.Query(context.Background(), "what is the refund policy",
		[]Turn{{User: "hi", Assistant: "hello"}},
		func(tok string) { tokens = append(tokens, tok) })

	require.NoError(t, err)
	assert.Equal(t, "Refunds are issued within 30 days.", resp.Text)
	assert.InDelta(t, 0.91, resp.Confidence, 1e-9)
	assert.False(t, resp.IsSilence)
	assert.Equal(t, []string{"Refunds are issued ", "within 30 days."}, tokens)
}

func TestSilenceReplacesAccumulatedText(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: token\n")
		fmt.Fprint(w, `data: {"text":"partial answer"}`+"\n")
		fmt.Fprint(w, "event: silence\n")
		fmt.Fprint(w, `data: {"message":"I can't answer that from the documents.","suggestions":["ask about billing"]}`+"\n")
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n")
	})

	resp, err := client.Query(context.Background(), "q", nil, nil)

	require.NoError(t, err)
	assert.True(t, resp.IsSilence)
	assert.Equal(t, "I can't answer that from the documents.", resp.Text)
	assert.Zero(t, resp.Confidence)
	assert.Equal(t, []string{"ask about billing"}, resp.Suggestions)
}

func TestSilenceWithoutMessageUsesDefault(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: silence\n")
		fmt.Fprint(w, "data: {}\n")
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n")
	})

	resp, err := client.Query(context.Background(), "q", nil, nil)

	require.NoError(t, err)
	assert.True(t, resp.IsSilence)
	assert.Equal(t, DefaultRefusalMessage, resp.Text)
	assert.Zero(t, resp.Confidence)
}

func TestStreamWithoutDoneStillReturns(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: token\n")
		fmt.Fprint(w, `data: {"text":"truncated"}`+"\n")
	})

	resp, err := client.Query(context.Background(), "q", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "truncated", resp.Text)
}

func TestNon200IsAnError(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Query(context.Background(), "q", nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPlainTextTokenData(t *testing.T) {
	client := newRetrievalServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: token\n")
		fmt.Fprint(w, "data: plain words\n")
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n")
	})

	resp, err := client.Query(context.Background(), "q", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "plain words", resp.Text)
}
