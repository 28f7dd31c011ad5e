package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDocService(t *testing.T, handler http.HandlerFunc) *DocServiceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDocServiceClient(srv.URL, "token", srv.Client())
}

func TestIntentOrderBreaksTies(t *testing.T) {
	docs := newDocService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/gaps":
			json.NewEncoder(w).Encode([]string{"billing", "onboarding"})
		case "/api/documents":
			json.NewEncoder(w).Encode([]Document{{ID: "1", Title: "Handbook"}})
		default:
			http.NotFound(w, r)
		}
	})
	router := NewToolRouter(docs)

	// Matches both the gaps pattern and the generic document listing;
	// the first-declared intent must win.
	out := router.Route(context.Background(), "list the gaps in our documents")

	require.True(t, out.Handled)
	assert.Equal(t, "list_gaps", out.Tool)
	assert.Contains(t, out.Text, "billing")
}

func TestListDocuments(t *testing.T) {
	docs := newDocService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents", r.URL.Path)
		require.Equal(t, "token", r.Header.Get("X-Internal-Auth"))
		json.NewEncoder(w).Encode([]Document{
			{ID: "1", Title: "Employee Handbook"},
			{ID: "2", Title: "Security Policy"},
		})
	})
	router := NewToolRouter(docs)

	out := router.Route(context.Background(), "list documents")

	require.True(t, out.Handled)
	assert.Equal(t, "There are 2 documents: Employee Handbook, Security Policy.", out.Text)
}

func TestListDocumentsFetchFailure(t *testing.T) {
	docs := newDocService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	router := NewToolRouter(docs)

	out := router.Route(context.Background(), "show me the documents")

	require.True(t, out.Handled)
	assert.Equal(t, listFetchFallback, out.Text, "fetch failure substitutes the fallback message")
}

func TestSummarizeRewritesToRetrievalQuery(t *testing.T) {
	router := NewToolRouter(newDocService(t, http.NotFound))

	out := router.Route(context.Background(), "summarize the security policy")

	require.True(t, out.Handled)
	assert.Equal(t, "Summarize document: the security policy", out.Requery)
	assert.Empty(t, out.Text)
}

func TestExportAuditIsExecuting(t *testing.T) {
	router := NewToolRouter(newDocService(t, http.NotFound))

	out := router.Route(context.Background(), "please export the audit log")

	require.True(t, out.Handled)
	assert.True(t, out.Executing)
	assert.NotEmpty(t, out.Text)
}

func TestStats(t *testing.T) {
	docs := newDocService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/stats", r.URL.Path)
		json.NewEncoder(w).Encode(KBStats{Documents: 12, Chunks: 340})
	})
	router := NewToolRouter(docs)

	out := router.Route(context.Background(), "how many documents do we have")

	require.True(t, out.Handled)
	assert.Equal(t, "The knowledge base holds 12 documents across 340 indexed chunks.", out.Text)
}

func TestFreeFormQueryFallsThrough(t *testing.T) {
	router := NewToolRouter(newDocService(t, http.NotFound))

	out := router.Route(context.Background(), "what is the parental leave policy")

	assert.False(t, out.Handled, "no tool intent: falls through to retrieval")
}
