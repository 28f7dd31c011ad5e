package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/voicedesk/gateway/internal/metrics"
)

// ToolOutcome is the result of matching user text against the intent list.
type ToolOutcome struct {
	Handled   bool
	Tool      string
	Text      string // spoken reply when the tool answers directly
	Requery   string // non-empty: re-enter retrieval with this query
	Executing bool   // tool performs a backend action (audit export)
}

type intent struct {
	name    string
	pattern *regexp.Regexp
	run     func(ctx context.Context, match []string) ToolOutcome
}

// ToolRouter matches user text against a fixed ordered list of command
// intents before the text falls through to retrieval. Patterns are
// evaluated in declaration order; the first match wins, so more specific
// intents must be declared before the generic ones they overlap with.
type ToolRouter struct {
	intents []intent
	docs    *DocServiceClient
}

// NewToolRouter creates the router with its fixed intent list.
func NewToolRouter(docs *DocServiceClient) *ToolRouter {
	r := &ToolRouter{docs: docs}
	r.intents = []intent{
		// "list gaps" must precede the generic document listing.
		{
			name:    "list_gaps",
			pattern: regexp.MustCompile(`(?i)\b(list|show|what are)\b.*\bgaps?\b`),
			run:     r.listGaps,
		},
		{
			name:    "list_documents",
			pattern: regexp.MustCompile(`(?i)\b(list|show|what)\b.*\b(documents?|files|docs)\b`),
			run:     r.listDocuments,
		},
		{
			name:    "summarize",
			pattern: regexp.MustCompile(`(?i)^summarize\s+(.+)$`),
			run:     summarize,
		},
		{
			name:    "kb_stats",
			pattern: regexp.MustCompile(`(?i)\b(how (many|much)|stats|statistics)\b.*\b(documents?|knowledge base)\b`),
			run:     r.stats,
		},
		{
			name:    "export_audit",
			pattern: regexp.MustCompile(`(?i)\bexport\b.*\baudit\b`),
			run:     exportAudit,
		},
		{
			name:    "help",
			pattern: regexp.MustCompile(`(?i)^(help|what can you do)\b`),
			run:     help,
		},
	}
	return r
}

// Route returns the outcome of the first matching intent, or an unhandled
// outcome when no intent matches and the text should go to retrieval.
func (r *ToolRouter) Route(ctx context.Context, text string) ToolOutcome {
	text = strings.TrimSpace(text)
	for _, in := range r.intents {
		m := in.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		metrics.ToolInvocations.WithLabelValues(in.name).Inc()
		out := in.run(ctx, m)
		out.Tool = in.name
		return out
	}
	return ToolOutcome{}
}

const listFetchFallback = "I couldn't reach the document service just now. Please try again in a moment."

func (r *ToolRouter) listDocuments(ctx context.Context, _ []string) ToolOutcome {
	docs, err := r.docs.ListDocuments(ctx)
	if err != nil {
		slog.Error("list documents", "error", err)
		return ToolOutcome{Handled: true, Text: listFetchFallback}
	}
	if len(docs) == 0 {
		return ToolOutcome{Handled: true, Text: "There are no documents in the knowledge base yet."}
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Title)
	}
	return ToolOutcome{Handled: true, Text: fmt.Sprintf(
		"There are %d documents: %s.", len(docs), strings.Join(names, ", "))}
}

func (r *ToolRouter) listGaps(ctx context.Context, _ []string) ToolOutcome {
	gaps, err := r.docs.ListGaps(ctx)
	if err != nil {
		slog.Error("list gaps", "error", err)
		return ToolOutcome{Handled: true, Text: listFetchFallback}
	}
	if len(gaps) == 0 {
		return ToolOutcome{Handled: true, Text: "No coverage gaps are currently recorded."}
	}
	return ToolOutcome{Handled: true, Text: fmt.Sprintf(
		"There are %d open coverage gaps: %s.", len(gaps), strings.Join(gaps, ", "))}
}

func (r *ToolRouter) stats(ctx context.Context, _ []string) ToolOutcome {
	st, err := r.docs.Stats(ctx)
	if err != nil {
		slog.Error("kb stats", "error", err)
		return ToolOutcome{Handled: true, Text: listFetchFallback}
	}
	return ToolOutcome{Handled: true, Text: fmt.Sprintf(
		"The knowledge base holds %d documents across %d indexed chunks.", st.Documents, st.Chunks)}
}

func summarize(_ context.Context, match []string) ToolOutcome {
	subject := strings.TrimSpace(match[1])
	return ToolOutcome{Handled: true, Requery: "Summarize document: " + subject}
}

func exportAudit(_ context.Context, _ []string) ToolOutcome {
	return ToolOutcome{
		Handled:   true,
		Executing: true,
		Text:      "I've started the audit log export. You'll find it in the dashboard downloads shortly.",
	}
}

func help(_ context.Context, _ []string) ToolOutcome {
	return ToolOutcome{Handled: true, Text: "You can ask me anything about your documents, " +
		"or say things like: list documents, list gaps, summarize a document, or export the audit log."}
}

// Document is one entry returned by the document service listing.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// KBStats summarizes the indexed knowledge base.
type KBStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// DocServiceClient calls the document service listing/stats endpoints.
type DocServiceClient struct {
	url       string
	authToken string
	client    *http.Client
}

// NewDocServiceClient creates a document service client.
func NewDocServiceClient(url, authToken string, client *http.Client) *DocServiceClient {
	if client == nil {
		client = NewPooledHTTPClient(5, 10*time.Second)
	}
	return &DocServiceClient{url: url, authToken: authToken, client: client}
}

// ListDocuments fetches the document listing.
func (c *DocServiceClient) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.getJSON(ctx, "/api/documents", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListGaps fetches open coverage gap topics.
func (c *DocServiceClient) ListGaps(ctx context.Context) ([]string, error) {
	var gaps []string
	if err := c.getJSON(ctx, "/api/gaps", &gaps); err != nil {
		return nil, err
	}
	return gaps, nil
}

// Stats fetches knowledge base statistics.
func (c *DocServiceClient) Stats(ctx context.Context) (*KBStats, error) {
	var st KBStats
	if err := c.getJSON(ctx, "/api/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *DocServiceClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+path, nil)
	if err != nil {
		return fmt.Errorf("create doc service request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("X-Internal-Auth", c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tools", "http").Inc()
		return fmt.Errorf("doc service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("tools", "status").Inc()
		return fmt.Errorf("doc service status %d", resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode doc service response: %w", err)
	}
	return nil
}
