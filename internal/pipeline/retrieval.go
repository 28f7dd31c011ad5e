package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicedesk/gateway/internal/metrics"
)

// DefaultRefusalMessage is spoken when the retrieval backend declines to
// answer without providing its own refusal text.
const DefaultRefusalMessage = "I don't have enough information in the documents to answer that."

// RAGResponse is the parsed result of one retrieval call.
type RAGResponse struct {
	Text        string
	Confidence  float64
	IsSilence   bool
	Suggestions []string
}

// Turn is one prior user/assistant exchange sent as conversation history.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// RetrievalConfig holds configuration for the retrieval backend client.
type RetrievalConfig struct {
	URL           string
	AuthToken     string
	PrivilegeMode string
	MaxTier       int
	Client        *http.Client
}

// RetrievalClient queries the knowledge backend and parses its
// event-stream response.
type RetrievalClient struct {
	cfg RetrievalConfig
}

// NewRetrievalClient creates a retrieval backend client.
func NewRetrievalClient(cfg RetrievalConfig) *RetrievalClient {
	if cfg.Client == nil {
		cfg.Client = NewPooledHTTPClient(10, 60*time.Second)
	}
	return &RetrievalClient{cfg: cfg}
}

type retrievalRequest struct {
	Query         string `json:"query"`
	PrivilegeMode string `json:"privilegeMode"`
	MaxTier       int    `json:"maxTier"`
	History       []Turn `json:"history"`
}

// Query posts the user text to the backend and parses the streamed answer.
// onToken, if non-nil, is invoked for each accumulated answer token as it
// arrives.
func (c *RetrievalClient) Query(ctx context.Context, query string, history []Turn, onToken func(string)) (*RAGResponse, error) {
	start := time.Now()

	body, err := json.Marshal(retrievalRequest{
		Query:         query,
		PrivilegeMode: c.cfg.PrivilegeMode,
		MaxTier:       c.cfg.MaxTier,
		History:       history,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.AuthToken != "" {
		req.Header.Set("X-Internal-Auth", c.cfg.AuthToken)
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("retrieval", "http").Inc()
		return nil, fmt.Errorf("retrieval request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("retrieval", "status").Inc()
		return nil, fmt.Errorf("retrieval status %d", resp.StatusCode)
	}

	result, err := parseEventStream(resp.Body, onToken)
	if err != nil {
		return nil, err
	}

	metrics.StageDuration.WithLabelValues("retrieval").Observe(time.Since(start).Seconds())
	if result.IsSilence {
		metrics.RetrievalSilences.Inc()
	}
	return result, nil
}

type silencePayload struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
}

type tokenPayload struct {
	Text string `json:"text"`
}

// parseEventStream scans event:/data: line pairs. Recognized events:
// token (answer text), confidence, silence (refusal), done. Events the
// session does not speak (citations, status) are skipped.
func parseEventStream(body io.Reader, onToken func(string)) (*RAGResponse, error) {
	result := &RAGResponse{}
	var answer strings.Builder
	event := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(name)
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)

		switch event {
		case "token":
			var tok tokenPayload
			if err := json.Unmarshal([]byte(data), &tok); err != nil {
				// Plain-text data line
				tok.Text = data
			}
			answer.WriteString(tok.Text)
			if onToken != nil && tok.Text != "" {
				onToken(tok.Text)
			}
		case "confidence":
			if v, err := strconv.ParseFloat(strings.Trim(data, `"`), 64); err == nil {
				result.Confidence = v
			}
		case "silence":
			var s silencePayload
			if err := json.Unmarshal([]byte(data), &s); err != nil || s.Message == "" {
				s.Message = DefaultRefusalMessage
			}
			result.IsSilence = true
			result.Confidence = 0
			result.Suggestions = s.Suggestions
			answer.Reset()
			answer.WriteString(s.Message)
		case "done":
			result.Text = answer.String()
			return result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read retrieval stream: %w", err)
	}

	result.Text = answer.String()
	return result, nil
}
