package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// VoiceConfig is the session persona configuration. Absence of a stored
// config yields these defaults, never an error.
type VoiceConfig struct {
	Name              string `json:"name"`
	VoiceID           string `json:"voiceId"`
	Greeting          string `json:"greeting"`
	PersonalityPrompt string `json:"personalityPrompt"`
}

// DefaultGreeting is spoken when the config endpoint fails or returns no
// greeting text.
const DefaultGreeting = "Hi, I'm your document assistant. Ask me anything about your knowledge base."

// DefaultVoiceConfig returns the documented defaults.
func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{
		Name:     "Assistant",
		Greeting: DefaultGreeting,
	}
}

// VoiceConfigClient fetches per-caller persona configuration.
type VoiceConfigClient struct {
	url       string
	authToken string
	client    *http.Client
}

// NewVoiceConfigClient creates a persona config client.
func NewVoiceConfigClient(url, authToken string, client *http.Client) *VoiceConfigClient {
	if client == nil {
		client = NewPooledHTTPClient(5, 10*time.Second)
	}
	return &VoiceConfigClient{url: url, authToken: authToken, client: client}
}

// Fetch returns the stored persona config, falling back to defaults on any
// failure or missing data. It never returns an error to the caller; the
// greeting must not block on a misbehaving config service.
func (c *VoiceConfigClient) Fetch(ctx context.Context) VoiceConfig {
	cfg := DefaultVoiceConfig()
	if c == nil || c.url == "" {
		return cfg
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		slog.Warn("voice config fetch, using defaults", "error", err)
		return cfg
	}
	if fetched.Name != "" {
		cfg.Name = fetched.Name
	}
	if fetched.VoiceID != "" {
		cfg.VoiceID = fetched.VoiceID
	}
	if fetched.Greeting != "" {
		cfg.Greeting = fetched.Greeting
	}
	cfg.PersonalityPrompt = fetched.PersonalityPrompt
	return cfg
}

func (c *VoiceConfigClient) fetch(ctx context.Context) (*VoiceConfig, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/api/voice-config", nil)
	if err != nil {
		return nil, fmt.Errorf("create voice config request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("X-Internal-Auth", c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice config request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice config status %d", resp.StatusCode)
	}

	var cfg VoiceConfig
	if err = json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode voice config: %w", err)
	}
	return &cfg, nil
}
