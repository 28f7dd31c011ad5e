package main

import (
	"os"
	"strconv"
	"time"
)

type config struct {
	port string

	retrievalURL  string
	internalAuth  string
	privilegeMode string
	maxTier       int

	docServiceURL  string
	voiceConfigURL string

	sttURL        string
	sttAPIKey     string
	sttSampleRate int
	sttEncoding   string
	sttLanguage   string

	ttsPrimaryURL    string
	ttsPrimaryModel  string
	ttsPrimaryKey    string
	elevenlabsAPIKey string
	elevenlabsModel  string
	ttsVoice         string
	ttsSampleRate    int
	ttsEncoding      string
	ttsChunkSize     int

	maxConcurrent int
	greeting      bool

	publicWSURL  string
	sessionTTL   time.Duration
	vadSilenceMs int
	vadThreshold float64
}

func loadConfig() config {
	return config{
		port: envStr("GATEWAY_PORT", "8080"),

		retrievalURL:  envStr("RETRIEVAL_URL", "http://localhost:9000"),
		internalAuth:  envStr("INTERNAL_AUTH_TOKEN", ""),
		privilegeMode: envStr("PRIVILEGE_MODE", "standard"),
		maxTier:       envInt("MAX_TIER", 2),

		docServiceURL:  envStr("DOC_SERVICE_URL", "http://localhost:9000"),
		voiceConfigURL: envStr("VOICE_CONFIG_URL", "http://localhost:9000"),

		sttURL:        envStr("STT_URL", "ws://localhost:9100/stream"),
		sttAPIKey:     envStr("STT_API_KEY", ""),
		sttSampleRate: envInt("STT_SAMPLE_RATE", 16000),
		sttEncoding:   envStr("STT_ENCODING", "pcm_s16le"),
		sttLanguage:   envStr("STT_LANGUAGE", "en"),

		ttsPrimaryURL:    envStr("TTS_PRIMARY_URL", "http://localhost:9200"),
		ttsPrimaryModel:  envStr("TTS_PRIMARY_MODEL", "kokoro"),
		ttsPrimaryKey:    envStr("TTS_PRIMARY_API_KEY", ""),
		elevenlabsAPIKey: envStr("ELEVENLABS_API_KEY", ""),
		elevenlabsModel:  envStr("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ttsVoice:         envStr("TTS_VOICE", "af_heart"),
		ttsSampleRate:    envInt("TTS_SAMPLE_RATE", 24000),
		ttsEncoding:      envStr("TTS_ENCODING", "pcm"),
		ttsChunkSize:     envInt("TTS_CHUNK_SIZE", 16384),

		maxConcurrent: envInt("MAX_CONCURRENT_SESSIONS", 100),
		greeting:      envBool("GREETING_ENABLED", true),

		publicWSURL:  envStr("PUBLIC_WS_URL", "ws://localhost:8080/ws/agent"),
		sessionTTL:   time.Duration(envInt("SESSION_TTL_SECONDS", 300)) * time.Second,
		vadSilenceMs: envInt("VAD_SILENCE_MS", 800),
		vadThreshold: envFloat("VAD_THRESHOLD", 0.5),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
