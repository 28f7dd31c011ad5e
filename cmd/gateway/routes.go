package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicedesk/gateway/internal/bootstrap"
	"github.com/voicedesk/gateway/internal/pipeline"
)

type deps struct {
	wsHandler   http.Handler
	sessions    *bootstrap.Store
	voiceConfig *pipeline.VoiceConfigClient
}

// newRouter wires the HTTP surface: the agent socket, session bootstrap,
// persona config passthrough, health, and metrics.
func newRouter(d deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/ws/agent", d.wsHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/session", func(w http.ResponseWriter, _ *http.Request) {
		creds := d.sessions.Issue()
		writeJSON(w, creds)
	})

	r.Get("/api/voice-config", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, d.voiceConfig.Fetch(req.Context()))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
