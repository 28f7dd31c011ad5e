package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_sessions_active",
		Help: "Currently connected agent sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_sessions_total",
		Help: "Total agent sessions accepted",
	})

	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_turns_total",
		Help: "Completed user turns (finalized input through spoken reply)",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioFramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_audio_frames_forwarded_total",
		Help: "Binary audio frames forwarded to the transcription stream",
	})

	AudioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_audio_frames_dropped_total",
		Help: "Binary frames received with no active audio session",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_barge_ins_total",
		Help: "Client barge-in cancellations",
	})

	TTSFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_tts_fallbacks_total",
		Help: "Synthesis calls served by the secondary provider",
	})

	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_tool_invocations_total",
		Help: "Tool intents matched, by tool name",
	}, []string{"tool"})

	RetrievalSilences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_retrieval_silences_total",
		Help: "Retrieval responses that declined to answer",
	})
)
