package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/voicedesk/gateway/internal/bootstrap"
	"github.com/voicedesk/gateway/internal/pipeline"
	"github.com/voicedesk/gateway/internal/stt"
	"github.com/voicedesk/gateway/internal/tts"
	"github.com/voicedesk/gateway/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	retrieval := pipeline.NewRetrievalClient(pipeline.RetrievalConfig{
		URL:           cfg.retrievalURL,
		AuthToken:     cfg.internalAuth,
		PrivilegeMode: cfg.privilegeMode,
		MaxTier:       cfg.maxTier,
	})

	docs := pipeline.NewDocServiceClient(cfg.docServiceURL, cfg.internalAuth, nil)
	tools := pipeline.NewToolRouter(docs)
	voiceConfig := pipeline.NewVoiceConfigClient(cfg.voiceConfigURL, cfg.internalAuth, nil)

	sttOpener := stt.NewWebSocketOpener(stt.Config{
		URL:          cfg.sttURL,
		APIKey:       cfg.sttAPIKey,
		SampleRateHz: cfg.sttSampleRate,
		Encoding:     cfg.sttEncoding,
		Language:     cfg.sttLanguage,
	})

	ttsHTTP := pipeline.NewPooledHTTPClient(50, 30*time.Second)
	primary := tts.NewOpenAISynthesizer(cfg.ttsPrimaryURL, cfg.ttsPrimaryModel, cfg.ttsPrimaryKey, ttsHTTP)
	secondary := tts.NewElevenLabsSynthesizer("", cfg.elevenlabsAPIKey, cfg.elevenlabsModel, ttsHTTP)
	speaker := tts.NewFallbackSpeaker(primary, secondary, cfg.ttsChunkSize)

	handler := ws.NewHandler(ws.HandlerConfig{
		STT:         sttOpener,
		Tools:       tools,
		Retrieval:   retrieval,
		VoiceConfig: voiceConfig,
		Speaker:     speaker,
		TTSOptions: tts.Options{
			Voice:        cfg.ttsVoice,
			SampleRateHz: cfg.ttsSampleRate,
			Encoding:     cfg.ttsEncoding,
		},
		MaxConcurrent: cfg.maxConcurrent,
		Greeting:      cfg.greeting,
	})

	sessions := bootstrap.NewStore(cfg.publicWSURL, bootstrap.AudioParams{
		SampleRateHz: cfg.sttSampleRate,
		Encoding:     cfg.sttEncoding,
		Channels:     1,
		VADSilenceMs: cfg.vadSilenceMs,
		VADThreshold: cfg.vadThreshold,
	}, cfg.sessionTTL)

	router := newRouter(deps{
		wsHandler:   handler,
		sessions:    sessions,
		voiceConfig: voiceConfig,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway starting", "addr", addr, "max_concurrent", cfg.maxConcurrent)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sessions.Sweep(gctx, time.Minute)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}
