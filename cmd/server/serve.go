package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/whitewookie32/TheDonna/internal/audio"
	"github.com/whitewookie32/TheDonna/internal/metrics"
	"github.com/whitewookie32/TheDonna/internal/persona"
	"github.com/whitewookie32/TheDonna/internal/provider"
	"github.com/whitewookie32/TheDonna/internal/server"
	"github.com/whitewookie32/TheDonna/internal/session"
	"github.com/whitewookie32/TheDonna/internal/synthesis"
	"github.com/whitewookie32/TheDonna/internal/telemetry"
	"github.com/whitewookie32/TheDonna/internal/transcription"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.HTTP.ListenAddress()),
		slog.String("provider_base_url", cfg.Provider.BaseURL),
		slog.Int("provider_max_concurrent", cfg.Provider.MaxConcurrent),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("persona", cfg.Persona.Name),
		slog.String("persona_model", cfg.Persona.Model),
		slog.String("synthesis_model", cfg.Synthesis.Model),
		slog.String("synthesis_voice", cfg.Synthesis.Voice),
		slog.Int("min_utterance_bytes", cfg.Session.MinUtteranceBytes),
		slog.Int("history_limit", cfg.Session.HistoryLimit),
		slog.Bool("telemetry_enabled", cfg.Telemetry.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(promRegistry)
	logger.Info("Prometheus metrics initialized")

	// One HTTP client, API client and concurrency cap shared by all stages
	api, err := provider.NewOpenAIClient(cfg.Provider, provider.NewHTTPClient())
	if err != nil {
		return fmt.Errorf("failed to create provider client: %w", err)
	}
	limiter := provider.NewLimiter(cfg.Provider.MaxConcurrent)

	inputFormat, err := audio.ParseFormat(cfg.Transcription.InputFormat)
	if err != nil {
		return fmt.Errorf("invalid transcription input format: %w", err)
	}

	transcriber, err := transcription.NewClient(transcription.Config{
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		InputFormat: inputFormat,
		Timeout:     cfg.Transcription.GetTimeoutDuration(),
	}, api, limiter, logger)
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	instruction, err := persona.LoadInstruction(cfg.Persona.PromptFile)
	if err != nil {
		return err
	}

	responder, err := persona.NewClient(persona.Config{
		Model:        cfg.Persona.Model,
		Instruction:  instruction,
		ContextTurns: cfg.Persona.ContextTurns,
		Temperature:  cfg.Persona.Temperature,
		MaxTokens:    cfg.Persona.MaxTokens,
		Timeout:      cfg.Persona.GetTimeoutDuration(),
	}, api, limiter, logger)
	if err != nil {
		return fmt.Errorf("failed to create persona client: %w", err)
	}

	synthesizer, err := synthesis.NewClient(synthesis.Config{
		Model:   cfg.Synthesis.Model,
		Voice:   cfg.Synthesis.Voice,
		Format:  cfg.Synthesis.Format,
		Timeout: cfg.Synthesis.GetTimeoutDuration(),
	}, api, limiter, logger)
	if err != nil {
		return fmt.Errorf("failed to create synthesis client: %w", err)
	}

	registry, err := session.NewRegistry(session.Config{
		MinUtteranceBytes: cfg.Session.MinUtteranceBytes,
		HistoryLimit:      cfg.Session.HistoryLimit,
		PersonaName:       cfg.Persona.Name,
		InboundBuffer:     cfg.Session.InboundBuffer,
		MaxSessions:       cfg.Session.MaxSessions,
	}, session.Pipeline{
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: synthesizer,
	}, logger, appMetrics, telemetry.Tracer(tracerProvider))
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	logger.Info("Session registry initialized",
		slog.Int("max_sessions", cfg.Session.MaxSessions),
	)

	httpServer := server.NewHTTPServer(cfg, logger, server.Dependencies{
		Registry: registry,
		Metrics:  appMetrics,
		Gatherer: promRegistry,
		Limiter:  limiter,
		Stats: map[string]server.StatsSource{
			string(provider.StageTranscription): transcriber,
			string(provider.StageGeneration):    responder,
			string(provider.StageSynthesis):     synthesizer,
		},
	})

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.HTTP.ListenAddress()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", slog.String("error", err.Error()))
	}

	for name, stats := range map[string]provider.ClientStats{
		"transcription": transcriber.GetStats(),
		"generation":    responder.GetStats(),
		"synthesis":     synthesizer.GetStats(),
	} {
		logger.Info("Final stage statistics",
			slog.String("stage", name),
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("successful_requests", stats.SuccessRequests),
			slog.Float64("success_rate", stats.SuccessRate),
		)
	}

	logger.Info("Service stopped")
	return nil
}
