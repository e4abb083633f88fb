package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-studio/internal/api"
	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/document"
	"github.com/lexiqai/voice-studio/internal/observability"
	"github.com/lexiqai/voice-studio/internal/resilience"
	"github.com/lexiqai/voice-studio/internal/stt"
	"github.com/lexiqai/voice-studio/internal/transcription"
	"github.com/lexiqai/voice-studio/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transcription_provider", cfg.TranscriptionProvider).
		Str("synthesis_provider", cfg.SynthesisProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Studio service starting")

	backend, err := stt.NewBackend(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transcription backend")
	}
	synth, err := tts.NewSynthesizer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create synthesizer")
	}

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	sttBreaker := resilience.NewCircuitBreaker("stt-"+backend.Name(), cfg.CircuitBreakerMaxFailures, resetTimeout)
	ttsBreaker := resilience.NewCircuitBreaker("tts-"+synth.Name(), cfg.CircuitBreakerMaxFailures, resetTimeout)

	transcriber := transcription.NewController(backend, cfg.TranscriptionCredential(), transcription.Options{
		QueueSize:      cfg.AudioQueueSize,
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		Retry:          resilience.NewRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff),
		Breaker:        sttBreaker,
	}, logger)

	store := tts.NewPlaybackStore(cfg.PublicBaseURL, cfg.PlaybackTTLDuration())
	speech := tts.NewOrchestrator(synth, cfg.SynthesisCredential(), store, ttsBreaker, logger)
	documents := document.NewExtractor(document.Options{MaxBytes: cfg.MaxUploadBytes})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go store.Run(ctx)

	// Create HTTP server
	mux := http.NewServeMux()
	api.NewServer(transcriber, speech, documents, api.OptionsFromConfig(cfg)).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: a provider is usable when its key is set and its circuit is not open.
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		providerCheck("transcription-"+backend.Name(), cfg.TranscriptionCredential(), sttBreaker),
		providerCheck("synthesis-"+synth.Name(), cfg.SynthesisCredential(), ttsBreaker),
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Uploads are paced in real time, so writes may take minutes.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/transcribe", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

func providerCheck(name, credential string, breaker *resilience.CircuitBreaker) observability.HealthCheck {
	return observability.HealthCheck{
		Name: name,
		Check: func(ctx context.Context) (bool, error) {
			if strings.TrimSpace(credential) == "" {
				return false, fmt.Errorf("API key not configured")
			}
			if breaker.GetState() == resilience.StateOpen {
				return false, fmt.Errorf("circuit breaker %s is open", breaker.Name())
			}
			return true, nil
		},
	}
}
