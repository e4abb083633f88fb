// Package api exposes transcription, synthesis and document extraction to
// the browser over HTTP and a WebSocket.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/capture"
	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/document"
	"github.com/lexiqai/voice-studio/internal/observability"
	"github.com/lexiqai/voice-studio/internal/transcription"
	"github.com/lexiqai/voice-studio/internal/tts"
)

// Options holds the per-operation settings handed to each socket client.
type Options struct {
	MaxUploadBytes int64
	DeviceBuffer   int // capture frames buffered between the socket and the recorder
	Recording      transcription.RecordingOptions
	Upload         transcription.UploadOptions
}

// OptionsFromConfig builds Options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	resampler := audio.NewResampler(cfg.ResampleQuality)
	return Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		DeviceBuffer:   64,
		Recording: transcription.RecordingOptions{
			BlockSize: cfg.CaptureBlockSize,
			Resampler: resampler,
			Activity: &audio.ActivityConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceBlocks:   cfg.VADSilenceBlocks,
			},
		},
		Upload: transcription.UploadOptions{
			File: capture.FileOptions{
				TargetRate: audio.TargetSampleRate,
				ChunkSize:  cfg.CaptureBlockSize,
				Delay:      cfg.FileChunkDelayDuration(),
				Resampler:  resampler,
			},
			SettleDelay: cfg.FileSettleDelayDuration(),
		},
	}
}

// Server serves the studio endpoints.
type Server struct {
	transcriber *transcription.Controller
	speech      *tts.Orchestrator
	documents   *document.Extractor
	opts        Options
	logger      zerolog.Logger
}

// NewServer creates a server.
func NewServer(transcriber *transcription.Controller, speech *tts.Orchestrator, documents *document.Extractor, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = document.DefaultMaxBytes
	}
	if opts.DeviceBuffer <= 0 {
		opts.DeviceBuffer = 64
	}
	return &Server{
		transcriber: transcriber,
		speech:      speech,
		documents:   documents,
		opts:        opts,
		logger:      observability.Component("api"),
	}
}

// Register adds the studio routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /streams/transcribe", s.HandleTranscribeWS)
	mux.HandleFunc("POST /api/transcriptions", s.handleTranscription)
	mux.HandleFunc("POST /api/speech", s.handleCreateSpeech)
	mux.HandleFunc("GET /api/speech/{id}", s.handleGetSpeech)
	mux.HandleFunc("DELETE /api/speech/{id}", s.handleDeleteSpeech)
	mux.HandleFunc("POST /api/documents", s.handleDocument)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the user-facing message for err. Internal detail
// goes to the log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	observability.RecordError(kind, "api")

	event := s.logger.Warn()
	if code >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", code).
		Msg("Request failed")

	writeJSON(w, code, errorResponse{Error: apperr.UserMessage(err), Kind: kind})
}

func logRequest(logger zerolog.Logger, r *http.Request, start time.Time, status int) {
	logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}
