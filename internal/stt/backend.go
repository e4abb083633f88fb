package stt

import (
	"fmt"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/config"
)

// NewBackend returns the backend selected by TRANSCRIPTION_PROVIDER.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.TranscriptionProvider {
	case config.ProviderGemini:
		return NewGeminiBackend(cfg), nil
	case config.ProviderDeepgram:
		return NewDeepgramBackend(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown transcription provider %q", apperr.ErrConfiguration, cfg.TranscriptionProvider)
	}
}
