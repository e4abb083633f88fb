package tts

import (
	"fmt"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/config"
)

// NewSynthesizer returns the synthesizer selected by SYNTHESIS_PROVIDER.
func NewSynthesizer(cfg *config.Config) (Synthesizer, error) {
	switch cfg.SynthesisProvider {
	case config.ProviderGemini:
		return NewGeminiSynthesizer(cfg), nil
	case config.ProviderOpenAI:
		return NewOpenAISynthesizer(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown synthesis provider %q", apperr.ErrConfiguration, cfg.SynthesisProvider)
	}
}
