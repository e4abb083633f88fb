package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/observability"
)

// maxSpeechBytes caps a single response (10 minutes of 24 kHz PCM16).
const maxSpeechBytes = 10 * 60 * SampleRate * 2

// OpenAISynthesizer uses OpenAI's speech endpoint with the raw pcm format
// (24 kHz, mono, 16-bit little-endian).
type OpenAISynthesizer struct {
	client *openai.Client
	model  string
	voice  string
	logger zerolog.Logger
}

// NewOpenAISynthesizer creates a synthesizer from cfg.
func NewOpenAISynthesizer(cfg *config.Config) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  cfg.OpenAITTSModel,
		voice:  cfg.OpenAIVoice,
		logger: observability.Component("tts.openai"),
	}
}

func (o *OpenAISynthesizer) Name() string { return config.ProviderOpenAI }

func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed (model: %s): %w", o.model, err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(io.LimitReader(resp, maxSpeechBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read openai speech response: %w", err)
	}
	if len(pcm) > maxSpeechBytes {
		return nil, fmt.Errorf("openai speech response exceeds %d bytes", maxSpeechBytes)
	}

	o.logger.Debug().
		Int("text_len", len(text)).
		Int("pcm_bytes", len(pcm)).
		Str("voice", o.voice).
		Msg("OpenAI speech generated")
	return pcm, nil
}
