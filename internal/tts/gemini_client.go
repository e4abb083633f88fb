package tts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/observability"
)

// GeminiSynthesizer uses Gemini's speech generation models. The inline audio
// it returns is 24 kHz mono 16-bit PCM.
type GeminiSynthesizer struct {
	apiKey string
	model  string
	voice  string
	logger zerolog.Logger
}

// NewGeminiSynthesizer creates a synthesizer from cfg.
func NewGeminiSynthesizer(cfg *config.Config) *GeminiSynthesizer {
	return &GeminiSynthesizer{
		apiKey: cfg.GeminiAPIKey,
		model:  cfg.GeminiTTSModel,
		voice:  cfg.GeminiVoice,
		logger: observability.Component("tts.gemini"),
	}
}

func (g *GeminiSynthesizer) Name() string { return config.ProviderGemini }

func (g *GeminiSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini speech request failed (model: %s): %w", g.model, err)
	}

	pcm := inlineAudio(resp)
	g.logger.Debug().
		Int("text_len", len(text)).
		Int("pcm_bytes", len(pcm)).
		Str("voice", g.voice).
		Msg("Gemini speech generated")
	return pcm, nil
}

// inlineAudio concatenates the inline data parts of the first candidate.
func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil {
			pcm = append(pcm, part.InlineData.Data...)
		}
	}
	return pcm
}
