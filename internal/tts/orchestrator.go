package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/observability"
	"github.com/lexiqai/voice-studio/internal/resilience"
)

// Handle identifies a playable synthesis result.
type Handle struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"-"`
	Seconds  float64       `json:"durationSeconds"`
}

// Orchestrator runs one synthesis per request and publishes the result.
type Orchestrator struct {
	synth      Synthesizer
	credential string
	store      *PlaybackStore
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator. breaker may be nil.
func NewOrchestrator(synth Synthesizer, credential string, store *PlaybackStore, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		synth:      synth,
		credential: credential,
		store:      store,
		breaker:    breaker,
		logger:     logger.With().Str("component", "tts").Str("provider", synth.Name()).Logger(),
	}
}

// Store returns the playback store handles are served from.
func (o *Orchestrator) Store() *PlaybackStore { return o.store }

// Generate synthesizes text and returns a playback handle. prior, if set,
// is the caller's previous handle; it stays playable until the new audio
// is stored and is revoked only then. Failures are not retried.
func (o *Orchestrator) Generate(ctx context.Context, text, prior string) (Handle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Handle{}, fmt.Errorf("%w: text is empty", apperr.ErrInvalidInput)
	}
	if strings.TrimSpace(o.credential) == "" {
		return Handle{}, fmt.Errorf("%w: no API key configured for %s", apperr.ErrConfiguration, o.synth.Name())
	}

	start := time.Now()
	var pcm []byte
	call := func(ctx context.Context) error {
		var err error
		pcm, err = o.synth.Synthesize(ctx, text)
		return err
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.CallContext(ctx, call)
	} else {
		err = call(ctx)
	}
	if err == nil && len(pcm) == 0 {
		err = errors.New("no audio returned")
	}
	if err != nil {
		observability.RecordSynthesis(false, time.Since(start))
		observability.RecordError(apperr.Kind(apperr.ErrSynthesis), "tts")
		o.logger.Error().Err(err).Int("text_len", len(text)).Msg("Speech synthesis failed")
		return Handle{}, fmt.Errorf("%w: %w", apperr.ErrSynthesis, err)
	}

	if len(pcm)%2 != 0 {
		o.logger.Warn().Int("pcm_bytes", len(pcm)).Msg("Dropping trailing odd byte from PCM payload")
		pcm = pcm[:len(pcm)-1]
	}

	wav, err := audio.WrapPCM(pcm, SampleRate, Channels, BitsPerSample)
	if err != nil {
		observability.RecordSynthesis(false, time.Since(start))
		return Handle{}, fmt.Errorf("%w: %w", apperr.ErrSynthesis, err)
	}

	duration := time.Duration(len(pcm)) * time.Second / time.Duration(SampleRate*Channels*BitsPerSample/8)
	p := o.store.Put(wav, duration)
	if prior != "" && prior != p.ID {
		o.store.Revoke(prior)
	}

	latency := time.Since(start)
	observability.RecordSynthesis(true, latency)
	o.logger.Info().
		Str("playback_id", p.ID).
		Int("text_len", len(text)).
		Int("wav_bytes", len(wav)).
		Dur("audio_duration", duration).
		Dur("latency", latency).
		Msg("Speech synthesized")

	return Handle{
		ID:       p.ID,
		URL:      o.store.URL(p.ID),
		Bytes:    len(wav),
		Duration: duration,
		Seconds:  duration.Seconds(),
	}, nil
}
