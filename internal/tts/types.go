// Package tts turns text into playable speech: provider clients return raw
// PCM, the orchestrator wraps it as WAV and hands out revocable playback
// handles.
package tts

import "context"

// Output format every synthesizer returns.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
)

// Synthesizer converts text to raw 16-bit little-endian mono PCM at
// SampleRate.
type Synthesizer interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Synthesize makes exactly one request to the provider.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
