// Package audio holds the sample formats, conversions and containers used
// between capture and the transcription and synthesis backends.
package audio

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

// TargetSampleRate is the only rate accepted by streaming transcription backends.
const TargetSampleRate = 16000

// Chunk is a block of mono samples normalised to [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// EncodedUnit is 16-bit little-endian PCM ready for transport.
type EncodedUnit struct {
	PCM        []byte
	SampleRate int
}

// MIMEType returns the declared media type, e.g. "audio/pcm;rate=16000".
func (u EncodedUnit) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", u.SampleRate)
}

// Base64 returns the textual transport encoding of the PCM payload.
func (u EncodedUnit) Base64() string {
	return base64.StdEncoding.EncodeToString(u.PCM)
}

// MediaBlob is the inline media element of a realtime input message.
type MediaBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// MediaMessage is the wire shape of one realtime audio unit.
type MediaMessage struct {
	Media MediaBlob `json:"media"`
}

// Media returns the unit in its wire shape.
func (u EncodedUnit) Media() MediaMessage {
	return MediaMessage{Media: MediaBlob{Data: u.Base64(), MIMEType: u.MIMEType()}}
}

// Encoder turns capture chunks into units at a single target rate. With a
// StreamingResampler it keeps one filter running across chunks, so an
// Encoder belongs to a single stream and is not safe for concurrent use.
type Encoder struct {
	Resampler  Resampler
	TargetRate int

	stream *ResampleStream
}

// NewEncoder returns an encoder targeting TargetSampleRate.
func NewEncoder(r Resampler) *Encoder {
	if r == nil {
		r = LinearResampler{}
	}
	return &Encoder{Resampler: r, TargetRate: TargetSampleRate}
}

// Encode resamples c to the target rate and encodes it as PCM16. A
// streaming filter may hold back the first few milliseconds; a chunk that
// yields no samples returns a unit with empty PCM.
func (e *Encoder) Encode(c Chunk) (EncodedUnit, error) {
	if len(c.Samples) == 0 {
		return EncodedUnit{}, fmt.Errorf("%w: empty audio chunk", apperr.ErrInvalidInput)
	}
	target := e.TargetRate
	if target <= 0 {
		target = TargetSampleRate
	}

	samples, err := e.resample(c, target)
	if err != nil {
		return EncodedUnit{}, err
	}
	if len(samples) == 0 {
		return EncodedUnit{SampleRate: target}, nil
	}
	pcm, err := EncodePCM16(samples)
	if err != nil {
		return EncodedUnit{}, err
	}
	return EncodedUnit{PCM: pcm, SampleRate: target}, nil
}

func (e *Encoder) resample(c Chunk, target int) ([]float32, error) {
	sr, ok := e.Resampler.(StreamingResampler)
	if !ok || c.SampleRate == target {
		return e.Resampler.Resample(c.Samples, c.SampleRate, target)
	}

	if e.stream == nil || e.stream.SrcRate != c.SampleRate || e.stream.DstRate != target {
		stream, err := sr.NewStream(c.SampleRate, target)
		if err != nil {
			return nil, err
		}
		e.stream = stream
	}
	return e.stream.Resample(c.Samples)
}
