package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

// Buffer is a fully decoded mono signal.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return Chunk{Samples: b.Samples, SampleRate: b.SampleRate}.Duration()
}

// DetectType returns the detected media type of data.
func DetectType(data []byte) string {
	return mimetype.Detect(data).String()
}

// DecodeFile decodes a WAV or MP3 file into mono float samples at the
// file's native rate. Anything else fails with apperr.ErrDecode.
func DecodeFile(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", apperr.ErrDecode)
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("audio/wav"):
		return decodeWAV(data)
	case mt.Is("audio/mpeg"):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: unsupported audio container %q", apperr.ErrDecode, mt.String())
	}
}

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(data []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", apperr.ErrDecode)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: unsupported WAV encoding %d (only PCM is supported)", apperr.ErrDecode, d.WavAudioFormat)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read WAV samples: %v", apperr.ErrDecode, err)
	}
	channels := pcm.Format.NumChannels
	if channels <= 0 || pcm.Format.SampleRate <= 0 || len(pcm.Data) < channels {
		return nil, fmt.Errorf("%w: WAV file has no audio", apperr.ErrDecode)
	}

	bitDepth := int(d.BitDepth)
	interleaved := make([]float32, len(pcm.Data))
	switch bitDepth {
	case 8:
		// 8-bit WAV samples are unsigned
		for i, v := range pcm.Data {
			interleaved[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(math.Pow(2, float64(bitDepth-1)))
		for i, v := range pcm.Data {
			interleaved[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("%w: unsupported WAV bit depth %d", apperr.ErrDecode, bitDepth)
	}

	return &Buffer{
		Samples:    DownmixInterleaved(interleaved, channels),
		SampleRate: pcm.Format.SampleRate,
	}, nil
}

// mp3Channels is fixed: go-mp3 always emits 16-bit stereo.
const mp3Channels = 2

func decodeMP3(data []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid MP3 file: %v", apperr.ErrDecode, err)
	}

	raw, err := io.ReadAll(d)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: failed to decode MP3 frames: %v", apperr.ErrDecode, err)
	}
	frameBytes := 2 * mp3Channels
	raw = raw[:len(raw)/frameBytes*frameBytes]
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: MP3 file has no audio", apperr.ErrDecode)
	}

	interleaved := make([]float32, len(raw)/2)
	for i := range interleaved {
		interleaved[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}

	return &Buffer{
		Samples:    DownmixInterleaved(interleaved, mp3Channels),
		SampleRate: d.SampleRate(),
	}, nil
}
