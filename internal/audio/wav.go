package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE PCM header.
const WAVHeaderSize = 44

// WAVHeader represents the header structure of a canonical PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a parsed WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// Duration returns the playback length of the data chunk.
func (i WAVInfo) Duration() time.Duration {
	bytesPerSecond := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(i.DataSize) * int64(time.Second) / int64(bytesPerSecond))
}

// WrapPCM prefixes raw little-endian PCM with a 44-byte WAV header. The
// result is exactly WAVHeaderSize + len(pcm) bytes.
func WrapPCM(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: cannot wrap empty PCM data", apperr.ErrInvalidInput)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format (rate=%d, channels=%d)", apperr.ErrInvalidInput, sampleRate, channels)
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit is supported)", apperr.ErrInvalidInput, bitsPerSample)
	}
	blockAlign := channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		return nil, fmt.Errorf("%w: PCM length %d is not a multiple of block size %d", apperr.ErrInvalidInput, len(pcm), blockAlign)
	}

	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitsPerSample,
	}

	out := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(out, sampleRate, bitsPerSample, channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	var wrapped bytes.Buffer
	wrapped.Grow(WAVHeaderSize + len(pcm))
	if _, err := wrapped.ReadFrom(out.Reader()); err != nil {
		return nil, fmt.Errorf("failed to read WAV output: %w", err)
	}
	return wrapped.Bytes(), nil
}

// ParseWAVHeader reads and validates a canonical 44-byte PCM header.
func ParseWAVHeader(data []byte) (WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: WAV data too short: need at least %d bytes, got %d", apperr.ErrDecode, WAVHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: failed to read WAV header: %v", apperr.ErrDecode, err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return WAVInfo{}, fmt.Errorf("%w: invalid WAV file: missing RIFF header", apperr.ErrDecode)
	case string(header.Format[:]) != "WAVE":
		return WAVInfo{}, fmt.Errorf("%w: invalid WAV file: missing WAVE format", apperr.ErrDecode)
	case string(header.Subchunk1ID[:]) != "fmt ":
		return WAVInfo{}, fmt.Errorf("%w: invalid WAV file: missing fmt chunk", apperr.ErrDecode)
	case string(header.Subchunk2ID[:]) != "data":
		return WAVInfo{}, fmt.Errorf("%w: invalid WAV file: missing data chunk", apperr.ErrDecode)
	case header.AudioFormat != 1:
		return WAVInfo{}, fmt.Errorf("%w: unsupported audio format: %d (only PCM is supported)", apperr.ErrDecode, header.AudioFormat)
	}

	return WAVInfo{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
		DataSize:      int(header.Subchunk2Size),
	}, nil
}
