package capture

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/lexiqai/voice-studio/internal/audio"
)

// Default pacing for uploaded files.
const (
	DefaultChunkSize  = 4096
	DefaultChunkDelay = 50 * time.Millisecond
)

// FileOptions controls how a decoded file is chunked and paced.
type FileOptions struct {
	TargetRate int
	ChunkSize  int
	Delay      time.Duration
	Resampler  audio.Resampler
}

func (o FileOptions) withDefaults() FileOptions {
	if o.TargetRate <= 0 {
		o.TargetRate = audio.TargetSampleRate
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Resampler == nil {
		o.Resampler = audio.LinearResampler{}
	}
	return o
}

// FileSource replays a decoded file as paced chunks at the target rate.
type FileSource struct {
	samples   []float32
	rate      int
	chunkSize int
	delay     time.Duration
	consumed  atomic.Bool
}

// NewFileSource decodes data and resamples it to opts.TargetRate. Decode
// failures are apperr.ErrDecode.
func NewFileSource(data []byte, opts FileOptions) (*FileSource, error) {
	buf, err := audio.DecodeFile(data)
	if err != nil {
		return nil, err
	}
	return NewFileSourceFromBuffer(buf, opts)
}

// NewFileSourceFromBuffer builds a source from already decoded samples.
func NewFileSourceFromBuffer(buf *audio.Buffer, opts FileOptions) (*FileSource, error) {
	opts = opts.withDefaults()

	samples, err := opts.Resampler.Resample(buf.Samples, buf.SampleRate, opts.TargetRate)
	if err != nil {
		return nil, err
	}

	return &FileSource{
		samples:   samples,
		rate:      opts.TargetRate,
		chunkSize: opts.ChunkSize,
		delay:     opts.Delay,
	}, nil
}

// Len returns the number of samples at the target rate.
func (f *FileSource) Len() int { return len(f.samples) }

// SampleRate returns the rate of the produced chunks.
func (f *FileSource) SampleRate() int { return f.rate }

// Duration returns the playback length of the file.
func (f *FileSource) Duration() time.Duration {
	return audio.Chunk{Samples: f.samples, SampleRate: f.rate}.Duration()
}

// NumChunks returns how many chunks Chunks will yield.
func (f *FileSource) NumChunks() int {
	return (len(f.samples) + f.chunkSize - 1) / f.chunkSize
}

// Chunks returns a single-pass sequence of chunks of at most ChunkSize
// samples, waiting Delay between consecutive chunks. Cancelling ctx ends
// the sequence; a second call yields nothing.
func (f *FileSource) Chunks(ctx context.Context) iter.Seq[audio.Chunk] {
	return func(yield func(audio.Chunk) bool) {
		if !f.consumed.CompareAndSwap(false, true) {
			return
		}

		for off := 0; off < len(f.samples); off += f.chunkSize {
			if off > 0 && !sleepCtx(ctx, f.delay) {
				return
			}
			if ctx.Err() != nil {
				return
			}

			end := min(off+f.chunkSize, len(f.samples))
			if !yield(audio.Chunk{Samples: f.samples[off:end], SampleRate: f.rate}) {
				return
			}
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
