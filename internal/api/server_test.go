package api

import (
	"testing"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		CaptureBlockSize: 2048,
		ResampleQuality:  "high",
		MaxUploadBytes:   1 << 20,
		FileChunkDelay:   50,
		FileSettleDelay:  2000,
	}

	opts := OptionsFromConfig(cfg)
	if opts.Upload.File.TargetRate != audio.TargetSampleRate {
		t.Errorf("Expected uploads resampled to %d Hz, got %d", audio.TargetSampleRate, opts.Upload.File.TargetRate)
	}
	if _, ok := opts.Recording.Resampler.(audio.HighQualityResampler); !ok {
		t.Errorf("Expected the high quality resampler, got %T", opts.Recording.Resampler)
	}
	if opts.Recording.BlockSize != 2048 || opts.Upload.File.ChunkSize != 2048 {
		t.Errorf("Expected block size 2048, got %d and %d", opts.Recording.BlockSize, opts.Upload.File.ChunkSize)
	}
	if opts.MaxUploadBytes != 1<<20 {
		t.Errorf("Expected upload limit %d, got %d", 1<<20, opts.MaxUploadBytes)
	}
}
