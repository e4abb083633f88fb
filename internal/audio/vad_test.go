package audio

import (
	"testing"
)

func constantBlock(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestActivityDetector_Speech(t *testing.T) {
	vad := NewActivityDetector(&ActivityConfig{EnergyThreshold: 0.02, SilenceBlocks: 3})
	loud := constantBlock(4096, 0.3)

	for i := 0; i < 5; i++ {
		a := vad.Process(loud)
		if !a.Speaking {
			t.Errorf("Expected speech detection on block %d", i)
		}
		if i == 0 && !a.SpeechStarted {
			t.Error("Expected speech to start on first block")
		}
		if i > 0 && a.SpeechStarted {
			t.Errorf("Expected SpeechStarted only once, got it on block %d", i)
		}
	}
}

func TestActivityDetector_Silence(t *testing.T) {
	vad := NewActivityDetector(nil)
	quiet := constantBlock(4096, 0.001)

	for i := 0; i < 10; i++ {
		if a := vad.Process(quiet); a.Speaking {
			t.Errorf("Expected silence on block %d", i)
		}
	}
}

func TestActivityDetector_SpeechToSilence(t *testing.T) {
	vad := NewActivityDetector(&ActivityConfig{EnergyThreshold: 0.02, SilenceBlocks: 3})
	loud := constantBlock(1024, 0.5)
	quiet := constantBlock(1024, 0)

	vad.Process(loud)

	// Fewer than SilenceBlocks quiet blocks keep the speaking state
	for i := 0; i < 2; i++ {
		if a := vad.Process(quiet); !a.Speaking || a.SpeechEnded {
			t.Fatalf("Expected speech to continue on quiet block %d", i)
		}
	}

	a := vad.Process(quiet)
	if !a.SpeechEnded {
		t.Error("Expected speech to end after 3 quiet blocks")
	}
	if a.Speaking || vad.IsSpeaking() {
		t.Error("Expected detector to report silence after speech ended")
	}
}

func TestActivityDetector_Reset(t *testing.T) {
	vad := NewActivityDetector(nil)
	vad.Process(constantBlock(512, 0.5))

	vad.Reset()

	if vad.IsSpeaking() {
		t.Error("Expected not speaking after Reset")
	}
}

func TestDefaultActivityConfig(t *testing.T) {
	cfg := DefaultActivityConfig()
	if cfg.EnergyThreshold != 0.02 {
		t.Errorf("Expected threshold 0.02, got %f", cfg.EnergyThreshold)
	}
	if cfg.SilenceBlocks != 3 {
		t.Errorf("Expected 3 silence blocks, got %d", cfg.SilenceBlocks)
	}
}

func TestCalculateRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateRMS(tt.samples); got < tt.expected-1e-9 || got > tt.expected+1e-9 {
				t.Errorf("Expected RMS %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestDetectSilence(t *testing.T) {
	if !DetectSilence(constantBlock(100, 0.001), 0.02) {
		t.Error("Expected quiet block to be silence")
	}
	if DetectSilence(constantBlock(100, 0.2), 0.02) {
		t.Error("Expected loud block not to be silence")
	}
}
