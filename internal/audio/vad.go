package audio

import "math"

// ActivityConfig holds configuration for voice activity detection
type ActivityConfig struct {
	EnergyThreshold float64 // RMS threshold on samples normalised to [-1, 1]
	SilenceBlocks   int     // Consecutive quiet blocks that end speech
}

// DefaultActivityConfig returns a default configuration
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		EnergyThreshold: 0.02,
		SilenceBlocks:   3, // ~0.75s of 4096-sample blocks at 48kHz
	}
}

// Activity is the result of processing one block.
type Activity struct {
	Speaking      bool
	SpeechStarted bool
	SpeechEnded   bool
	Level         float64 // RMS of the block
}

// ActivityDetector is an energy-based voice activity detector over capture
// blocks. It drives the speaking indicator while recording; it is not
// safe for concurrent use.
type ActivityDetector struct {
	config         *ActivityConfig
	silenceCounter int
	isSpeaking     bool
}

// NewActivityDetector creates a new detector
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	return &ActivityDetector{config: config}
}

// Process classifies one block of samples.
func (v *ActivityDetector) Process(samples []float32) Activity {
	rms := CalculateRMS(samples)
	result := Activity{Level: rms}

	if rms > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			result.SpeechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceBlocks {
			result.SpeechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	result.Speaking = v.isSpeaking
	return result
}

// Reset resets the detector state
func (v *ActivityDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *ActivityDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// CalculateRMS calculates the root mean square of samples
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DetectSilence reports whether samples stay below threshold
func DetectSilence(samples []float32, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
