package audio

import (
	"errors"
	"math"
	"testing"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

func sine(n, rate int, freq float64, amp float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return samples
}

func TestLinearResampler_Length(t *testing.T) {
	tests := []struct {
		n, src, dst int
	}{
		{4096, 48000, 16000},
		{4096, 44100, 16000},
		{1000, 8000, 16000},
		{44100, 44100, 16000},
		{1, 48000, 16000},
		{3, 22050, 16000},
	}

	r := LinearResampler{}
	for _, tt := range tests {
		out, err := r.Resample(make([]float32, tt.n), tt.src, tt.dst)
		if err != nil {
			t.Fatalf("Resample(%d, %d->%d) failed: %v", tt.n, tt.src, tt.dst, err)
		}
		want := int(math.Round(float64(tt.n) * float64(tt.dst) / float64(tt.src)))
		if len(out) != want {
			t.Errorf("Resample(%d, %d->%d): expected %d samples, got %d", tt.n, tt.src, tt.dst, want, len(out))
		}
	}
}

func TestLinearResampler_SameRateCopies(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out, err := LinearResampler{}.Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out))
	}
	out[0] = 9
	if in[0] != 0.1 {
		t.Error("Expected equal-rate resample to return a copy")
	}
}

func TestLinearResampler_Interpolates(t *testing.T) {
	out, err := LinearResampler{}.Resample([]float32{0, 1}, 1, 2)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	want := []float32{0, 0.5, 1, 1}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d]: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestResample_InvalidInput(t *testing.T) {
	for _, r := range []Resampler{LinearResampler{}, HighQualityResampler{}} {
		if _, err := r.Resample(nil, 48000, 16000); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("%T: expected ErrInvalidInput for empty input, got %v", r, err)
		}
		if _, err := r.Resample([]float32{0}, 0, 16000); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("%T: expected ErrInvalidInput for zero rate, got %v", r, err)
		}
	}
}

func TestHighQualityResampler_Length(t *testing.T) {
	in := sine(4096, 48000, 440, 0.5)
	out, err := HighQualityResampler{}.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if want := OutputLength(len(in), 48000, 16000); len(out) != want {
		t.Errorf("Expected %d samples, got %d", want, len(out))
	}
}

// meanAbsError compares got with the ideal sine at rate, ignoring margin
// samples at both ends where the filter starts and stops.
func meanAbsError(got []float32, rate int, freq float64, amp float32, margin int) float64 {
	want := sine(len(got), rate, freq, amp)
	var sum float64
	n := 0
	for i := margin; i < len(got)-margin; i++ {
		sum += math.Abs(float64(got[i] - want[i]))
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

func TestHighQualityResampler_PreservesTiming(t *testing.T) {
	in := make([]float32, 44100)
	in[22050] = 1 // click at 0.5 s

	out, err := HighQualityResampler{}.Resample(in, 44100, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	peak := 0
	for i, v := range out {
		if math.Abs(float64(v)) > math.Abs(float64(out[peak])) {
			peak = i
		}
	}
	if peak < 7998 || peak > 8002 {
		t.Errorf("Expected the click near sample 8000, got %d", peak)
	}
}

func TestHighQualityResampler_SineAccuracy(t *testing.T) {
	tests := []struct {
		src, dst int
	}{
		{44100, 16000},
		{48000, 16000},
		{16000, 24000},
	}

	for _, tt := range tests {
		in := sine(tt.src, tt.src, 440, 0.5)
		out, err := HighQualityResampler{}.Resample(in, tt.src, tt.dst)
		if err != nil {
			t.Fatalf("Resample %d->%d failed: %v", tt.src, tt.dst, err)
		}
		if e := meanAbsError(out, tt.dst, 440, 0.5, 1000); e > 0.01 {
			t.Errorf("Resample %d->%d: mean abs error %.4f", tt.src, tt.dst, e)
		}
	}
}

func TestResampleStream_ContinuousAcrossBlocks(t *testing.T) {
	in := sine(48000, 48000, 440, 0.5)
	stream, err := HighQualityResampler{}.NewStream(48000, 16000)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	var out []float32
	for off := 0; off < len(in); off += 4096 {
		end := min(off+4096, len(in))
		block, err := stream.Resample(in[off:end])
		if err != nil {
			t.Fatalf("Resample block at %d failed: %v", off, err)
		}
		out = append(out, block...)
	}
	tail, err := stream.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	out = append(out, tail...)

	if len(out) < 16000 {
		t.Fatalf("Expected at least 16000 samples, got %d", len(out))
	}
	if e := meanAbsError(out[:16000], 16000, 440, 0.5, 1000); e > 0.01 {
		t.Errorf("Mean abs error across blocks %.4f", e)
	}
}

func TestResampleStream_InvalidRates(t *testing.T) {
	if _, err := (HighQualityResampler{}).NewStream(0, 16000); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}
}

func TestNewResampler(t *testing.T) {
	if _, ok := NewResampler("high").(HighQualityResampler); !ok {
		t.Error("Expected HighQualityResampler for \"high\"")
	}
	if _, ok := NewResampler("linear").(LinearResampler); !ok {
		t.Error("Expected LinearResampler for \"linear\"")
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	in := sine(2048, 16000, 300, 0.9)
	in = append(in, 1, -1, 0)

	pcm, err := EncodePCM16(in)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}
	if len(pcm) != len(in)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(in)*2, len(pcm))
	}

	out, err := DecodePCM16(pcm)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	for i := range in {
		if diff := math.Abs(float64(in[i] - out[i])); diff > 1.0/32767 {
			t.Fatalf("Sample %d: |%v - %v| = %v exceeds one quantisation step", i, in[i], out[i], diff)
		}
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	pcm, err := EncodePCM16([]float32{2, -3})
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}
	out, _ := DecodePCM16(pcm)
	if out[0] != 1 || out[1] != -1 {
		t.Errorf("Expected clamped [1 -1], got %v", out)
	}
	// little-endian 32767 / -32767
	if pcm[0] != 0xFF || pcm[1] != 0x7F || pcm[2] != 0x01 || pcm[3] != 0x80 {
		t.Errorf("Unexpected byte layout % x", pcm)
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}

func TestFloat32LE_RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.75, 1}
	out, err := DecodeFloat32LE(EncodeFloat32LE(in))
	if err != nil {
		t.Fatalf("DecodeFloat32LE failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, in[i], out[i])
		}
	}

	if _, err := DecodeFloat32LE([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for truncated frame")
	}
}

func TestDownmixInterleaved(t *testing.T) {
	mono := DownmixInterleaved([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	want := []float32{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("Expected %d frames, got %d", len(want), len(mono))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("Frame %d: expected %v, got %v", i, want[i], mono[i])
		}
	}
}
