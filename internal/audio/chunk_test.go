package audio

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestEncoder_AlwaysTargetRate(t *testing.T) {
	enc := NewEncoder(nil)

	for _, rate := range []int{8000, 16000, 44100, 48000} {
		unit, err := enc.Encode(Chunk{Samples: sine(4096, rate, 440, 0.5), SampleRate: rate})
		if err != nil {
			t.Fatalf("Encode at %d Hz failed: %v", rate, err)
		}
		if unit.SampleRate != TargetSampleRate {
			t.Errorf("Expected unit rate %d, got %d", TargetSampleRate, unit.SampleRate)
		}
		if want := OutputLength(4096, rate, TargetSampleRate) * 2; len(unit.PCM) != want {
			t.Errorf("At %d Hz expected %d bytes, got %d", rate, want, len(unit.PCM))
		}
	}
}

func TestEncoder_StreamsHighQualityFilter(t *testing.T) {
	enc := NewEncoder(HighQualityResampler{})
	in := sine(48000, 48000, 440, 0.5)

	var out []float32
	var first *ResampleStream
	for off := 0; off < len(in); off += 4096 {
		end := min(off+4096, len(in))
		unit, err := enc.Encode(Chunk{Samples: in[off:end], SampleRate: 48000})
		if err != nil {
			t.Fatalf("Encode at %d failed: %v", off, err)
		}
		if first == nil {
			first = enc.stream
		} else if enc.stream != first {
			t.Fatal("Expected one filter for the whole stream")
		}
		if len(unit.PCM) == 0 {
			continue
		}
		samples, err := DecodePCM16(unit.PCM)
		if err != nil {
			t.Fatalf("DecodePCM16 failed: %v", err)
		}
		out = append(out, samples...)
	}

	if len(out) < 15000 {
		t.Fatalf("Expected about 16000 samples, got %d", len(out))
	}
	if e := meanAbsError(out, TargetSampleRate, 440, 0.5, 1000); e > 0.01 {
		t.Errorf("Mean abs error across chunks %.4f", e)
	}

	// A new input rate starts a new filter.
	if _, err := enc.Encode(Chunk{Samples: sine(4096, 44100, 440, 0.5), SampleRate: 44100}); err != nil {
		t.Fatalf("Encode at 44100 Hz failed: %v", err)
	}
	if enc.stream == first || enc.stream.SrcRate != 44100 {
		t.Error("Expected a fresh filter after the rate changed")
	}
}

func TestEncoder_EmptyChunk(t *testing.T) {
	if _, err := NewEncoder(nil).Encode(Chunk{SampleRate: 48000}); err == nil {
		t.Error("Expected error for empty chunk")
	}
}

func TestEncodedUnit_Media(t *testing.T) {
	unit := EncodedUnit{PCM: []byte{1, 2, 3, 4}, SampleRate: 16000}

	if unit.MIMEType() != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", unit.MIMEType())
	}

	b, err := json.Marshal(unit.Media())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var wire struct {
		Media struct {
			Data     string `json:"data"`
			MIMEType string `json:"mimeType"`
		} `json:"media"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(wire.Media.Data)
	if err != nil || string(raw) != string(unit.PCM) {
		t.Errorf("Expected base64 payload of PCM, got %q (%v)", wire.Media.Data, err)
	}
	if wire.Media.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected wire MIME type %q", wire.Media.MIMEType)
	}
}

func TestChunk_Duration(t *testing.T) {
	c := Chunk{Samples: make([]float32, 1600), SampleRate: 16000}
	if c.Duration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", c.Duration())
	}
}
