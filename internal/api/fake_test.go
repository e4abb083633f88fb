package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/capture"
	"github.com/lexiqai/voice-studio/internal/document"
	"github.com/lexiqai/voice-studio/internal/resilience"
	"github.com/lexiqai/voice-studio/internal/stt"
	"github.com/lexiqai/voice-studio/internal/transcription"
	"github.com/lexiqai/voice-studio/internal/tts"
)

// fakeBackend answers EndStream with flush, then ends the stream.
type fakeBackend struct {
	mu       sync.Mutex
	connects int
	flush    []stt.Event
	streams  []*fakeStream
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context) (stt.Stream, error) {
	st := &fakeStream{
		events: make(chan stt.Event),
		closed: make(chan struct{}),
		flush:  b.flush,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	b.streams = append(b.streams, st)
	return st, nil
}

func (b *fakeBackend) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBackend) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.streams) > i
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

type fakeStream struct {
	events chan stt.Event
	flush  []stt.Event

	mu    sync.Mutex
	units int

	closed    chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

func (s *fakeStream) Send(ctx context.Context, unit audio.EncodedUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units++
	return nil
}

func (s *fakeStream) EndStream(ctx context.Context) error {
	s.endOnce.Do(func() {
		go func() {
			for _, ev := range s.flush {
				select {
				case s.events <- ev:
				case <-s.closed:
					return
				}
			}
			s.Close()
		}()
	})
	return nil
}

func (s *fakeStream) Receive(ctx context.Context) (stt.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.closed:
		return stt.Event{}, io.EOF
	case <-ctx.Done():
		return stt.Event{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) unitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeSynth struct {
	pcm []byte
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, nil
}

func newTestServer(t *testing.T, b *fakeBackend, credential string) *httptest.Server {
	t.Helper()

	ctrl := transcription.NewController(b, credential, transcription.Options{
		QueueSize:      64,
		ConnectTimeout: time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       1,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		},
	}, zerolog.Nop())
	speech := tts.NewOrchestrator(&fakeSynth{pcm: make([]byte, 4800)}, credential, tts.NewPlaybackStore("", time.Minute), nil, zerolog.Nop())
	docs := document.NewExtractor(document.Options{MaxBytes: 1 << 20})

	srv := NewServer(ctrl, speech, docs, Options{
		MaxUploadBytes: 1 << 20,
		DeviceBuffer:   16,
		Recording:      transcription.RecordingOptions{BlockSize: 1024},
		Upload: transcription.UploadOptions{
			File:        capture.FileOptions{ChunkSize: 4096},
			SettleDelay: time.Second,
		},
	})

	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testWAV(t *testing.T, samples int) []byte {
	t.Helper()
	pcm, err := audio.EncodePCM16(make([]float32, samples))
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}
	wav, err := audio.WrapPCM(pcm, 16000, 1, 16)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}
	return wav
}

var helloWorld = []stt.Event{stt.PartialText("hello"), stt.TurnComplete(), stt.PartialText("world")}
