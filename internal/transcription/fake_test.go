package transcription

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/resilience"
	"github.com/lexiqai/voice-studio/internal/stt"
)

// fakeBackend records connects and how many streams are open at once.
type fakeBackend struct {
	mu         sync.Mutex
	connects   int
	active     int
	maxActive  int
	connectErr []error // consumed one per connect
	gate       chan struct{}
	noEnder    bool
	flush      []stt.Event // emitted after EndStream, then EOF
	streams    []*fakeStream
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context) (stt.Stream, error) {
	b.mu.Lock()
	b.connects++
	gate := b.gate
	var err error
	if len(b.connectErr) > 0 {
		err = b.connectErr[0]
		b.connectErr = b.connectErr[1:]
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	st := &fakeStream{
		backend: b,
		events:  make(chan stt.Event),
		closed:  make(chan struct{}),
		ended:   make(chan struct{}),
		flush:   b.flush,
	}

	b.mu.Lock()
	b.active++
	b.maxActive = max(b.maxActive, b.active)
	b.streams = append(b.streams, st)
	noEnder := b.noEnder
	b.mu.Unlock()

	if noEnder {
		return plainStream{st}, nil
	}
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
	backend *fakeBackend
	events  chan stt.Event
	flush   []stt.Event

	mu       sync.Mutex
	sent     []audio.EncodedUnit
	sendGate chan struct{}
	inSend   bool
	recvErr  error

	closed    chan struct{}
	closeOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once
}

func (s *fakeStream) Send(ctx context.Context, unit audio.EncodedUnit) error {
	s.mu.Lock()
	gate := s.sendGate
	s.inSend = true
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-s.closed:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSend = false
	s.sent = append(s.sent, unit)
	return nil
}

func (s *fakeStream) EndStream(ctx context.Context) error {
	s.endOnce.Do(func() {
		close(s.ended)
		go func() {
			for _, ev := range s.flush {
				select {
				case s.events <- ev:
				case <-s.closed:
					return
				}
			}
			s.finish(io.EOF)
		}()
	})
	return nil
}

func (s *fakeStream) Receive(ctx context.Context) (stt.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.recvErr != nil {
			return stt.Event{}, s.recvErr
		}
		return stt.Event{}, io.EOF
	case <-ctx.Done():
		return stt.Event{}, ctx.Err()
	}
}

// finish ends the stream from the backend side.
func (s *fakeStream) finish(err error) {
	s.mu.Lock()
	if err != io.EOF {
		s.recvErr = err
	}
	s.mu.Unlock()
	s.Close()
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.backend.mu.Lock()
		s.backend.active--
		s.backend.mu.Unlock()
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) sentUnits() []audio.EncodedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.EncodedUnit(nil), s.sent...)
}

// plainStream hides EndStream.
type plainStream struct {
	s *fakeStream
}

func (p plainStream) Send(ctx context.Context, unit audio.EncodedUnit) error {
	return p.s.Send(ctx, unit)
}

func (p plainStream) Receive(ctx context.Context) (stt.Event, error) {
	return p.s.Receive(ctx)
}

func (p plainStream) Close() error { return p.s.Close() }

func newTestController(b *fakeBackend, credential string) *Controller {
	return NewController(b, credential, Options{
		QueueSize:      16,
		ConnectTimeout: 2 * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}, zerolog.Nop())
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

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed within 2s")
	}
}

func unit16k(n int) audio.EncodedUnit {
	return audio.EncodedUnit{PCM: make([]byte, 2*n), SampleRate: audio.TargetSampleRate}
}

func sineWAV(t *testing.T, seconds float64, rate int) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	pcm, err := audio.EncodePCM16(samples)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}
	wav, err := audio.WrapPCM(pcm, rate, 1, 16)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}
	return wav
}
