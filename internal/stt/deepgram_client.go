package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/observability"
)

// deepgramEventBuffer bounds the events decoded by the SDK's reader and not
// yet received by the session.
const deepgramEventBuffer = 256

type closeStreamMessage struct {
	Type string `json:"type"`
}

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	stream *deepgramStream
}

// Message turns final results into text deltas.
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.stream.handleMessage(msg)
	return nil
}

// UtteranceEnd marks the end of a recognition turn.
func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.stream.handleUtteranceEnd()
	return nil
}

// Error ends the stream with the service's error.
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.stream.finish(fmt.Errorf("deepgram error: %+v", errorResponse))
	return nil
}

// Close ends the stream normally.
func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.stream.finish(nil)
	return nil
}

// DeepgramBackend streams linear16 audio to Deepgram's live transcription API.
type DeepgramBackend struct {
	apiKey   string
	model    string
	language string
	logger   zerolog.Logger
}

// NewDeepgramBackend creates a Deepgram backend from cfg.
func NewDeepgramBackend(cfg *config.Config) *DeepgramBackend {
	return &DeepgramBackend{
		apiKey:   cfg.DeepgramAPIKey,
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
		logger:   observability.Component("stt.deepgram"),
	}
}

func (b *DeepgramBackend) Name() string { return config.ProviderDeepgram }

// Connect opens a live transcription websocket.
func (b *DeepgramBackend) Connect(ctx context.Context) (Stream, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          b.model,
		Language:       b.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000", // Turn ends after 1 second without words
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     audio.TargetSampleRate,
	}

	stream := newDeepgramStream(b.logger)
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		stream:                 stream,
	}

	// The SDK ties the socket to the context it is built with, so the
	// socket gets its own context that lives until Close. ctx bounds only
	// the dial.
	sctx, scancel := context.WithCancel(context.WithoutCancel(ctx))
	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	client, err := listenClient.NewWSUsingCallbackWithCancel(sctx, scancel, b.apiKey, cOptions, tOptions, callback)
	if err != nil {
		scancel()
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	connected := make(chan bool, 1)
	go func() { connected <- client.Connect() }()
	select {
	case ok := <-connected:
		if !ok {
			scancel()
			return nil, fmt.Errorf("failed to connect to Deepgram (model: %s)", b.model)
		}
	case <-ctx.Done():
		scancel()
		go func() {
			if <-connected {
				client.Stop()
			}
		}()
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", ctx.Err())
	}
	stream.client = client
	stream.cancel = scancel

	b.logger.Debug().
		Str("model", b.model).
		Str("language", b.language).
		Msg("Deepgram streaming session opened")
	return stream, nil
}

type deepgramStream struct {
	client *listenClient.WSCallback
	cancel context.CancelFunc
	logger zerolog.Logger

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	inTurn bool
	err    error

	once      sync.Once
	closeOnce sync.Once
}

func newDeepgramStream(logger zerolog.Logger) *deepgramStream {
	return &deepgramStream{
		logger: logger,
		events: make(chan Event, deepgramEventBuffer),
		done:   make(chan struct{}),
	}
}

// handleMessage processes results from Deepgram. Interim results are
// skipped since later deltas never replace earlier text.
func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.inTurn {
		text = " " + text
	}
	s.inTurn = true
	s.mu.Unlock()

	s.push(PartialText(text))
}

func (s *deepgramStream) handleUtteranceEnd() {
	s.mu.Lock()
	inTurn := s.inTurn
	s.inTurn = false
	s.mu.Unlock()

	if inTurn {
		s.push(TurnComplete())
	}
}

// push delivers ev in order, giving up once the stream has finished.
func (s *deepgramStream) push(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
		s.logger.Debug().Str("kind", ev.Kind.String()).Msg("Dropping event after stream end")
	}
}

// finish ends the stream once; err nil means a normal end.
func (s *deepgramStream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *deepgramStream) Send(ctx context.Context, unit audio.EncodedUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}

	// WSCallback uses Write for audio (returns bytes written and error)
	if _, err := s.client.Write(unit.PCM); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// EndStream asks Deepgram to flush the final results for the audio sent so
// far and then close the socket.
func (s *deepgramStream) EndStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	if err := s.client.WriteJSON(closeStreamMessage{Type: "CloseStream"}); err != nil {
		return fmt.Errorf("failed to end Deepgram stream: %w", err)
	}
	return nil
}

func (s *deepgramStream) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		// Events queued before the end still come first.
		select {
		case ev := <-s.events:
			return ev, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *deepgramStream) Close() error {
	s.finish(nil)
	s.closeOnce.Do(func() {
		if s.client != nil {
			// Stop sends CloseStream and a close frame, then cancels the
			// socket context.
			s.client.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
