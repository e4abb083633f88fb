package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/config"
	"github.com/lexiqai/voice-studio/internal/observability"
)

const transcribeInstruction = "You are a transcription engine. Transcribe the user's speech verbatim " +
	"in the language it is spoken. Output only the transcribed words, with no commentary, " +
	"translation or answers."

// GeminiBackend streams audio to the Gemini Live API and reads the model's
// text turns as the transcript.
type GeminiBackend struct {
	apiKey string
	model  string
	logger zerolog.Logger
}

// NewGeminiBackend creates a Gemini Live backend from cfg.
func NewGeminiBackend(cfg *config.Config) *GeminiBackend {
	return &GeminiBackend{
		apiKey: cfg.GeminiAPIKey,
		model:  cfg.GeminiLiveModel,
		logger: observability.Component("stt.gemini"),
	}
}

func (b *GeminiBackend) Name() string { return config.ProviderGemini }

// Connect dials a Live session configured for text responses.
func (b *GeminiBackend) Connect(ctx context.Context) (Stream, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  b.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	session, err := client.Live.Connect(ctx, b.model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: transcribeInstruction}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live (model: %s): %w", b.model, err)
	}

	b.logger.Debug().Str("model", b.model).Msg("Gemini Live session opened")
	return &geminiStream{session: session, logger: b.logger}, nil
}

type geminiStream struct {
	session *genai.Session
	logger  zerolog.Logger

	sendMu sync.Mutex

	// pending holds events decoded from a message but not yet returned.
	// Only the receiving goroutine touches it.
	pending []Event

	mu     sync.Mutex
	closed bool
}

func (s *geminiStream) Send(ctx context.Context, unit audio.EncodedUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isClosed() {
		return io.ErrClosedPipe
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: unit.PCM, MIMEType: unit.MIMEType()},
	})
}

// EndStream tells the service the audio stream has ended so it flushes
// any buffered recognition.
func (s *geminiStream) EndStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isClosed() {
		return io.ErrClosedPipe
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
}

func (s *geminiStream) Receive(ctx context.Context) (Event, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		msg, err := s.session.Receive()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if msg.GoAway != nil {
			s.logger.Warn().Msg("Gemini Live server requested disconnect")
		}
		s.pending = appendServerContent(s.pending, msg.ServerContent)
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// appendServerContent converts one server content message into events.
// Text parts precede the turn boundary carried by the same message.
func appendServerContent(events []Event, sc *genai.LiveServerContent) []Event {
	if sc == nil {
		return events
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part != nil && part.Text != "" {
				events = append(events, PartialText(part.Text))
			}
		}
	}
	if sc.TurnComplete {
		events = append(events, TurnComplete())
	}
	return events
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to close Gemini Live session: %w", err)
	}
	return nil
}

func (s *geminiStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
