package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/observability"
	"github.com/lexiqai/voice-studio/internal/resilience"
	"github.com/lexiqai/voice-studio/internal/stt"
)

// Session modes, used as metric labels.
const (
	ModeLive = "live"
	ModeFile = "file"
)

const (
	defaultQueueSize      = 256
	defaultConnectTimeout = 10 * time.Second
	updateBuffer          = 64
)

// ErrQueueFull is returned by Send when the unit was dropped.
var ErrQueueFull = errors.New("audio queue full")

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateError
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Update reports a state change or a transcript delta to the UI.
type Update struct {
	State      State
	Delta      string
	Transcript string
	Err        error
}

// Options tunes a Controller.
type Options struct {
	QueueSize      int
	ConnectTimeout time.Duration
	Retry          *resilience.RetryConfig
	Breaker        *resilience.CircuitBreaker
}

// Controller opens sessions against one backend.
type Controller struct {
	backend    stt.Backend
	credential string
	opts       Options
	logger     zerolog.Logger
}

// NewController creates a controller. An empty credential makes every
// operation fail with apperr.ErrConfiguration without contacting backend.
func NewController(backend stt.Backend, credential string, opts Options, logger zerolog.Logger) *Controller {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Controller{
		backend:    backend,
		credential: credential,
		opts:       opts,
		logger:     logger.With().Str("component", "transcription").Logger(),
	}
}

// CheckCredential reports a missing credential as a configuration error.
func (c *Controller) CheckCredential() error {
	if strings.TrimSpace(c.credential) == "" {
		return fmt.Errorf("%w: no API key configured for %s", apperr.ErrConfiguration, c.backend.Name())
	}
	return nil
}

// Start returns a session in StateOpening and connects in the background.
// The session is closed when ctx is done.
func (c *Controller) Start(ctx context.Context, mode string) (*Session, error) {
	if err := c.CheckCredential(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       id,
		mode:     mode,
		ctrl:     c,
		logger:   c.logger.With().Str("session_id", id).Str("mode", mode).Logger(),
		metrics:  observability.NewSessionMetrics(id, mode),
		queue:    make(chan outbound, c.opts.QueueSize),
		updates:  make(chan Update, updateBuffer),
		settled:  make(chan struct{}),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
		state:    StateOpening,
	}
	s.metrics.RecordSessionStart()
	s.emit(Update{State: StateOpening})
	s.logger.Info().Str("backend", c.backend.Name()).Msg("Transcription session opening")

	go s.run(sctx)
	return s, nil
}

// outbound is one queued item: an audio unit or the end-of-stream marker.
type outbound struct {
	unit audio.EncodedUnit
	end  bool
}

// Session is one streaming connection and its running transcript.
type Session struct {
	id      string
	mode    string
	ctrl    *Controller
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	acc     Accumulator
	queue   chan outbound
	updates chan Update

	settled   chan struct{} // closed once the connect attempt finished
	closeReq  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc

	mu        sync.Mutex
	state     State
	err       error
	endQueued bool
	endSent   bool
}

func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateError, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the running transcript.
func (s *Session) Transcript() string {
	return s.acc.String()
}

// Updates delivers state changes and transcript deltas. It is closed once
// the session is closed. Updates are dropped if the reader falls behind;
// each carries the full transcript.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WaitOpen blocks until the session is open or has failed to open.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.Err(); err != nil {
		return err
	}
	if st := s.State(); st != StateOpen {
		return fmt.Errorf("%w: session %s before opening", apperr.ErrSession, st)
	}
	return nil
}

// Send queues unit for delivery in capture order and returns without
// waiting for it to be sent. Units that do not declare the target rate are
// rejected. When the queue is full the unit is dropped and ErrQueueFull
// returned.
func (s *Session) Send(unit audio.EncodedUnit) error {
	if unit.SampleRate != audio.TargetSampleRate {
		return fmt.Errorf("%w: unit declares %d Hz, want %d Hz", apperr.ErrInvalidInput, unit.SampleRate, audio.TargetSampleRate)
	}
	if len(unit.PCM) == 0 {
		return fmt.Errorf("%w: empty audio unit", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	st, ended := s.state, s.endQueued
	s.mu.Unlock()
	if st != StateOpening && st != StateOpen {
		return fmt.Errorf("%w: session is %s", apperr.ErrSession, st)
	}
	if ended {
		return fmt.Errorf("%w: audio stream already ended", apperr.ErrInvalidInput)
	}

	select {
	case s.queue <- outbound{unit: unit}:
		return nil
	default:
		s.metrics.RecordUnitDropped()
		s.logger.Warn().Int("bytes", len(unit.PCM)).Msg("Audio queue full, dropping unit")
		return ErrQueueFull
	}
}

// EndStream queues the end-of-stream marker behind every unit already
// queued. Backends that support it flush trailing results and then end the
// stream; for the others it is a no-op.
func (s *Session) EndStream(ctx context.Context) error {
	s.mu.Lock()
	if s.endQueued {
		s.mu.Unlock()
		return nil
	}
	s.endQueued = true
	s.mu.Unlock()

	select {
	case s.queue <- outbound{end: true}:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the session and waits until it is closed. It never fails and
// may be called any number of times. A close requested while the session is
// still opening is carried out as soon as the connect attempt finishes.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeReq)
	})
	<-s.done
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer s.cancel()

	stream, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			s.logger.Info().Msg("Transcription session cancelled while opening")
		} else {
			s.fail(err)
		}
		close(s.settled)
		s.finish()
		return
	}

	s.setState(StateOpen)
	s.metrics.RecordOpen()
	s.logger.Info().Msg("Transcription session open")
	close(s.settled)

	sendDone := make(chan struct{})
	stopSend := make(chan struct{})
	go s.sendLoop(ctx, stream, stopSend, sendDone)

	recvDone := make(chan error, 1)
	go func() {
		recvDone <- s.receiveLoop(ctx, stream)
	}()

	receiving := true
	select {
	case <-s.closeReq:
	case <-ctx.Done():
	case err := <-recvDone:
		receiving = false
		if err != nil {
			s.fail(err)
		}
	}

	s.setState(StateClosing)
	close(stopSend)
	<-sendDone
	if err := stream.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing backend stream")
	}
	if receiving {
		<-recvDone
	}
	s.finish()
}

// connect opens the backend stream through the circuit breaker, retrying
// transient network failures only.
func (s *Session) connect(ctx context.Context) (stt.Stream, error) {
	opts := s.ctrl.opts
	cctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var stream stt.Stream
	dial := func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			st, err := s.ctrl.backend.Connect(ctx)
			if err != nil {
				s.logger.Debug().Err(err).Msg("Backend connect attempt failed")
				return err
			}
			stream = st
			return nil
		}, opts.Retry, resilience.IsRetryableNetworkError)
	}

	var err error
	if opts.Breaker != nil {
		err = opts.Breaker.CallContext(cctx, dial)
	} else {
		err = dial(cctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %w", apperr.ErrSession, s.ctrl.backend.Name(), err)
	}
	return stream, nil
}

func (s *Session) sendLoop(ctx context.Context, stream stt.Stream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case item := <-s.queue:
			if item.end {
				s.endStream(ctx, stream)
				continue
			}
			if err := stream.Send(ctx, item.unit); err != nil {
				s.metrics.RecordUnitFailed()
				s.logger.Debug().Err(err).Msg("Failed to send audio unit")
				continue
			}
			s.metrics.RecordUnitSent(len(item.unit.PCM))
		}
	}
}

func (s *Session) endStream(ctx context.Context, stream stt.Stream) {
	ender, ok := stream.(stt.StreamEnder)
	if !ok {
		return
	}
	// Marked before the call: the backend may end the stream before
	// EndStream returns.
	s.mu.Lock()
	s.endSent = true
	s.mu.Unlock()

	if err := ender.EndStream(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to end audio stream")
		s.mu.Lock()
		s.endSent = false
		s.mu.Unlock()
	}
}

// receiveLoop applies events in arrival order. It returns nil when the
// stream ends after an explicit end-of-stream or a requested close.
func (s *Session) receiveLoop(ctx context.Context, stream stt.Stream) error {
	for {
		ev, err := stream.Receive(ctx)
		if err != nil {
			if s.closing(ctx) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.mu.Lock()
				expected := s.endSent
				s.mu.Unlock()
				if expected {
					return nil
				}
				return fmt.Errorf("%w: stream closed by %s", apperr.ErrSession, s.ctrl.backend.Name())
			}
			return fmt.Errorf("%w: %w", apperr.ErrSession, err)
		}

		delta := s.acc.Apply(ev)
		s.metrics.RecordTranscriptEvent(ev.Kind.String())
		s.emit(Update{State: StateOpen, Delta: delta, Transcript: s.acc.String()})
	}
}

func (s *Session) closing(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.closeReq:
		return true
	default:
		return false
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.state = StateError
	s.mu.Unlock()

	kind := apperr.Kind(err)
	s.metrics.RecordError(kind, "transcription")
	s.logger.Error().Err(err).Str("error_kind", kind).Msg("Transcription session failed")
	s.emit(Update{State: StateError, Transcript: s.acc.String(), Err: err})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emit(Update{State: st, Transcript: s.acc.String()})
}

func (s *Session) finish() {
	s.mu.Lock()
	s.state = StateClosed
	err := s.err
	s.mu.Unlock()

	s.emit(Update{State: StateClosed, Transcript: s.acc.String(), Err: err})
	s.metrics.RecordSessionEnd()
	s.logger.Info().Int("transcript_len", len(s.acc.String())).Msg("Transcription session closed")

	close(s.updates)
	close(s.done)
}

// emit never blocks; a slow reader misses intermediate updates only.
func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Debug().Str("state", u.State.String()).Msg("Dropping session update")
	}
}
