package transcription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/capture"
)

// DefaultSettleDelay is how long an upload waits after its last chunk for
// trailing transcript events. It is a heuristic, not a completion signal.
const DefaultSettleDelay = 2 * time.Second

// ErrStopped is returned by Upload.Wait when the upload was stopped before
// it completed.
var ErrStopped = errors.New("operation stopped")

// Operation is a running record or upload. Starting a new operation stops
// the prior one and waits for it to be fully torn down.
type Operation interface {
	// Stop ends the operation and releases its session and device. It is
	// idempotent and safe to call from any goroutine.
	Stop() error
	// Done is closed once everything the operation held is released.
	Done() <-chan struct{}
}

// stopPrior tears down prior completely before a new session opens.
func stopPrior(prior Operation) {
	if prior == nil {
		return
	}
	_ = prior.Stop()
	<-prior.Done()
}

// RecordingOptions configures a live recording.
type RecordingOptions struct {
	BlockSize int
	Resampler audio.Resampler

	// Activity enables voice activity reporting through OnActivity.
	Activity   *audio.ActivityConfig
	OnActivity func(audio.Activity)
}

// Recording streams a live capture device into one session.
type Recording struct {
	session *Session
	source  *capture.LiveSource
	logger  zerolog.Logger

	once sync.Once
	done chan struct{}
}

// StartRecording stops prior, then opens a session and starts capturing
// from device. A device already known to be refused and a missing
// credential both fail before anything is opened. A refusal that arrives
// later fails with apperr.ErrPermission and closes the session.
func (c *Controller) StartRecording(ctx context.Context, prior Operation, device capture.Device, opts RecordingOptions) (*Recording, error) {
	stopPrior(prior)

	if p, ok := device.(capture.PermissionReporter); ok {
		if err := p.Permission(); err != nil {
			c.logger.Warn().Err(err).Msg("Capture refused, no session opened")
			return nil, err
		}
	}

	session, err := c.Start(ctx, ModeLive)
	if err != nil {
		return nil, err
	}

	r := &Recording{
		session: session,
		logger:  session.logger,
		done:    make(chan struct{}),
	}
	r.source = capture.NewLiveSource(device, opts.BlockSize, session.logger)

	encoder := audio.NewEncoder(opts.Resampler)
	var detector *audio.ActivityDetector
	if opts.Activity != nil && opts.OnActivity != nil {
		detector = audio.NewActivityDetector(opts.Activity)
	}

	onBlock := func(chunk audio.Chunk) {
		if detector != nil {
			if act := detector.Process(chunk.Samples); act.SpeechStarted || act.SpeechEnded {
				opts.OnActivity(act)
			}
		}
		unit, err := encoder.Encode(chunk)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to encode capture block")
			return
		}
		if len(unit.PCM) == 0 {
			return
		}
		// Fire and continue; drops are counted by the session.
		_ = session.Send(unit)
	}

	if err := r.source.Start(ctx, onBlock); err != nil {
		_ = session.Close()
		return nil, err
	}

	go r.watch()
	return r, nil
}

// watch ends the recording when either the session or the capture ends.
func (r *Recording) watch() {
	select {
	case <-r.session.Done():
		r.logger.Debug().Msg("Session ended, stopping capture")
	case <-r.source.Done():
		r.logger.Debug().Msg("Capture ended, closing session")
	}
	r.teardown()
}

func (r *Recording) teardown() {
	r.once.Do(func() {
		if err := r.source.Stop(); err != nil {
			r.logger.Warn().Err(err).Msg("Error releasing capture device")
		}
		_ = r.session.Close()
		close(r.done)
	})
}

// Stop stops capture, closes the session and releases the device.
func (r *Recording) Stop() error {
	if r == nil {
		return nil
	}
	r.teardown()
	<-r.done
	return nil
}

func (r *Recording) Done() <-chan struct{} {
	if r == nil {
		return closedChan
	}
	return r.done
}

// Session returns the recording's session.
func (r *Recording) Session() *Session { return r.session }

// Transcript returns the transcript so far, or the final one once Done.
func (r *Recording) Transcript() string { return r.session.Transcript() }

// Err returns the session error that ended the recording, if any.
func (r *Recording) Err() error { return r.session.Err() }

// UploadOptions configures a file upload.
type UploadOptions struct {
	File        capture.FileOptions
	SettleDelay time.Duration
}

// Upload streams a decoded file into one session at real-time pace.
type Upload struct {
	session *Session
	source  *capture.FileSource
	encoder *audio.Encoder
	settle  time.Duration
	logger  zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	transcript string
	err        error
}

// StartUpload stops prior, then decodes data and streams it. A missing
// credential or a decode failure is returned before any session opens.
func (c *Controller) StartUpload(ctx context.Context, prior Operation, data []byte, opts UploadOptions) (*Upload, error) {
	stopPrior(prior)

	if err := c.CheckCredential(); err != nil {
		return nil, err
	}

	source, err := capture.NewFileSource(data, opts.File)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	session, err := c.Start(runCtx, ModeFile)
	if err != nil {
		cancel()
		return nil, err
	}

	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}
	u := &Upload{
		session: session,
		source:  source,
		encoder: audio.NewEncoder(opts.File.Resampler),
		settle:  settle,
		logger:  session.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	u.logger.Info().
		Dur("audio_duration", source.Duration()).
		Int("chunks", source.NumChunks()).
		Msg("Upload decoded")

	go u.run(runCtx)
	return u, nil
}

func (u *Upload) run(ctx context.Context) {
	defer close(u.done)
	defer u.cancel()

	err := u.stream(ctx)
	_ = u.session.Close()

	if err == nil {
		err = u.session.Err()
	}
	if err == nil && ctx.Err() != nil {
		err = ErrStopped
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.err = err
		return
	}
	u.transcript = u.session.Transcript()
}

// stream drives the file to completion, then waits for trailing events.
func (u *Upload) stream(ctx context.Context) error {
	if err := u.session.WaitOpen(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrStopped
		}
		return err
	}

	for chunk := range u.source.Chunks(ctx) {
		unit, err := u.encoder.Encode(chunk)
		if err != nil {
			return err
		}
		if err := u.session.Send(unit); err != nil && !errors.Is(err, ErrQueueFull) {
			// The session ended underneath us; its error is reported.
			return nil
		}
	}
	if ctx.Err() != nil {
		return ErrStopped
	}

	if err := u.session.EndStream(ctx); err != nil {
		return ErrStopped
	}

	timer := time.NewTimer(u.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-u.session.Done():
	case <-ctx.Done():
		return ErrStopped
	}
	return nil
}

// Wait blocks until the upload finishes. On failure the transcript is
// empty.
func (u *Upload) Wait() (string, error) {
	<-u.done
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.transcript, u.err
}

// Stop aborts the upload and closes its session.
func (u *Upload) Stop() error {
	if u == nil {
		return nil
	}
	u.cancel()
	<-u.done
	return nil
}

func (u *Upload) Done() <-chan struct{} {
	if u == nil {
		return closedChan
	}
	return u.done
}

// Session returns the upload's session.
func (u *Upload) Session() *Session { return u.session }

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
