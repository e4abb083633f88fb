package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
)

// DefaultBlockSize is the number of samples delivered per capture block.
const DefaultBlockSize = 4096

var (
	errAlreadyStarted = errors.New("live source already started")
	errStopped        = errors.New("live source stopped")
)

// BlockFunc receives each captured block. It runs on the capture goroutine
// and must not call Stop.
type BlockFunc func(audio.Chunk)

// LiveSource reads a device and delivers fixed-size blocks at the device's
// native rate until stopped.
type LiveSource struct {
	device    Device
	blockSize int
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	track    Track
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	// held while a callback runs so Stop can wait it out
	cbMu sync.Mutex

	releaseOnce sync.Once
	releaseErr  error
}

// NewLiveSource creates a source for device. A non-positive blockSize
// selects DefaultBlockSize.
func NewLiveSource(device Device, blockSize int, logger zerolog.Logger) *LiveSource {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &LiveSource{
		device:    device,
		blockSize: blockSize,
		logger:    logger.With().Str("component", "capture").Logger(),
		done:      make(chan struct{}),
	}
}

// Start acquires the device and begins delivering blocks to onBlock.
// Failure to acquire the device is an apperr.ErrPermission.
func (s *LiveSource) Start(ctx context.Context, onBlock BlockFunc) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	if s.stopped {
		s.mu.Unlock()
		s.finish()
		return errStopped
	}
	s.mu.Unlock()

	track, err := s.device.Open(ctx)
	if err != nil {
		s.finish()
		if errors.Is(err, apperr.ErrPermission) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", apperr.ErrPermission, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.track = track
	if s.stopped {
		// Stop raced with Open; release what we just acquired
		s.mu.Unlock()
		cancel()
		s.release()
		s.finish()
		return errStopped
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().
		Int("sample_rate", track.SampleRate()).
		Int("block_size", s.blockSize).
		Msg("Microphone capture started")

	go s.run(runCtx, track, onBlock)
	return nil
}

func (s *LiveSource) run(ctx context.Context, track Track, onBlock BlockFunc) {
	defer s.finish()
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Capture goroutine panicked")
		}
	}()

	ring := audio.NewSampleRing(s.blockSize*2 + 1)
	rate := track.SampleRate()

	for {
		frame, err := track.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("Capture track ended")
			}
			return
		}

		for len(frame) > 0 {
			n := ring.Write(frame)
			frame = frame[n:]

			for block := ring.ReadBlock(s.blockSize); block != nil; block = ring.ReadBlock(s.blockSize) {
				if !s.deliver(onBlock, audio.Chunk{Samples: block, SampleRate: rate}) {
					return
				}
			}
		}
	}
}

// deliver invokes onBlock unless the source has been stopped.
func (s *LiveSource) deliver(onBlock BlockFunc, c audio.Chunk) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.isStopped() {
		return false
	}
	onBlock(c)
	return true
}

func (s *LiveSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop ends capture and releases the device. It is idempotent and safe to
// call from any goroutine other than the block callback. No callback runs
// after Stop returns.
func (s *LiveSource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if !started {
		s.finish()
		return nil
	}

	if cancel != nil {
		cancel()
	}
	err := s.release()

	// Wait for an in-flight callback to return
	s.cbMu.Lock()
	s.cbMu.Unlock()

	s.logger.Info().Msg("Microphone capture stopped")
	return err
}

func (s *LiveSource) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once capture has fully ended.
func (s *LiveSource) Done() <-chan struct{} {
	return s.done
}

// release closes the track exactly once.
func (s *LiveSource) release() error {
	s.mu.Lock()
	track := s.track
	s.mu.Unlock()
	if track == nil {
		return nil
	}

	s.releaseOnce.Do(func() {
		s.releaseErr = track.Close()
	})
	return s.releaseErr
}
