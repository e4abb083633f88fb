// Package capture produces audio chunks from a live input device or from an
// uploaded file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

// Device is an audio input that can be opened once.
type Device interface {
	Open(ctx context.Context) (Track, error)
}

// Track is an open input. Close releases the underlying device.
type Track interface {
	SampleRate() int
	// Read blocks until a frame is available. It returns io.EOF once the
	// input has ended or the track is closed.
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// PermissionReporter is implemented by devices whose access decision can be
// read without opening them.
type PermissionReporter interface {
	// Permission returns the refusal once access was denied. It returns nil
	// while the decision is pending and after access was granted.
	Permission() error
}

var (
	errAlreadyAcquired = errors.New("capture device already acquired")
	errAlreadyDecided  = errors.New("capture permission already decided")
)

// StreamDevice is a microphone that lives in the browser. The socket reader
// grants or denies access and pushes the captured frames; the capture side
// opens it like any other Device.
type StreamDevice struct {
	frames chan []float32

	mu       sync.Mutex
	decided  chan struct{}
	rate     int
	denied   error
	acquired bool

	ended    chan struct{}
	endOnce  sync.Once
	released atomic.Int32
	dropped  atomic.Int64
}

// NewStreamDevice creates a device that buffers up to bufferFrames frames.
func NewStreamDevice(bufferFrames int) *StreamDevice {
	if bufferFrames <= 0 {
		bufferFrames = 64
	}
	return &StreamDevice{
		frames:  make(chan []float32, bufferFrames),
		decided: make(chan struct{}),
		ended:   make(chan struct{}),
	}
}

// Grant reports that the user allowed capture at sampleRate.
func (d *StreamDevice) Grant(sampleRate int) error {
	if sampleRate <= 0 {
		return d.Deny(fmt.Sprintf("invalid sample rate %d", sampleRate))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isDecidedLocked() {
		return errAlreadyDecided
	}
	d.rate = sampleRate
	close(d.decided)
	return nil
}

// Deny reports that capture was refused or no input device exists.
func (d *StreamDevice) Deny(reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isDecidedLocked() {
		return errAlreadyDecided
	}
	if reason == "" {
		reason = "microphone unavailable"
	}
	d.denied = fmt.Errorf("%w: %s", apperr.ErrPermission, reason)
	close(d.decided)
	return nil
}

// Permission returns the refusal recorded by Deny, or nil.
func (d *StreamDevice) Permission() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.denied
}

func (d *StreamDevice) isDecidedLocked() bool {
	select {
	case <-d.decided:
		return true
	default:
		return false
	}
}

// Push queues a captured frame. It never blocks; a full buffer or an ended
// device drops the frame and returns false.
func (d *StreamDevice) Push(frame []float32) bool {
	select {
	case <-d.ended:
		return false
	default:
	}

	select {
	case d.frames <- frame:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// End marks the input as finished. Pending frames can still be read.
func (d *StreamDevice) End() {
	d.endOnce.Do(func() { close(d.ended) })
}

// Dropped returns the number of frames discarded by Push.
func (d *StreamDevice) Dropped() int64 {
	return d.dropped.Load()
}

// Releases returns how many times the acquired track was released.
func (d *StreamDevice) Releases() int {
	return int(d.released.Load())
}

// Open waits for the permission decision and acquires the device.
func (d *StreamDevice) Open(ctx context.Context) (Track, error) {
	d.mu.Lock()
	if d.acquired {
		d.mu.Unlock()
		return nil, errAlreadyAcquired
	}
	d.acquired = true
	d.mu.Unlock()

	select {
	case <-d.decided:
	default:
		select {
		case <-d.decided:
		case <-d.ended:
			return nil, fmt.Errorf("%w: input closed before access was granted", apperr.ErrPermission)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied != nil {
		return nil, d.denied
	}
	return &streamTrack{device: d, rate: d.rate, closed: make(chan struct{})}, nil
}

type streamTrack struct {
	device    *StreamDevice
	rate      int
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *streamTrack) SampleRate() int { return t.rate }

func (t *streamTrack) Read(ctx context.Context) ([]float32, error) {
	select {
	case <-t.closed:
		return nil, io.EOF
	default:
	}

	select {
	case frame := <-t.device.frames:
		return frame, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.device.ended:
		// Drain what was pushed before the end
		select {
		case frame := <-t.device.frames:
			return frame, nil
		default:
			return nil, io.EOF
		}
	}
}

func (t *streamTrack) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.device.released.Add(1)
	})
	return nil
}
