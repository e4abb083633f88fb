package audio

import (
	"sync"
)

// SampleRing is a thread-safe ring buffer of float32 samples. Capture uses
// it to re-block frames of arbitrary size into fixed-size blocks.
type SampleRing struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleRing creates a ring able to hold capacity samples.
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	// One slot stays empty to tell full from empty
	size := capacity + 1
	return &SampleRing{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write appends samples and returns how many fit.
func (rb *SampleRing) Write(samples []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, s := range samples {
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
		written++
	}
	return written
}

// Read copies up to len(dst) samples into dst and returns the count.
func (rb *SampleRing) Read(dst []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readLocked(dst)
}

func (rb *SampleRing) readLocked(dst []float32) int {
	n := 0
	for n < len(dst) && rb.read != rb.write {
		dst[n] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		n++
	}
	return n
}

// ReadBlock removes and returns exactly n samples, or nil if fewer are buffered.
func (rb *SampleRing) ReadBlock(n int) []float32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n <= 0 || rb.availableLocked() < n {
		return nil
	}
	block := make([]float32, n)
	rb.readLocked(block)
	return block
}

// Drain removes and returns everything buffered.
func (rb *SampleRing) Drain() []float32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]float32, rb.availableLocked())
	rb.readLocked(out)
	return out
}

// Available returns the number of samples available to read
func (rb *SampleRing) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *SampleRing) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of samples that can still be written
func (rb *SampleRing) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.availableLocked() - 1
}

// Clear discards buffered samples
func (rb *SampleRing) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the ring is empty
func (rb *SampleRing) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// IsFull returns true if the ring is full
func (rb *SampleRing) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return (rb.write+1)%rb.size == rb.read
}
