package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

// Resampler converts mono samples between sample rates.
type Resampler interface {
	Resample(samples []float32, srcRate, dstRate int) ([]float32, error)
}

// NewResampler returns the resampler for a RESAMPLE_QUALITY value.
func NewResampler(quality string) Resampler {
	if strings.EqualFold(quality, "high") {
		return HighQualityResampler{}
	}
	return LinearResampler{}
}

// OutputLength is the number of samples produced when resampling n samples
// from srcRate to dstRate.
func OutputLength(n, srcRate, dstRate int) int {
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

func checkResampleInput(samples []float32, srcRate, dstRate int) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: empty sample buffer", apperr.ErrInvalidInput)
	}
	if srcRate <= 0 || dstRate <= 0 {
		return fmt.Errorf("%w: sample rates must be positive (src=%d, dst=%d)", apperr.ErrInvalidInput, srcRate, dstRate)
	}
	return nil
}

// LinearResampler interpolates linearly between neighbouring samples.
type LinearResampler struct{}

// Resample returns round(n*dst/src) samples. Equal rates return a copy.
func (LinearResampler) Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if err := checkResampleInput(samples, srcRate, dstRate); err != nil {
		return nil, err
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	outputLength := OutputLength(len(samples), srcRate, dstRate)
	output := make([]float32, outputLength)
	step := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range output {
		srcPos := float64(i) * step

		idx0 := int(srcPos)
		if idx0 > last {
			idx0 = last
		}
		idx1 := idx0 + 1
		if idx1 > last {
			idx1 = last
		}

		fraction := float32(srcPos - float64(idx0))
		output[i] = samples[idx0]*(1-fraction) + samples[idx1]*fraction
	}

	return output, nil
}

// HighQualityResampler uses a linear-phase polyphase filter. The filter's
// delay is removed so output sample i lines up with input time i/dstRate,
// and the length matches LinearResampler.
type HighQualityResampler struct{}

func (HighQualityResampler) Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if err := checkResampleInput(samples, srcRate, dstRate); err != nil {
		return nil, err
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	stream, err := newResampleStream(srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	head, err := stream.Resample(samples)
	if err != nil {
		return nil, err
	}
	tail, err := stream.Flush()
	if err != nil {
		return nil, err
	}

	output := make([]float32, OutputLength(len(samples), srcRate, dstRate))
	n := copy(output, head)
	copy(output[n:], tail)
	return output, nil
}

// NewStream returns a resampler that keeps its filter state across the
// consecutive blocks of one stream.
func (HighQualityResampler) NewStream(srcRate, dstRate int) (*ResampleStream, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("%w: sample rates must be positive (src=%d, dst=%d)", apperr.ErrInvalidInput, srcRate, dstRate)
	}
	return newResampleStream(srcRate, dstRate)
}

// StreamingResampler is implemented by resamplers whose filter should run
// continuously over a stream instead of restarting on every block.
type StreamingResampler interface {
	Resampler
	NewStream(srcRate, dstRate int) (*ResampleStream, error)
}

// ResampleStream resamples one stream block by block with delay-compensated
// output. It is not safe for concurrent use.
type ResampleStream struct {
	SrcRate, DstRate int

	r    resampling.Resampler
	skip int // leading output samples still to drop
	lead int // silence still to emit before the first output
}

func newResampleStream(srcRate, dstRate int) (*ResampleStream, error) {
	delay, err := filterDelay(srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	r, err := newPolyphase(srcRate, dstRate)
	if err != nil {
		return nil, err
	}

	s := &ResampleStream{SrcRate: srcRate, DstRate: dstRate, r: r}
	if delay > 0 {
		s.skip = delay
	} else {
		s.lead = -delay
	}
	return s, nil
}

// Resample filters the next block. The output may be shorter or longer than
// the block's nominal length; across the stream it stays aligned.
func (s *ResampleStream) Resample(samples []float32) ([]float32, error) {
	in := make([]float64, len(samples))
	for i, v := range samples {
		in[i] = float64(v)
	}
	out, err := s.r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return s.align(out), nil
}

// Flush drains the filter once no more input follows.
func (s *ResampleStream) Flush() ([]float32, error) {
	out, err := s.r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	return s.align(out), nil
}

func (s *ResampleStream) align(out []float64) []float32 {
	if s.skip > 0 {
		n := min(s.skip, len(out))
		out = out[n:]
		s.skip -= n
	}

	res := make([]float32, s.lead+len(out))
	s.lead = 0
	off := len(res) - len(out)
	for i, v := range out {
		res[off+i] = float32(v)
	}
	return res
}

func newPolyphase(srcRate, dstRate int) (resampling.Resampler, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return r, nil
}

// filterDelays caches the measured output delay per rate pair.
var filterDelays sync.Map

// filterDelay measures how many output samples the filter lags behind the
// input by pushing an impulse through it. The impulse sits on an input index
// that maps to a whole output index, where a linear-phase filter peaks.
func filterDelay(srcRate, dstRate int) (int, error) {
	key := [2]int{srcRate, dstRate}
	if d, ok := filterDelays.Load(key); ok {
		return d.(int), nil
	}

	g := gcd(srcRate, dstRate)
	inStep, outStep := srcRate/g, dstRate/g
	k := (8192 + inStep - 1) / inStep
	pos := k * inStep

	r, err := newPolyphase(srcRate, dstRate)
	if err != nil {
		return 0, err
	}
	impulse := make([]float64, 2*pos)
	impulse[pos] = 1
	out, err := r.Process(impulse)
	if err != nil {
		return 0, fmt.Errorf("resample error: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return 0, fmt.Errorf("resample flush error: %w", err)
	}
	out = append(out, tail...)
	if len(out) == 0 {
		return 0, fmt.Errorf("resampler produced no output for %d -> %d Hz", srcRate, dstRate)
	}

	peak := 0
	for i, v := range out {
		if math.Abs(v) > math.Abs(out[peak]) {
			peak = i
		}
	}
	delay := peak - k*outStep
	filterDelays.Store(key, delay)
	return delay, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// EncodePCM16 clamps samples to [-1, 1] and encodes them as signed 16-bit
// little-endian integers scaled by 32767.
func EncodePCM16(samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty sample buffer", apperr.ErrInvalidInput)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToInt16(s)))
	}
	return pcm, nil
}

func floatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int16(math.Round(float64(s) * math.MaxInt16))
}

// DecodePCM16 is the inverse of EncodePCM16.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: PCM data length must be even (16-bit samples)", apperr.ErrInvalidInput)
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / math.MaxInt16
	}
	return samples, nil
}

// DecodeFloat32LE decodes raw little-endian IEEE-754 samples, the payload
// format of browser capture frames.
func DecodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: float32 frame length %d is not a multiple of 4", apperr.ErrInvalidInput, len(b))
	}

	samples := make([]float32, len(b)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return samples, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// DownmixInterleaved averages interleaved channels into a mono signal.
func DownmixInterleaved(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
