package music

import (
	"errors"
	"fmt"

	"github.com/hua2014/VidMuse/internal/tensor"
)

// videoTimeAxis is the time dimension of [batch, channel, time, height,
// width] video feature tensors. The controller only ever slices this axis
// and treats the others as opaque.
const videoTimeAxis = 2

// DefaultVideoFPS is the feature rate of the bundled video encoder.
const DefaultVideoFPS = 2.0

// WavCondition is a waveform conditioning signal attached to one sample.
// An absent signal is a zero-length placeholder, never a nil slot, so the
// decoder's conditioning-shape contract stays uniform.
type WavCondition struct {
	// Samples is a [1, C, T] waveform at SampleRate.
	Samples *tensor.Tensor
	// Length is the number of valid samples along the time axis.
	Length int64
	// SampleRate of Samples.
	SampleRate int
	// Path optionally records where the waveform came from.
	Path string
}

// EmptyWavCondition builds the zero-length placeholder used when a sample
// carries no waveform conditioning.
func EmptyWavCondition(sampleRate int) WavCondition {
	zero, _ := tensor.Zeros([]int64{1, 1, 1})

	return WavCondition{
		Samples:    zero,
		Length:     0,
		SampleRate: sampleRate,
	}
}

// Attributes is the per-sample conditioning record: a free-form text
// description (possibly empty) plus a waveform slot.
type Attributes struct {
	Text string
	Wav  WavCondition
}

// VideoConditioning is the tagged pair of video-derived feature tensors the
// decoder consumes: a fine-grained time-varying group and a coarse static
// group. Only the local group is subject to time-axis windowing.
type VideoConditioning struct {
	// Local is a [B, C, T, H, W] feature sequence at FPS frames per second.
	Local *tensor.Tensor
	// Global is a static feature tensor passed through unmodified.
	Global *tensor.Tensor
	// FPS is the video feature rate of Local's time axis.
	FPS float64
}

// NewVideoConditioning validates and assembles a local/global pair.
func NewVideoConditioning(local, global *tensor.Tensor, fps float64) (*VideoConditioning, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: local video features are required", ErrShapeMismatch)
	}

	if local.Rank() != 5 {
		return nil, fmt.Errorf(
			"%w: local video features must be [B, C, T, H, W], got rank %d",
			ErrShapeMismatch, local.Rank(),
		)
	}

	if fps <= 0 {
		return nil, fmt.Errorf("%w: video fps %.3f must be positive", ErrConfiguration, fps)
	}

	return &VideoConditioning{Local: local, Global: global, FPS: fps}, nil
}

// Batch returns the batch dimension of the local group.
func (v *VideoConditioning) Batch() int64 {
	if v == nil || v.Local == nil {
		return 0
	}

	b, _ := v.Local.Dim(0)

	return b
}

// Frames returns the current length of the local group's time axis.
func (v *VideoConditioning) Frames() int64 {
	if v == nil || v.Local == nil {
		return 0
	}

	t, _ := v.Local.Dim(videoTimeAxis)

	return t
}

// SlicePrefix keeps the first frames video frames of the local group. The
// global group is shared, not copied.
func (v *VideoConditioning) SlicePrefix(frames int64) (*VideoConditioning, error) {
	if v == nil {
		return nil, errors.New("music: slice prefix on nil video conditioning")
	}

	if frames > v.Frames() {
		return nil, fmt.Errorf(
			"%w: video window holds %d frames, need %d",
			ErrShapeMismatch, v.Frames(), frames,
		)
	}

	local, err := v.Local.Narrow(videoTimeAxis, 0, frames)
	if err != nil {
		return nil, fmt.Errorf("music: slice video window: %w", err)
	}

	return &VideoConditioning{Local: local, Global: v.Global, FPS: v.FPS}, nil
}

// DropPrefix advances the local group by dropping its first frames video
// frames.
func (v *VideoConditioning) DropPrefix(frames int64) (*VideoConditioning, error) {
	if v == nil {
		return nil, errors.New("music: drop prefix on nil video conditioning")
	}

	if frames > v.Frames() {
		return nil, fmt.Errorf(
			"%w: cannot drop %d frames from a %d-frame video window",
			ErrShapeMismatch, frames, v.Frames(),
		)
	}

	local, err := v.Local.Narrow(videoTimeAxis, frames, v.Frames()-frames)
	if err != nil {
		return nil, fmt.Errorf("music: advance video window: %w", err)
	}

	return &VideoConditioning{Local: local, Global: v.Global, FPS: v.FPS}, nil
}

// Tail clamps the local group to exactly its last frames video frames.
func (v *VideoConditioning) Tail(frames int64) (*VideoConditioning, error) {
	if v == nil {
		return nil, errors.New("music: tail on nil video conditioning")
	}

	if frames > v.Frames() {
		return nil, fmt.Errorf(
			"%w: video window holds %d frames, cannot clamp to %d",
			ErrShapeMismatch, v.Frames(), frames,
		)
	}

	local, err := v.Local.NarrowTail(videoTimeAxis, frames)
	if err != nil {
		return nil, fmt.Errorf("music: clamp video window: %w", err)
	}

	return &VideoConditioning{Local: local, Global: v.Global, FPS: v.FPS}, nil
}

// Conditioning is everything one decoder call is conditioned on: per-sample
// attribute records and, optionally, the video local/global pair.
type Conditioning struct {
	Attributes []Attributes
	Video      *VideoConditioning
}
