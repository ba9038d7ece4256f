// Package tokens holds discrete audio token sequences as produced by the
// autoregressive decoder and consumed by the compression codec.
package tokens

import (
	"errors"
	"fmt"
)

// Sequence is an ordered [batch, codebooks, frames] tensor of discrete
// integer tokens at the decoder token rate. Layout is row-major with the
// time axis contiguous per (batch, codebook) row, so time-axis slicing and
// concatenation are plain copies that preserve codebook alignment.
type Sequence struct {
	batch     int
	codebooks int
	frames    int
	data      []int64
}

// New creates a sequence from data laid out as [batch, codebooks, frames].
func New(data []int64, batch, codebooks, frames int) (*Sequence, error) {
	if batch <= 0 || codebooks <= 0 || frames < 0 {
		return nil, fmt.Errorf("tokens: invalid shape [%d %d %d]", batch, codebooks, frames)
	}

	if len(data) != batch*codebooks*frames {
		return nil, fmt.Errorf("tokens: data length %d does not match shape [%d %d %d]", len(data), batch, codebooks, frames)
	}

	return &Sequence{
		batch:     batch,
		codebooks: codebooks,
		frames:    frames,
		data:      append([]int64(nil), data...),
	}, nil
}

// Zeros creates a zero-filled sequence.
func Zeros(batch, codebooks, frames int) (*Sequence, error) {
	if batch <= 0 || codebooks <= 0 || frames < 0 {
		return nil, fmt.Errorf("tokens: invalid shape [%d %d %d]", batch, codebooks, frames)
	}

	return &Sequence{
		batch:     batch,
		codebooks: codebooks,
		frames:    frames,
		data:      make([]int64, batch*codebooks*frames),
	}, nil
}

func (s *Sequence) Batch() int {
	if s == nil {
		return 0
	}

	return s.batch
}

func (s *Sequence) Codebooks() int {
	if s == nil {
		return 0
	}

	return s.codebooks
}

// Frames returns the length of the time axis.
func (s *Sequence) Frames() int {
	if s == nil {
		return 0
	}

	return s.frames
}

// Data returns a copy of the underlying token data.
func (s *Sequence) Data() []int64 {
	if s == nil {
		return nil
	}

	return append([]int64(nil), s.data...)
}

// At returns the token at (batch, codebook, frame).
func (s *Sequence) At(b, k, t int) (int64, error) {
	if s == nil {
		return 0, errors.New("tokens: at on nil sequence")
	}

	if b < 0 || b >= s.batch || k < 0 || k >= s.codebooks || t < 0 || t >= s.frames {
		return 0, fmt.Errorf("tokens: index (%d,%d,%d) out of range for shape [%d %d %d]", b, k, t, s.batch, s.codebooks, s.frames)
	}

	return s.data[(b*s.codebooks+k)*s.frames+t], nil
}

// Narrow slices the time axis to [start, start+length).
func (s *Sequence) Narrow(start, length int) (*Sequence, error) {
	if s == nil {
		return nil, errors.New("tokens: narrow on nil sequence")
	}

	if start < 0 || length < 0 || start+length > s.frames {
		return nil, fmt.Errorf("tokens: narrow range [%d:%d] out of bounds for %d frames", start, start+length, s.frames)
	}

	out, err := Zeros(s.batch, s.codebooks, length)
	if err != nil {
		return nil, err
	}

	rows := s.batch * s.codebooks
	for r := range rows {
		srcBase := r*s.frames + start
		copy(out.data[r*length:(r+1)*length], s.data[srcBase:srcBase+length])
	}

	return out, nil
}

// Suffix drops the first from frames and keeps the rest. The windowed
// generation controller uses it both to strip the prompt prefix from a chunk
// and to advance the continuation seed by the stride.
func (s *Sequence) Suffix(from int) (*Sequence, error) {
	if s == nil {
		return nil, errors.New("tokens: suffix on nil sequence")
	}

	if from < 0 || from > s.frames {
		return nil, fmt.Errorf("tokens: suffix offset %d out of bounds for %d frames", from, s.frames)
	}

	return s.Narrow(from, s.frames-from)
}

// Concat joins sequences along the time axis. All inputs must agree on batch
// and codebook dimensions so codebook alignment is preserved across chunk
// boundaries.
func Concat(seqs []*Sequence) (*Sequence, error) {
	if len(seqs) == 0 {
		return nil, errors.New("tokens: concat requires at least one sequence")
	}

	first := seqs[0]
	if first == nil {
		return nil, errors.New("tokens: concat sequence 0 is nil")
	}

	totalFrames := 0

	for i, s := range seqs {
		if s == nil {
			return nil, fmt.Errorf("tokens: concat sequence %d is nil", i)
		}

		if s.batch != first.batch || s.codebooks != first.codebooks {
			return nil, fmt.Errorf(
				"tokens: concat sequence %d shape [%d %d %d] does not match base [%d %d %d]",
				i, s.batch, s.codebooks, s.frames, first.batch, first.codebooks, first.frames,
			)
		}

		totalFrames += s.frames
	}

	out, err := Zeros(first.batch, first.codebooks, totalFrames)
	if err != nil {
		return nil, err
	}

	rows := first.batch * first.codebooks
	for r := range rows {
		writePos := r * totalFrames

		for _, s := range seqs {
			copy(out.data[writePos:writePos+s.frames], s.data[r*s.frames:(r+1)*s.frames])
			writePos += s.frames
		}
	}

	return out, nil
}

// Equal reports whether two sequences have identical shape and tokens.
func Equal(a, b *Sequence) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.batch != b.batch || a.codebooks != b.codebooks || a.frames != b.frames {
		return false
	}

	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}

	return true
}
