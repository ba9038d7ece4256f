package music

import (
	"context"

	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// ProgressFunc observes generation progress. It receives the number of
// tokens generated so far across all chunks and the total to generate. A nil
// ProgressFunc disables reporting; implementations must not block.
type ProgressFunc func(generated, total int)

// AudioCodec compresses waveforms into discrete token sequences and back.
// Implementations are in-process library boundaries (the ONNX backend in
// production, stubs in tests).
type AudioCodec interface {
	// Encode turns a [B, C, T] waveform into tokens plus an optional scale
	// factor. The generation pipeline requires a scale-free codec and
	// rejects a non-nil scale.
	Encode(ctx context.Context, wav *tensor.Tensor) (*tokens.Sequence, *tensor.Tensor, error)

	// Decode turns tokens (and the scale returned by Encode, nil here) back
	// into a [B, C, T] waveform.
	Decode(ctx context.Context, seq *tokens.Sequence, scale *tensor.Tensor) (*tensor.Tensor, error)

	SampleRate() int
	Channels() int

	// FrameRate is the number of token frames per second of audio.
	FrameRate() float64
}

// AutoregressiveDecoder is the bounded-context language model over audio
// tokens. One call generates at most one context window; the windowed
// controller stitches calls together for longer outputs.
type AutoregressiveDecoder interface {
	// Generate produces a token sequence of maxGenLen frames, plus the
	// prompt's frames when a continuation prompt is supplied. The progress
	// callback, when non-nil, receives decoder-local step counts.
	Generate(
		ctx context.Context,
		prompt *tokens.Sequence,
		cond Conditioning,
		maxGenLen int,
		sampling SamplingParams,
		progress ProgressFunc,
	) (*tokens.Sequence, error)

	// GenerateVideoEmbedding runs only the conditioning pathway and returns
	// the video hidden states.
	GenerateVideoEmbedding(ctx context.Context, cond Conditioning) (*tensor.Tensor, error)

	// SupportsMelody reports whether the model carries a waveform
	// conditioner for melody inputs.
	SupportsMelody() bool
}
