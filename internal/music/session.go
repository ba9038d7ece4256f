// Package music implements long-form token generation over a bounded-context
// autoregressive decoder: conditioning assembly, the windowed extension loop,
// and the session façade callers interact with.
package music

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// DefaultMaxDuration is the decoder's context limit in seconds.
const DefaultMaxDuration = 30.0

// Session ties a decoder and a codec to a fixed set of generation
// parameters. Parameters are immutable after construction; WithParams
// derives a new session instead of mutating this one, so no state can leak
// between concurrent or sequential generation calls.
type Session struct {
	decoder     AutoregressiveDecoder
	codec       AudioCodec
	builder     *AttributeBuilder
	generator   *WindowedGenerator
	params      Params
	maxDuration float64
	progress    ProgressFunc
	logger      *slog.Logger
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithParams replaces the default generation parameters.
func WithParams(p Params) Option {
	return func(s *Session) { s.params = p }
}

// WithMaxDuration overrides the decoder context limit. Only useful for
// decoders trained with a non-standard context.
func WithMaxDuration(seconds float64) Option {
	return func(s *Session) { s.maxDuration = seconds }
}

// WithProgress installs a progress observer. The default is no reporting.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) { s.progress = fn }
}

// WithLogger routes session logs somewhere other than slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// NewSession validates the parameter set against the decoder context and
// wires up the generation pipeline. Configuration errors surface here, never
// during generation.
func NewSession(decoder AutoregressiveDecoder, codec AudioCodec, opts ...Option) (*Session, error) {
	if decoder == nil {
		return nil, fmt.Errorf("%w: decoder is required", ErrConfiguration)
	}

	if codec == nil {
		return nil, fmt.Errorf("%w: audio codec is required", ErrConfiguration)
	}

	s := &Session{
		decoder:     decoder,
		codec:       codec,
		params:      DefaultParams(),
		maxDuration: DefaultMaxDuration,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.params.Validate(s.maxDuration); err != nil {
		return nil, err
	}

	generator, err := NewWindowedGenerator(decoder, codec.FrameRate(), s.maxDuration, s.logger)
	if err != nil {
		return nil, err
	}

	s.generator = generator
	s.builder = NewAttributeBuilder(codec, decoder.SupportsMelody())

	return s, nil
}

// Derive returns a new session sharing this one's decoder and codec but
// carrying different generation parameters.
func (s *Session) Derive(p Params) (*Session, error) {
	return NewSession(s.decoder, s.codec,
		WithParams(p),
		WithMaxDuration(s.maxDuration),
		WithProgress(s.progress),
		WithLogger(s.logger),
	)
}

// Params returns the session's generation parameters.
func (s *Session) Params() Params { return s.params }

// SampleRate is the codec's native output sample rate.
func (s *Session) SampleRate() int { return s.codec.SampleRate() }

// Channels is the codec's native channel count.
func (s *Session) Channels() int { return s.codec.Channels() }

// FrameRate is the decoder token rate in frames per second.
func (s *Session) FrameRate() float64 { return s.codec.FrameRate() }

// GenerateTokens runs text- and optionally video-conditioned generation and
// returns the raw token sequence.
func (s *Session) GenerateTokens(ctx context.Context, descriptions []string, video *VideoConditioning) (*tokens.Sequence, error) {
	attrs, err := s.builder.Build(descriptions, nil, 0)
	if err != nil {
		return nil, err
	}

	return s.generator.GenerateTokens(ctx, nil, Conditioning{Attributes: attrs, Video: video}, s.params, s.progress)
}

// Generate runs text- and optionally video-conditioned generation and
// decodes the result to a [B, C, T] waveform.
func (s *Session) Generate(ctx context.Context, descriptions []string, video *VideoConditioning) (*tensor.Tensor, error) {
	seq, err := s.GenerateTokens(ctx, descriptions, video)
	if err != nil {
		return nil, err
	}

	return s.DecodeAudio(ctx, seq)
}

// GenerateUnconditional generates samples with empty conditioning records.
func (s *Session) GenerateUnconditional(ctx context.Context, samples int) (*tensor.Tensor, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("%w: sample count %d must be positive", ErrConfiguration, samples)
	}

	seq, err := s.GenerateTokens(ctx, make([]string, samples), nil)
	if err != nil {
		return nil, err
	}

	return s.DecodeAudio(ctx, seq)
}

// GenerateWithMelody conditions each sample on a melody waveform alongside
// its description. Melodies must match descriptions one to one; nil entries
// mean no melody for that sample.
func (s *Session) GenerateWithMelody(
	ctx context.Context,
	descriptions []string,
	melodies []*tensor.Tensor,
	melodySampleRate int,
	video *VideoConditioning,
) (*tensor.Tensor, error) {
	attrs, err := s.builder.Build(descriptions, melodies, melodySampleRate)
	if err != nil {
		return nil, err
	}

	seq, err := s.generator.GenerateTokens(ctx, nil, Conditioning{Attributes: attrs, Video: video}, s.params, s.progress)
	if err != nil {
		return nil, err
	}

	return s.DecodeAudio(ctx, seq)
}

// GenerateContinuation encodes a waveform prompt and generates audio that
// continues it. The prompt is part of the returned waveform.
func (s *Session) GenerateContinuation(
	ctx context.Context,
	prompt *tensor.Tensor,
	promptSampleRate int,
	descriptions []string,
	video *VideoConditioning,
) (*tensor.Tensor, error) {
	if prompt == nil {
		return nil, fmt.Errorf("%w: a continuation prompt waveform is required", ErrShapeMismatch)
	}

	promptTokens, err := s.builder.EncodePrompt(ctx, prompt, promptSampleRate)
	if err != nil {
		return nil, err
	}

	if descriptions == nil {
		descriptions = make([]string, promptTokens.Batch())
	}

	attrs, err := s.builder.Build(descriptions, nil, 0)
	if err != nil {
		return nil, err
	}

	seq, err := s.generator.GenerateTokens(ctx, promptTokens, Conditioning{Attributes: attrs, Video: video}, s.params, s.progress)
	if err != nil {
		return nil, err
	}

	return s.DecodeAudio(ctx, seq)
}

// GenerateVideoEmbedding runs only the conditioning pathway and returns the
// decoder's video hidden states without generating any audio.
func (s *Session) GenerateVideoEmbedding(ctx context.Context, video *VideoConditioning) (*tensor.Tensor, error) {
	if video == nil {
		return nil, fmt.Errorf("%w: video conditioning is required", ErrShapeMismatch)
	}

	attrs, err := s.builder.Build(make([]string, video.Batch()), nil, 0)
	if err != nil {
		return nil, err
	}

	emb, err := s.decoder.GenerateVideoEmbedding(ctx, Conditioning{Attributes: attrs, Video: video})
	if err != nil {
		return nil, fmt.Errorf("music: video embedding: %w", err)
	}

	return emb, nil
}

// DecodeAudio turns a token sequence into a waveform via the codec.
func (s *Session) DecodeAudio(ctx context.Context, seq *tokens.Sequence) (*tensor.Tensor, error) {
	wav, err := s.codec.Decode(ctx, seq, nil)
	if err != nil {
		return nil, fmt.Errorf("music: decode audio: %w", err)
	}

	return wav, nil
}
