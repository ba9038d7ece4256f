package music

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/hua2014/VidMuse/internal/tokens"
)

// WindowedGenerator stitches bounded-context decoder calls into an
// arbitrarily long token sequence. Each call to GenerateTokens owns its
// loop state locally, so a generator is safe to reuse sequentially but
// concurrent calls must use independent generators or external
// serialization.
type WindowedGenerator struct {
	decoder     AutoregressiveDecoder
	frameRate   float64
	maxDuration float64
	logger      *slog.Logger
}

// NewWindowedGenerator builds a controller over a decoder with the given
// token frame rate and maximum context duration in seconds.
func NewWindowedGenerator(decoder AutoregressiveDecoder, frameRate, maxDuration float64, logger *slog.Logger) (*WindowedGenerator, error) {
	if decoder == nil {
		return nil, fmt.Errorf("%w: decoder is required", ErrConfiguration)
	}

	if frameRate <= 0 {
		return nil, fmt.Errorf("%w: frame rate %.3f must be positive", ErrConfiguration, frameRate)
	}

	if maxDuration <= 0 {
		return nil, fmt.Errorf("%w: max duration %.3fs must be positive", ErrConfiguration, maxDuration)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &WindowedGenerator{
		decoder:     decoder,
		frameRate:   frameRate,
		maxDuration: maxDuration,
		logger:      logger,
	}, nil
}

// GenerateTokens produces a token sequence of p.Duration seconds. Durations
// within the decoder context take the single-shot path; longer durations run
// the extension loop, committing p.ExtendStride seconds of new tokens per
// chunk while re-seeding the decoder with the remaining context and keeping
// the video conditioning window aligned with the audio timeline.
func (g *WindowedGenerator) GenerateTokens(
	ctx context.Context,
	prompt *tokens.Sequence,
	cond Conditioning,
	p Params,
	progress ProgressFunc,
) (*tokens.Sequence, error) {
	if err := p.Validate(g.maxDuration); err != nil {
		return nil, err
	}

	totalGenLen := int(math.Round(p.Duration * g.frameRate))
	maxPromptLen := int(math.Round(math.Min(p.Duration, g.maxDuration) * g.frameRate))

	if prompt.Frames() > maxPromptLen {
		return nil, fmt.Errorf(
			"%w: prompt holds %d tokens, budget is %d",
			ErrPromptTooLong, prompt.Frames(), maxPromptLen,
		)
	}

	if p.Duration <= g.maxDuration {
		return g.generateSingleShot(ctx, prompt, cond, p, totalGenLen, progress)
	}

	return g.generateExtended(ctx, prompt, cond, p, totalGenLen, progress)
}

func (g *WindowedGenerator) generateSingleShot(
	ctx context.Context,
	prompt *tokens.Sequence,
	cond Conditioning,
	p Params,
	totalGenLen int,
	progress ProgressFunc,
) (*tokens.Sequence, error) {
	out, err := g.decoder.Generate(ctx, prompt, cond, totalGenLen, p.Sampling(), forwardProgress(progress, 0, totalGenLen))
	if err != nil {
		return nil, fmt.Errorf("music: generate tokens: %w", err)
	}

	return out, nil
}

func (g *WindowedGenerator) generateExtended(
	ctx context.Context,
	prompt *tokens.Sequence,
	cond Conditioning,
	p Params,
	totalGenLen int,
	progress ProgressFunc,
) (*tokens.Sequence, error) {
	strideTokens := int(math.Round(g.frameRate * p.ExtendStride))

	var chunks []*tokens.Sequence

	// seed is the continuation context carried between chunks; it starts as
	// the caller's prompt and is re-derived from every chunk's tail.
	seed := prompt
	if seed != nil && seed.Frames() == 0 {
		seed = nil
	}

	if seed != nil {
		chunks = append(chunks, seed)
	}

	video := cond.Video

	var strideVideoFrames, maxWindowFrames int64

	if video != nil {
		strideVideoFrames = int64(math.Round(video.FPS * p.ExtendStride))
		maxWindowFrames = int64(math.Round(g.maxDuration * video.FPS))
	}

	currentGenOffset := 0

	for chunk := 0; currentGenOffset+seed.Frames() < totalGenLen; chunk++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("music: generation canceled: %w", err)
		}

		timeOffset := float64(currentGenOffset) / g.frameRate
		chunkDuration := math.Min(p.Duration-timeOffset, g.maxDuration)
		maxGenLen := int(math.Round(chunkDuration * g.frameRate))

		chunkCond := cond

		if video != nil {
			windowFrames := int64(math.Round(chunkDuration * video.FPS))
			if windowFrames > video.Frames() {
				windowFrames = video.Frames()
			}

			window, err := video.SlicePrefix(windowFrames)
			if err != nil {
				return nil, fmt.Errorf("music: chunk %d: %w", chunk, err)
			}

			chunkCond.Video = window
		}

		g.logger.Debug("generating chunk",
			"chunk", chunk,
			"gen_offset", currentGenOffset,
			"prompt_tokens", seed.Frames(),
			"max_gen_len", maxGenLen,
			"total_gen_len", totalGenLen,
		)

		gen, err := g.decoder.Generate(ctx, seed, chunkCond, maxGenLen, p.Sampling(), forwardProgress(progress, currentGenOffset, totalGenLen))
		if err != nil {
			return nil, fmt.Errorf("music: generate chunk %d: %w", chunk, err)
		}

		if gen.Frames() != maxGenLen+seed.Frames() {
			return nil, fmt.Errorf(
				"%w: decoder returned %d frames for chunk %d, expected %d",
				ErrShapeMismatch, gen.Frames(), chunk, maxGenLen+seed.Frames(),
			)
		}

		// Only the non-overlapping suffix is committed; the seed prefix was
		// already accumulated by an earlier chunk (or is the prompt itself).
		suffix, err := gen.Suffix(seed.Frames())
		if err != nil {
			return nil, fmt.Errorf("music: chunk %d suffix: %w", chunk, err)
		}

		chunks = append(chunks, suffix)

		// A short final chunk can hold fewer tokens than one stride; the
		// seed then empties out and the loop condition ends the loop.
		seedFrom := strideTokens
		if seedFrom > gen.Frames() {
			seedFrom = gen.Frames()
		}

		seed, err = gen.Suffix(seedFrom)
		if err != nil {
			return nil, fmt.Errorf("music: chunk %d re-seed: %w", chunk, err)
		}

		if video != nil {
			advanced, err := g.advanceVideoWindow(video, strideVideoFrames, maxWindowFrames)
			if err != nil {
				return nil, fmt.Errorf("music: chunk %d: %w", chunk, err)
			}

			video = advanced
		}

		currentGenOffset += strideTokens
	}

	out, err := tokens.Concat(chunks)
	if err != nil {
		return nil, fmt.Errorf("music: concat chunks: %w", err)
	}

	// Per-chunk rounding can overshoot the requested duration by a partial
	// stride; trim so the output length is exactly the requested one.
	if out.Frames() > totalGenLen {
		out, err = out.Narrow(0, totalGenLen)
		if err != nil {
			return nil, fmt.Errorf("music: trim output: %w", err)
		}
	}

	return out, nil
}

// advanceVideoWindow moves the local video features forward by one stride.
// Near the tail, plain stride-dropping would leave the window shorter than
// one decoder context, so the window is clamped to the last full context
// instead. The clamp verifies the window still covers a full context; a
// shorter window means the video features ran out before the audio timeline
// did.
func (g *WindowedGenerator) advanceVideoWindow(video *VideoConditioning, strideVideoFrames, maxWindowFrames int64) (*VideoConditioning, error) {
	if video.Frames()-strideVideoFrames >= maxWindowFrames {
		return video.DropPrefix(strideVideoFrames)
	}

	if video.Frames() < maxWindowFrames {
		return nil, fmt.Errorf(
			"%w: video window holds %d frames, a full context needs %d; video conditioning is shorter than the audio timeline",
			ErrShapeMismatch, video.Frames(), maxWindowFrames,
		)
	}

	return video.Tail(maxWindowFrames)
}

// forwardProgress rebases the decoder-local step count onto the whole
// generation before forwarding it to the caller.
func forwardProgress(progress ProgressFunc, offset, total int) ProgressFunc {
	if progress == nil {
		return nil
	}

	return func(generated, _ int) {
		progress(offset+generated, total)
	}
}
