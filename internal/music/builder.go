package music

import (
	"context"
	"fmt"

	"github.com/hua2014/VidMuse/internal/audio"
	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// AttributeBuilder assembles per-sample conditioning records and encodes
// continuation prompts into decoder tokens. All validation happens here,
// before any decoder call is made.
type AttributeBuilder struct {
	codec           AudioCodec
	melodySupported bool
}

// NewAttributeBuilder wires a builder to the session's codec and decoder
// capabilities.
func NewAttributeBuilder(codec AudioCodec, melodySupported bool) *AttributeBuilder {
	return &AttributeBuilder{codec: codec, melodySupported: melodySupported}
}

// Build produces one Attributes record per description. When melodies is
// nil every record gets the zero-length waveform placeholder; otherwise the
// melody count must match the description count and each non-nil melody is
// converted to the codec's native format. A nil entry inside melodies still
// gets the placeholder.
func (b *AttributeBuilder) Build(descriptions []string, melodies []*tensor.Tensor, melodySampleRate int) ([]Attributes, error) {
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("%w: at least one description is required", ErrShapeMismatch)
	}

	attrs := make([]Attributes, len(descriptions))
	for i, desc := range descriptions {
		attrs[i] = Attributes{
			Text: desc,
			Wav:  EmptyWavCondition(b.codec.SampleRate()),
		}
	}

	if melodies == nil {
		return attrs, nil
	}

	if !b.melodySupported {
		return nil, fmt.Errorf("%w: this model does not support melody conditioning", ErrUnsupportedFeature)
	}

	if len(melodies) != len(descriptions) {
		return nil, fmt.Errorf(
			"%w: got %d melodies for %d descriptions",
			ErrShapeMismatch, len(melodies), len(descriptions),
		)
	}

	for i, melody := range melodies {
		if melody == nil {
			continue
		}

		wav, err := b.toWaveform(melody, fmt.Sprintf("melody %d", i))
		if err != nil {
			return nil, err
		}

		converted, err := audio.Convert(wav, melodySampleRate, b.codec.SampleRate(), b.codec.Channels())
		if err != nil {
			return nil, fmt.Errorf("music: convert melody %d: %w", i, err)
		}

		length, err := converted.Dim(-1)
		if err != nil {
			return nil, fmt.Errorf("music: melody %d: %w", i, err)
		}

		attrs[i].Wav = WavCondition{
			Samples:    converted,
			Length:     length,
			SampleRate: b.codec.SampleRate(),
		}
	}

	return attrs, nil
}

// EncodePrompt converts a continuation waveform to the native format and
// encodes it into decoder tokens. The codec must be scale-free for this use;
// a returned scale factor is an unsupported-codec error.
func (b *AttributeBuilder) EncodePrompt(ctx context.Context, prompt *tensor.Tensor, promptSampleRate int) (*tokens.Sequence, error) {
	if prompt == nil {
		return nil, nil
	}

	wav, err := b.toWaveform(prompt, "prompt")
	if err != nil {
		return nil, err
	}

	converted, err := audio.Convert(wav, promptSampleRate, b.codec.SampleRate(), b.codec.Channels())
	if err != nil {
		return nil, fmt.Errorf("music: convert prompt: %w", err)
	}

	seq, scale, err := b.codec.Encode(ctx, converted)
	if err != nil {
		return nil, fmt.Errorf("music: encode prompt: %w", err)
	}

	if scale != nil {
		return nil, fmt.Errorf("%w: compression codec returned a scale factor for the prompt", ErrUnsupportedFeature)
	}

	return seq, nil
}

// toWaveform promotes a [C, T] waveform to [1, C, T] and rejects any other
// rank.
func (b *AttributeBuilder) toWaveform(wav *tensor.Tensor, what string) (*tensor.Tensor, error) {
	switch wav.Rank() {
	case 2:
		shape := wav.Shape()

		promoted, err := tensor.New(wav.Data(), []int64{1, shape[0], shape[1]})
		if err != nil {
			return nil, fmt.Errorf("music: promote %s: %w", what, err)
		}

		return promoted, nil
	case 3:
		return wav, nil
	default:
		return nil, fmt.Errorf(
			"%w: %s should have shape [B, C, T] or [C, T], got rank %d",
			ErrShapeMismatch, what, wav.Rank(),
		)
	}
}
