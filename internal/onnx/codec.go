package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/hua2014/VidMuse/internal/audio"
	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// codec graph node names.
const (
	codecAudioNode = "audio"
	codecCodesNode = "codes"
	codecScaleNode = "scale"
)

// codecFrameRate is the token frame rate of the compression codec.
const codecFrameRate = 50.0

// Codec bridges waveforms and token sequences through the codec_encode and
// codec_decode graphs. The exported codec is scale-free; a scale output in
// the bundle is surfaced to the caller, which rejects it for generation.
type Codec struct {
	encode graphRunner
	decode graphRunner
}

func NewCodec(engine *Engine) (*Codec, error) {
	encode, ok := engine.Runner(GraphCodecEncode)
	if !ok {
		return nil, fmt.Errorf("graph %q not found in manifest", GraphCodecEncode)
	}

	decode, ok := engine.Runner(GraphCodecDecode)
	if !ok {
		return nil, fmt.Errorf("graph %q not found in manifest", GraphCodecDecode)
	}

	return &Codec{encode: encode, decode: decode}, nil
}

func (c *Codec) SampleRate() int    { return audio.NativeSampleRate }
func (c *Codec) Channels() int      { return audio.NativeChannels }
func (c *Codec) FrameRate() float64 { return codecFrameRate }

// Encode compresses a [B, C, T] waveform into token codes.
func (c *Codec) Encode(ctx context.Context, wav *tensor.Tensor) (*tokens.Sequence, *tensor.Tensor, error) {
	if wav == nil || wav.Rank() != 3 {
		return nil, nil, errors.New("onnx: encode expects a [B, C, T] waveform")
	}

	in, err := FromFloat(wav)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: encode input: %w", err)
	}

	outputs, err := c.encode.Run(ctx, map[string]*Tensor{codecAudioNode: in})
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: %s: %w", GraphCodecEncode, err)
	}

	codes, ok := outputs[codecCodesNode]
	if !ok {
		return nil, nil, fmt.Errorf("onnx: %s: missing %q in output", GraphCodecEncode, codecCodesNode)
	}

	seq, err := ToCodes(codes)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: %s: %w", GraphCodecEncode, err)
	}

	var scale *tensor.Tensor

	if raw, ok := outputs[codecScaleNode]; ok {
		scale, err = ToFloat(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("onnx: %s: scale output: %w", GraphCodecEncode, err)
		}
	}

	return seq, scale, nil
}

// Decode reconstructs a [B, C, T] waveform from token codes.
func (c *Codec) Decode(ctx context.Context, seq *tokens.Sequence, scale *tensor.Tensor) (*tensor.Tensor, error) {
	if seq == nil {
		return nil, errors.New("onnx: decode expects a token sequence")
	}

	if scale != nil {
		return nil, errors.New("onnx: decode does not support scaled codes")
	}

	in, err := FromCodes(seq)
	if err != nil {
		return nil, fmt.Errorf("onnx: decode input: %w", err)
	}

	outputs, err := c.decode.Run(ctx, map[string]*Tensor{codecCodesNode: in})
	if err != nil {
		return nil, fmt.Errorf("onnx: %s: %w", GraphCodecDecode, err)
	}

	wav, ok := outputs[codecAudioNode]
	if !ok {
		return nil, fmt.Errorf("onnx: %s: missing %q in output", GraphCodecDecode, codecAudioNode)
	}

	return ToFloat(wav)
}
