package onnx

import (
	"fmt"

	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// FromFloat converts a dense float32 tensor into a graph input.
func FromFloat(t *tensor.Tensor) (*Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("onnx: nil float tensor")
	}

	return NewTensor(t.Data(), t.Shape())
}

// ToFloat converts a float32 graph output into a dense tensor.
func ToFloat(t *Tensor) (*tensor.Tensor, error) {
	data, err := t.Float32()
	if err != nil {
		return nil, err
	}

	return tensor.New(data, t.Shape())
}

// FromCodes converts a token sequence into an int64 [B, K, T] graph input.
func FromCodes(seq *tokens.Sequence) (*Tensor, error) {
	if seq == nil {
		return nil, fmt.Errorf("onnx: nil token sequence")
	}

	return NewTensor(seq.Data(), []int64{
		int64(seq.Batch()), int64(seq.Codebooks()), int64(seq.Frames()),
	})
}

// ToCodes converts an int64 [B, K, T] graph output into a token sequence.
func ToCodes(t *Tensor) (*tokens.Sequence, error) {
	data, err := t.Int64()
	if err != nil {
		return nil, err
	}

	shape := t.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("onnx: token codes must be [B, K, T], got shape %v", shape)
	}

	return tokens.New(data, int(shape[0]), int(shape[1]), int(shape[2]))
}
