package onnx

import (
	"context"
	"testing"

	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

func TestCodecEncodeDecode(t *testing.T) {
	encode := &fakeGraph{fn: func(call int, inputs map[string]*Tensor) (map[string]*Tensor, error) {
		if _, ok := inputs[codecAudioNode]; !ok {
			t.Fatal("missing audio input")
		}

		codes, err := NewTensor([]int64{1, 2, 3, 4, 5, 6, 7, 8}, []int64{1, 4, 2})
		if err != nil {
			t.Fatalf("codes: %v", err)
		}

		return map[string]*Tensor{codecCodesNode: codes}, nil
	}}

	decode := &fakeGraph{fn: func(call int, inputs map[string]*Tensor) (map[string]*Tensor, error) {
		codes := inputs[codecCodesNode]
		frames := codes.Shape()[2]

		wav, err := NewTensor(make([]float32, frames*640), []int64{1, 1, frames * 640})
		if err != nil {
			t.Fatalf("wav: %v", err)
		}

		return map[string]*Tensor{codecAudioNode: wav}, nil
	}}

	c := &Codec{encode: encode, decode: decode}

	wav, err := tensor.Zeros([]int64{1, 1, 1280})
	if err != nil {
		t.Fatalf("wav: %v", err)
	}

	seq, scale, err := c.Encode(context.Background(), wav)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if scale != nil {
		t.Fatal("expected nil scale from scale-free codec")
	}

	if seq.Batch() != 1 || seq.Codebooks() != 4 || seq.Frames() != 2 {
		t.Fatalf("seq shape = [%d %d %d], want [1 4 2]", seq.Batch(), seq.Codebooks(), seq.Frames())
	}

	out, err := c.Decode(context.Background(), seq, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	samples, err := out.Dim(-1)
	if err != nil {
		t.Fatalf("Dim: %v", err)
	}

	if samples != 1280 {
		t.Fatalf("samples = %d, want 1280", samples)
	}
}

func TestCodecSurfacesScaleOutput(t *testing.T) {
	encode := &fakeGraph{fn: func(call int, inputs map[string]*Tensor) (map[string]*Tensor, error) {
		codes, err := NewTensor([]int64{0, 0, 0, 0}, []int64{1, 4, 1})
		if err != nil {
			t.Fatalf("codes: %v", err)
		}

		scale, err := NewTensor([]float32{0.5}, []int64{1})
		if err != nil {
			t.Fatalf("scale: %v", err)
		}

		return map[string]*Tensor{codecCodesNode: codes, codecScaleNode: scale}, nil
	}}

	c := &Codec{encode: encode}

	wav, err := tensor.Zeros([]int64{1, 1, 640})
	if err != nil {
		t.Fatalf("wav: %v", err)
	}

	_, scale, err := c.Encode(context.Background(), wav)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if scale == nil {
		t.Fatal("expected scale tensor to be surfaced")
	}
}

func TestCodecDecodeRejectsScale(t *testing.T) {
	c := &Codec{}

	seq, err := tokens.Zeros(1, 4, 1)
	if err != nil {
		t.Fatalf("seq: %v", err)
	}

	scale, err := tensor.New([]float32{1}, []int64{1})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}

	if _, err := c.Decode(context.Background(), seq, scale); err == nil {
		t.Fatal("expected error for scaled decode")
	}
}

func TestCodecRejectsBadWaveformRank(t *testing.T) {
	c := &Codec{}

	wav, err := tensor.Zeros([]int64{1, 640})
	if err != nil {
		t.Fatalf("wav: %v", err)
	}

	if _, _, err := c.Encode(context.Background(), wav); err == nil {
		t.Fatal("expected error for rank-2 waveform")
	}
}

func TestCodesRoundTrip(t *testing.T) {
	seq, err := tokens.New([]int64{9, 8, 7, 6, 5, 4}, 1, 2, 3)
	if err != nil {
		t.Fatalf("seq: %v", err)
	}

	wire, err := FromCodes(seq)
	if err != nil {
		t.Fatalf("FromCodes: %v", err)
	}

	back, err := ToCodes(wire)
	if err != nil {
		t.Fatalf("ToCodes: %v", err)
	}

	if !tokens.Equal(seq, back) {
		t.Fatal("round trip mismatch")
	}
}
