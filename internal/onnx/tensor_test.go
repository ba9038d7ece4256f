package onnx

import "testing"

func TestNewTensorValidatesShape(t *testing.T) {
	if _, err := NewTensor([]float32{1, 2, 3}, []int64{2, 2}); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	tt, err := NewTensor([]int64{1, 2, 3, 4}, []int64{2, 2})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	if tt.DType() != DTypeInt64 {
		t.Fatalf("dtype = %s, want int64", tt.DType())
	}
}

func TestTensorTypedAccessors(t *testing.T) {
	f, err := NewTensor([]float32{1, 2}, []int64{2})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	if _, err := f.Int64(); err == nil {
		t.Fatal("expected dtype error reading float tensor as int64")
	}

	data, err := f.Float32()
	if err != nil {
		t.Fatalf("Float32: %v", err)
	}

	if len(data) != 2 {
		t.Fatalf("len = %d, want 2", len(data))
	}
}

func TestNewZeroTensorResolvesSymbolicDims(t *testing.T) {
	tt, err := NewZeroTensor("tensor(float)", []any{float64(2), "time"})
	if err != nil {
		t.Fatalf("NewZeroTensor: %v", err)
	}

	shape := tt.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 1 {
		t.Fatalf("shape = %v, want [2 1]", shape)
	}
}

func TestNewZeroTensorRejectsUnknownDType(t *testing.T) {
	if _, err := NewZeroTensor("complex64", []any{1}); err == nil {
		t.Fatal("expected dtype error")
	}
}
