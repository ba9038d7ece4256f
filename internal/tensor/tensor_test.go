package tensor

import (
	"math"
	"testing"
)

func equalI64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func equalF32(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if tol == 0 {
			if a[i] != b[i] {
				return false
			}

			continue
		}

		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}

	return true
}

func TestNewShapeMismatch(t *testing.T) {
	if _, err := New([]float32{1, 2, 3}, []int64{2, 2}); err == nil {
		t.Fatal("New with mismatched data length should fail")
	}
}

func TestNarrowTimeAxis(t *testing.T) {
	// [B=1, C=1, T=4, H=1, W=2] — slice the first 2 frames on the time axis.
	x, _ := New([]float32{
		1, 2, 3, 4, 5, 6, 7, 8,
	}, []int64{1, 1, 4, 1, 2})

	out, err := x.Narrow(2, 0, 2)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}

	if got := out.Shape(); !equalI64(got, []int64{1, 1, 2, 1, 2}) {
		t.Fatalf("shape = %v, want [1 1 2 1 2]", got)
	}

	want := []float32{1, 2, 3, 4}
	if got := out.Data(); !equalF32(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestNarrowDropPrefix(t *testing.T) {
	x, _ := New([]float32{1, 2, 3, 4, 5, 6}, []int64{2, 3})

	out, err := x.Narrow(1, 1, 2)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}

	want := []float32{2, 3, 5, 6}
	if got := out.Data(); !equalF32(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestNarrowOutOfBounds(t *testing.T) {
	x, _ := New([]float32{1, 2, 3, 4}, []int64{1, 4})

	if _, err := x.Narrow(1, 2, 3); err == nil {
		t.Fatal("narrow past end should fail")
	}
}

func TestNarrowTail(t *testing.T) {
	x, _ := New([]float32{1, 2, 3, 4, 5, 6}, []int64{1, 6})

	out, err := x.NarrowTail(1, 2)
	if err != nil {
		t.Fatalf("narrow tail: %v", err)
	}

	want := []float32{5, 6}
	if got := out.Data(); !equalF32(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestNarrowTailTooLong(t *testing.T) {
	x, _ := New([]float32{1, 2, 3}, []int64{1, 3})

	if _, err := x.NarrowTail(1, 4); err == nil {
		t.Fatal("narrow tail longer than dim should fail")
	}
}

func TestConcatTimeAxis(t *testing.T) {
	a, _ := New([]float32{1, 2, 3, 4}, []int64{1, 2, 2})
	b, _ := New([]float32{5, 6, 7, 8}, []int64{1, 2, 2})

	out, err := Concat([]*Tensor{a, b}, -1)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}

	if got := out.Shape(); !equalI64(got, []int64{1, 2, 4}) {
		t.Fatalf("shape = %v, want [1 2 4]", got)
	}

	// Rows stay aligned per channel across the chunk boundary.
	want := []float32{1, 2, 5, 6, 3, 4, 7, 8}
	if got := out.Data(); !equalF32(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestConcatShapeMismatch(t *testing.T) {
	a, _ := New([]float32{1, 2}, []int64{1, 2})
	b, _ := New([]float32{1, 2, 3}, []int64{1, 3})

	if _, err := Concat([]*Tensor{a, b}, 0); err == nil {
		t.Fatal("concat with mismatched non-concat dims should fail")
	}
}

func TestSoftmaxLastDim(t *testing.T) {
	x, _ := New([]float32{0, 0, 0, 0}, []int64{1, 4})

	out, err := Softmax(x, -1)
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}

	want := []float32{0.25, 0.25, 0.25, 0.25}
	if got := out.Data(); !equalF32(got, want, 1e-6) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestDimNegativeIndex(t *testing.T) {
	x, _ := New(make([]float32, 8), []int64{1, 1, 4, 1, 2})

	got, err := x.Dim(2)
	if err != nil {
		t.Fatalf("dim: %v", err)
	}

	if got != 4 {
		t.Fatalf("dim 2 = %d, want 4", got)
	}

	last, err := x.Dim(-1)
	if err != nil {
		t.Fatalf("dim -1: %v", err)
	}

	if last != 2 {
		t.Fatalf("dim -1 = %d, want 2", last)
	}
}
