package tokens

import "testing"

func seq(t *testing.T, data []int64, b, k, frames int) *Sequence {
	t.Helper()

	s, err := New(data, b, k, frames)
	if err != nil {
		t.Fatalf("new sequence: %v", err)
	}

	return s
}

func TestNewLengthMismatch(t *testing.T) {
	if _, err := New([]int64{1, 2, 3}, 1, 2, 2); err == nil {
		t.Fatal("New with wrong data length should fail")
	}
}

func TestSuffixDropsPrefixPerCodebook(t *testing.T) {
	// [B=1, K=2, T=4]
	s := seq(t, []int64{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, 1, 2, 4)

	out, err := s.Suffix(3)
	if err != nil {
		t.Fatalf("suffix: %v", err)
	}

	if out.Frames() != 1 {
		t.Fatalf("frames = %d, want 1", out.Frames())
	}

	want := []int64{4, 8}
	got := out.Data()

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data = %v, want %v", got, want)
		}
	}
}

func TestSuffixWholeSequence(t *testing.T) {
	s := seq(t, []int64{1, 2, 3}, 1, 1, 3)

	out, err := s.Suffix(0)
	if err != nil {
		t.Fatalf("suffix: %v", err)
	}

	if !Equal(out, s) {
		t.Fatal("suffix(0) should equal the input")
	}
}

func TestSuffixOutOfBounds(t *testing.T) {
	s := seq(t, []int64{1, 2, 3}, 1, 1, 3)

	if _, err := s.Suffix(4); err == nil {
		t.Fatal("suffix past end should fail")
	}
}

func TestConcatPreservesCodebookAlignment(t *testing.T) {
	a := seq(t, []int64{
		1, 2,
		10, 20,
	}, 1, 2, 2)
	b := seq(t, []int64{
		3,
		30,
	}, 1, 2, 1)

	out, err := Concat([]*Sequence{a, b})
	if err != nil {
		t.Fatalf("concat: %v", err)
	}

	if out.Frames() != 3 {
		t.Fatalf("frames = %d, want 3", out.Frames())
	}

	want := []int64{1, 2, 3, 10, 20, 30}
	got := out.Data()

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data = %v, want %v", got, want)
		}
	}
}

func TestConcatCodebookMismatch(t *testing.T) {
	a := seq(t, []int64{1, 2}, 1, 2, 1)
	b := seq(t, []int64{1}, 1, 1, 1)

	if _, err := Concat([]*Sequence{a, b}); err == nil {
		t.Fatal("concat with mismatched codebooks should fail")
	}
}

func TestNarrowMidRange(t *testing.T) {
	s := seq(t, []int64{1, 2, 3, 4, 5}, 1, 1, 5)

	out, err := s.Narrow(1, 3)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}

	want := []int64{2, 3, 4}
	got := out.Data()

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data = %v, want %v", got, want)
		}
	}
}

func TestAt(t *testing.T) {
	s := seq(t, []int64{
		1, 2,
		3, 4,
	}, 1, 2, 2)

	v, err := s.At(0, 1, 0)
	if err != nil {
		t.Fatalf("at: %v", err)
	}

	if v != 3 {
		t.Fatalf("at(0,1,0) = %d, want 3", v)
	}

	if _, err := s.At(0, 2, 0); err == nil {
		t.Fatal("at with out-of-range codebook should fail")
	}
}
