package video

import (
	"path/filepath"
	"testing"

	"github.com/hua2014/VidMuse/internal/safetensors"
	"github.com/hua2014/VidMuse/internal/tensor"
)

func writeBundle(t *testing.T, tensors []safetensors.Tensor) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "features.safetensors")

	if err := safetensors.WriteFile(path, tensors); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func TestLoadConditioning(t *testing.T) {
	path := writeBundle(t, []safetensors.Tensor{
		{Name: LocalTensorName, Shape: []int64{1, 3, 4, 2, 2}, Data: make([]float32, 48)},
		{Name: GlobalTensorName, Shape: []int64{1, 3, 1, 2, 2}, Data: make([]float32, 12)},
	})

	cond, err := LoadConditioning(path, 0)
	if err != nil {
		t.Fatalf("LoadConditioning: %v", err)
	}

	if cond.Frames() != 4 {
		t.Fatalf("frames = %d, want 4", cond.Frames())
	}

	if cond.Global == nil {
		t.Fatal("expected global features")
	}

	if cond.FPS != 2.0 {
		t.Fatalf("fps = %.1f, want default 2.0", cond.FPS)
	}
}

func TestLoadConditioningWithoutGlobal(t *testing.T) {
	path := writeBundle(t, []safetensors.Tensor{
		{Name: LocalTensorName, Shape: []int64{1, 3, 2, 2, 2}, Data: make([]float32, 24)},
	})

	cond, err := LoadConditioning(path, 4)
	if err != nil {
		t.Fatalf("LoadConditioning: %v", err)
	}

	if cond.Global != nil {
		t.Fatal("expected nil global features")
	}

	if cond.FPS != 4 {
		t.Fatalf("fps = %.1f, want 4", cond.FPS)
	}
}

func TestLoadConditioningRejectsBadRank(t *testing.T) {
	path := writeBundle(t, []safetensors.Tensor{
		{Name: LocalTensorName, Shape: []int64{1, 3, 4}, Data: make([]float32, 12)},
	})

	if _, err := LoadConditioning(path, 0); err == nil {
		t.Fatal("expected rank error for 3-D local features")
	}
}

func TestLoadConditioningMissingLocal(t *testing.T) {
	path := writeBundle(t, []safetensors.Tensor{
		{Name: "other", Shape: []int64{1}, Data: []float32{1}},
	})

	if _, err := LoadConditioning(path, 0); err == nil {
		t.Fatal("expected error for missing local features")
	}
}

func TestSaveEmbeddingRoundTrip(t *testing.T) {
	emb, err := tensor.New([]float32{1, 2, 3, 4}, []int64{2, 2})
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	path := filepath.Join(t.TempDir(), "embedding.safetensors")

	if err := SaveEmbedding(path, emb); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}

	store, err := safetensors.OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	got, err := store.TensorWithShape(EmbeddingTensorName, []int64{2, 2})
	if err != nil {
		t.Fatalf("TensorWithShape: %v", err)
	}

	for i, want := range []float32{1, 2, 3, 4} {
		if got.Data[i] != want {
			t.Fatalf("data[%d] = %f, want %f", i, got.Data[i], want)
		}
	}
}
