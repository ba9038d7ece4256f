// Package video loads video feature bundles and persists video embeddings.
// Feature extraction itself (decoding frames, running the visual encoder)
// happens upstream; this package handles the safetensors interchange files.
package video

import (
	"fmt"

	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/safetensors"
	"github.com/hua2014/VidMuse/internal/tensor"
)

// Feature bundle tensor names.
const (
	LocalTensorName  = "video.local"
	GlobalTensorName = "video.global"
)

// EmbeddingTensorName is the tensor written by SaveEmbedding.
const EmbeddingTensorName = "video.embedding"

// LoadConditioning reads a feature bundle and assembles the conditioning
// pair. The local group is required and must be [B, C, T, H, W]; the global
// group is optional. fps <= 0 selects the default feature rate.
func LoadConditioning(path string, fps float64) (*music.VideoConditioning, error) {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	raw, err := store.Tensor(LocalTensorName)
	if err != nil {
		return nil, err
	}

	local, err := tensor.New(raw.Data, raw.Shape)
	if err != nil {
		return nil, fmt.Errorf("video: local features: %w", err)
	}

	var global *tensor.Tensor

	if store.Has(GlobalTensorName) {
		rawGlobal, err := store.Tensor(GlobalTensorName)
		if err != nil {
			return nil, err
		}

		global, err = tensor.New(rawGlobal.Data, rawGlobal.Shape)
		if err != nil {
			return nil, fmt.Errorf("video: global features: %w", err)
		}
	}

	if fps <= 0 {
		fps = music.DefaultVideoFPS
	}

	return music.NewVideoConditioning(local, global, fps)
}

// SaveEmbedding writes a video embedding tensor to a safetensors file.
func SaveEmbedding(path string, emb *tensor.Tensor) error {
	if emb == nil {
		return fmt.Errorf("video: nil embedding")
	}

	return safetensors.WriteFile(path, []safetensors.Tensor{{
		Name:  EmbeddingTensorName,
		Shape: emb.Shape(),
		Data:  emb.Data(),
	}})
}
