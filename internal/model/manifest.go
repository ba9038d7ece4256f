// Package model fetches pinned model bundles from the Hugging Face hub and
// verifies them against sha256 checksums recorded in a local lock manifest.
package model

import "fmt"

// DefaultRepo is the published generation bundle: the exported ONNX graphs
// plus their manifest.
const DefaultRepo = "hua2014/VidMuse"

type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// PinnedManifest returns the file set for a known repo. Checksums left empty
// are resolved from hub metadata on first download and then persisted into
// the lock manifest next to the files.
func PinnedManifest(repo string) (Manifest, error) {
	switch repo {
	case DefaultRepo:
		return Manifest{
			Repo: repo,
			Files: []ModelFile{
				{
					Filename: "onnx/manifest.json",
					Revision: "6f041daad2e4a0f2a1a2ef76c1a4b51a13e8f3b9",
					SHA256:   "",
				},
				{
					Filename: "onnx/lm_step.onnx",
					Revision: "6f041daad2e4a0f2a1a2ef76c1a4b51a13e8f3b9",
					SHA256:   "",
				},
				{
					Filename: "onnx/codec_encode.onnx",
					Revision: "6f041daad2e4a0f2a1a2ef76c1a4b51a13e8f3b9",
					SHA256:   "",
				},
				{
					Filename: "onnx/codec_decode.onnx",
					Revision: "6f041daad2e4a0f2a1a2ef76c1a4b51a13e8f3b9",
					SHA256:   "",
				},
				{
					Filename: "onnx/video_embed.onnx",
					Revision: "6f041daad2e4a0f2a1a2ef76c1a4b51a13e8f3b9",
					SHA256:   "",
				},
			},
		}, nil
	default:
		return Manifest{}, fmt.Errorf("no pinned manifest for repo %q", repo)
	}
}
