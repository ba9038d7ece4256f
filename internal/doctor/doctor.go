// Package doctor provides environment preflight checks for vidmuse.
package doctor

import (
	"fmt"
	"io"
	"os"

	"github.com/hua2014/VidMuse/internal/onnx"
	"github.com/hua2014/VidMuse/internal/safetensors"
	"github.com/hua2014/VidMuse/internal/video"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds the paths each doctor check inspects.
type Config struct {
	// ORTLibraryPath is the ONNX Runtime shared library to verify on disk.
	ORTLibraryPath string
	// ManifestPath is the ONNX graph bundle manifest to load and validate.
	ManifestPath string
	// FeaturePaths is an optional list of video feature bundles to verify.
	FeaturePaths []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime library ----------------------------------------------
	if cfg.ORTLibraryPath == "" {
		res.fail("onnxruntime library: no path configured (set --ort-lib or ORT_LIBRARY_PATH)")
		fmt.Fprintf(w, "%s onnxruntime library: no path configured\n", FailMark)
	} else if _, err := os.Stat(cfg.ORTLibraryPath); err != nil {
		res.fail(fmt.Sprintf("onnxruntime library %q: %v", cfg.ORTLibraryPath, err))
		fmt.Fprintf(w, "%s onnxruntime library %s: not found\n", FailMark, cfg.ORTLibraryPath)
	} else {
		fmt.Fprintf(w, "%s onnxruntime library: %s\n", PassMark, cfg.ORTLibraryPath)
	}

	// ---- graph bundle manifest ----------------------------------------------
	if cfg.ManifestPath == "" {
		res.fail("graph manifest: no path configured")
		fmt.Fprintf(w, "%s graph manifest: no path configured\n", FailMark)
	} else if mgr, err := onnx.NewSessionManager(cfg.ManifestPath); err != nil {
		res.fail(fmt.Sprintf("graph manifest %q: %v", cfg.ManifestPath, err))
		fmt.Fprintf(w, "%s graph manifest %s: %v\n", FailMark, cfg.ManifestPath, err)
	} else {
		fmt.Fprintf(w, "%s graph manifest: %s (%d graphs)\n", PassMark, cfg.ManifestPath, len(mgr.Sessions()))
	}

	// ---- video feature bundles ----------------------------------------------
	for _, path := range cfg.FeaturePaths {
		if err := checkFeatureBundle(path); err != nil {
			res.fail(fmt.Sprintf("feature bundle %q: %v", path, err))
			fmt.Fprintf(w, "%s feature bundle %s: %v\n", FailMark, path, err)
		} else {
			fmt.Fprintf(w, "%s feature bundle: %s\n", PassMark, path)
		}
	}

	return res
}

func checkFeatureBundle(path string) error {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if !store.Has(video.LocalTensorName) {
		return fmt.Errorf("missing tensor %q", video.LocalTensorName)
	}

	return nil
}
