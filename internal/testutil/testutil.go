// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    testutil.RequireModelBundle(t, "models/onnx/manifest.json")
//	    ...
//	}
package testutil

import (
	"os"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// VIDMUSE_ORT_LIB env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "VIDMUSE_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or VIDMUSE_ORT_LIB")
}

// RequireModelBundle skips the test if the ONNX graph bundle manifest does not
// exist at the given path. Download one first with `vidmuse model download`.
func RequireModelBundle(tb testing.TB, manifestPath string) {
	tb.Helper()

	if manifestPath == "" {
		manifestPath = "models/onnx/manifest.json"
	}

	if _, err := os.Stat(manifestPath); err != nil {
		tb.Skipf("model bundle not available at %q; run `vidmuse model download` first", manifestPath)
	}
}

// RequireFeatureBundle skips the test if the video feature bundle does not
// exist at the given path.
func RequireFeatureBundle(tb testing.TB, path string) {
	tb.Helper()

	if _, err := os.Stat(path); err != nil {
		tb.Skipf("video feature bundle not available at %q", path)
	}
}
