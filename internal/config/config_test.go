package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

type fakeCmd struct {
	fs *pflag.FlagSet
}

func (f *fakeCmd) Flags() *pflag.FlagSet { return f.fs }

func newFakeCmd(t *testing.T) *fakeCmd {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	return &fakeCmd{fs: fs}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Cmd: newFakeCmd(t), Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q, want :8080", cfg.Server.ListenAddr)
	}

	if cfg.Generation.Duration != 30 {
		t.Fatalf("duration = %v, want 30", cfg.Generation.Duration)
	}

	if cfg.Generation.ExtendStride != 29.5 {
		t.Fatalf("extend stride = %v, want 29.5", cfg.Generation.ExtendStride)
	}

	if cfg.Generation.TopK != 250 {
		t.Fatalf("top_k = %d, want 250", cfg.Generation.TopK)
	}

	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	cmd := newFakeCmd(t)
	if err := cmd.fs.Parse([]string{
		"--generation-duration", "60",
		"--server-listen-addr", ":9999",
		"--ort-lib", "/opt/ort/libonnxruntime.so",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: cmd, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Generation.Duration != 60 {
		t.Fatalf("duration = %v, want 60", cfg.Generation.Duration)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Fatalf("listen addr = %q, want :9999", cfg.Server.ListenAddr)
	}

	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("ort library = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VIDMUSE_GENERATION_TOP_K", "64")
	t.Setenv("VIDMUSE_ORT_LIB", "/env/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Cmd: newFakeCmd(t), Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Generation.TopK != 64 {
		t.Fatalf("top_k = %d, want 64", cfg.Generation.TopK)
	}

	if cfg.Runtime.ORTLibraryPath != "/env/libonnxruntime.so" {
		t.Fatalf("ort library = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vidmuse.yaml")

	contents := []byte("generation:\n  duration: 45.5\n  two_step_cfg: true\npaths:\n  onnx_manifest: /models/onnx/manifest.json\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: newFakeCmd(t), ConfigFile: path, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Generation.Duration != 45.5 {
		t.Fatalf("duration = %v, want 45.5", cfg.Generation.Duration)
	}

	if !cfg.Generation.TwoStepCFG {
		t.Fatal("expected two_step_cfg true")
	}

	if cfg.Paths.ONNXManifest != "/models/onnx/manifest.json" {
		t.Fatalf("manifest = %q", cfg.Paths.ONNXManifest)
	}
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	_, err := Load(LoadOptions{
		Cmd:        newFakeCmd(t),
		ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"),
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestGenerationParamsConversion(t *testing.T) {
	g := GenerationConfig{
		Duration:     12,
		ExtendStride: 10,
		UseSampling:  true,
		TopK:         100,
		TopP:         0.9,
		Temperature:  0.8,
		CFGCoef:      2.5,
		TwoStepCFG:   true,
	}

	p := g.Params()
	if p.Duration != 12 || p.ExtendStride != 10 || p.TopK != 100 || p.TopP != 0.9 {
		t.Fatalf("params = %+v", p)
	}

	if !p.UseSampling || !p.TwoStepCFG || p.Temperature != 0.8 || p.CFGCoef != 2.5 {
		t.Fatalf("params = %+v", p)
	}
}
