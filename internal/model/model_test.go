package model

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestPinnedManifestKnownRepo(t *testing.T) {
	m, err := PinnedManifest(DefaultRepo)
	if err != nil {
		t.Fatalf("PinnedManifest: %v", err)
	}

	if m.Repo != DefaultRepo {
		t.Fatalf("repo = %q, want %q", m.Repo, DefaultRepo)
	}

	if len(m.Files) == 0 {
		t.Fatal("expected pinned files")
	}

	for _, f := range m.Files {
		if f.Filename == "" || f.Revision == "" {
			t.Fatalf("incomplete pinned file: %+v", f)
		}
	}
}

func TestPinnedManifestUnknownRepo(t *testing.T) {
	if _, err := PinnedManifest("someone/else"); err == nil {
		t.Fatal("expected error for unknown repo")
	}
}

func TestPinnedManifestIsValidBundle(t *testing.T) {
	m, err := PinnedManifest(DefaultRepo)
	if err != nil {
		t.Fatalf("PinnedManifest: %v", err)
	}

	if err := validateBundleLayout(m.Files); err != nil {
		t.Fatalf("pinned manifest fails bundle layout: %v", err)
	}
}

func TestValidateBundleLayoutRejectsStrayFile(t *testing.T) {
	files := []ModelFile{
		{Filename: "onnx/manifest.json", Revision: "r"},
		{Filename: "weights/extra.bin", Revision: "r"},
	}

	if err := validateBundleLayout(files); err == nil {
		t.Fatal("expected error for file outside the bundle layout")
	}
}

func TestValidateBundleLayoutRequiresManifest(t *testing.T) {
	files := []ModelFile{
		{Filename: "onnx/lm_step.onnx", Revision: "r"},
	}

	if err := validateBundleLayout(files); err == nil {
		t.Fatal("expected error when onnx/manifest.json is absent")
	}
}

func TestDownloadRequiresRepoAndOutDir(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	if err := Download(ctx, DownloadOptions{OutDir: t.TempDir(), Logger: logger}); err == nil {
		t.Fatal("expected error for missing repo")
	}

	if err := Download(ctx, DownloadOptions{Repo: DefaultRepo, Logger: logger}); err == nil {
		t.Fatal("expected error for missing out dir")
	}
}

func TestBundleLockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), lockFileName)

	lock := bundleLock{
		Repo: DefaultRepo,
		Files: map[string]lockRecord{
			"onnx/lm_step.onnx": {Revision: "abc", SHA256: "00"},
		},
	}

	if err := writeBundleLock(path, lock); err != nil {
		t.Fatalf("writeBundleLock: %v", err)
	}

	got := readBundleLock(path)
	if got.Repo != DefaultRepo {
		t.Fatalf("repo = %q, want %q", got.Repo, DefaultRepo)
	}

	if got.Files["onnx/lm_step.onnx"].Revision != "abc" {
		t.Fatalf("files = %+v", got.Files)
	}
}

func TestReadBundleLockMissingFile(t *testing.T) {
	got := readBundleLock(filepath.Join(t.TempDir(), "nope.json"))
	if got.Repo != "" {
		t.Fatalf("expected zero lock, got %+v", got)
	}

	if got.Files == nil {
		t.Fatal("expected non-nil Files map on a missing lock")
	}
}

func TestExpectedChecksumPrefersPinnedThenLock(t *testing.T) {
	ctx := context.Background()

	pinned := ModelFile{
		Filename: "onnx/lm_step.onnx",
		Revision: "r1",
		SHA256:   "A3B8C1D2E5F60718293A4B5C6D7E8F90A1B2C3D4E5F60718293A4B5C6D7E8F90",
	}

	got, err := expectedChecksum(ctx, nil, DefaultRepo, pinned, "", bundleLock{})
	if err != nil {
		t.Fatalf("expectedChecksum(pinned): %v", err)
	}

	if got != "a3b8c1d2e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90" {
		t.Fatalf("pinned checksum not lowercased: %q", got)
	}

	lock := bundleLock{Files: map[string]lockRecord{
		"onnx/lm_step.onnx": {
			Revision: "r1",
			SHA256:   "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		},
	}}

	open := ModelFile{Filename: "onnx/lm_step.onnx", Revision: "r1"}

	got, err = expectedChecksum(ctx, nil, DefaultRepo, open, "", lock)
	if err != nil {
		t.Fatalf("expectedChecksum(lock): %v", err)
	}

	if got != lock.Files["onnx/lm_step.onnx"].SHA256 {
		t.Fatalf("expected lock checksum, got %q", got)
	}
}

func TestLocalMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sum, err := fileSHA256(path)
	if err != nil {
		t.Fatalf("fileSHA256: %v", err)
	}

	ok, err := localMatches(path, sum)
	if err != nil {
		t.Fatalf("localMatches: %v", err)
	}

	if !ok {
		t.Fatal("expected checksum match")
	}

	ok, err = localMatches(path, "deadbeef")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}

	ok, err = localMatches(filepath.Join(dir, "missing"), sum)
	if err != nil || ok {
		t.Fatalf("expected missing file to report false, got ok=%v err=%v", ok, err)
	}
}

func TestCountingWriterReportsRunningTotal(t *testing.T) {
	var seen []int64

	w := &countingWriter{fn: func(total int64) { seen = append(seen, total) }}

	for _, chunk := range [][]byte{[]byte("abc"), []byte("de")} {
		n, err := w.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(chunk))
		}
	}

	if len(seen) != 2 || seen[0] != 3 || seen[1] != 5 {
		t.Fatalf("running totals = %v, want [3 5]", seen)
	}
}

func TestNormalizeETag(t *testing.T) {
	cases := map[string]string{
		`"abc"`:   "abc",
		`W/"abc"`: "abc",
		" abc ":   "abc",
	}

	for in, want := range cases {
		if got := normalizeETag(in); got != want {
			t.Fatalf("normalizeETag(%q) = %q, want %q", in, got, want)
		}
	}
}
