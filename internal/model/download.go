package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// lockFileName sits next to the downloaded bundle and records the verified
// checksum per file, so later runs can skip files that are already in place.
const lockFileName = "bundle.lock.json"

// bundleManifestName is the graph index the onnx package loads at startup.
const bundleManifestName = "onnx/manifest.json"

// DownloadOptions configure a bundle fetch from the Hugging Face hub.
type DownloadOptions struct {
	Repo    string
	OutDir  string
	HFToken string
	Logger  *slog.Logger
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

type bundleLock struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var (
	shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

	// graphFilePattern matches the ONNX graphs the runtime loads from the
	// bundle directory.
	graphFilePattern = regexp.MustCompile(`^onnx/[a-z0-9_]+\.onnx$`)
)

// validateBundleLayout rejects manifests that stray outside the layout the
// runtime expects: onnx/manifest.json plus the onnx/*.onnx graphs it lists.
func validateBundleLayout(files []ModelFile) error {
	manifestSeen := false

	for _, f := range files {
		switch {
		case f.Filename == bundleManifestName:
			manifestSeen = true
		case graphFilePattern.MatchString(f.Filename):
		default:
			return fmt.Errorf("file %q is outside the bundle layout (%s, onnx/*.onnx)", f.Filename, bundleManifestName)
		}
	}

	if !manifestSeen {
		return fmt.Errorf("bundle has no %s", bundleManifestName)
	}

	return nil
}

// Download fetches the pinned ONNX bundle for a repo into OutDir, verifying
// every file against its sha256 and recording the result in the bundle lock.
// Files whose local copy already matches are skipped.
func Download(ctx context.Context, opts DownloadOptions) error {
	if opts.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	if opts.OutDir == "" {
		return fmt.Errorf("out dir is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manifest, err := PinnedManifest(opts.Repo)
	if err != nil {
		return err
	}

	if err := validateBundleLayout(manifest.Files); err != nil {
		return fmt.Errorf("pinned manifest for %s: %w", opts.Repo, err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(opts.OutDir, lockFileName)
	lock := readBundleLock(lockPath)
	lock.Repo = opts.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	client := &http.Client{Timeout: 0}

	for _, f := range manifest.Files {
		expected, err := expectedChecksum(ctx, client, manifest.Repo, f, opts.HFToken, lock)
		if err != nil {
			return err
		}

		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(f.Filename))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("create local subdir: %w", err)
		}

		ok, err := localMatches(localPath, expected)
		if err != nil {
			return err
		}

		if ok {
			logger.Info("bundle file up to date", "file", f.Filename)
			lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
			continue
		}

		logger.Info("downloading bundle file", "file", f.Filename, "revision", f.Revision)

		actual, err := fetchFile(ctx, client, manifest.Repo, f, opts.HFToken, localPath, logger)
		if err != nil {
			return err
		}

		if actual != expected {
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
		}

		logger.Info("verified bundle file", "file", f.Filename, "sha256", actual)
		lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
	}

	if err := writeBundleLock(lockPath, lock); err != nil {
		return err
	}

	logger.Info("wrote bundle lock", "path", lockPath)

	return nil
}

// expectedChecksum resolves the sha256 a file must match: the pinned value
// when the manifest carries one, the lock record when it covers the same
// revision, otherwise hub metadata.
func expectedChecksum(ctx context.Context, client *http.Client, repo string, f ModelFile, token string, lock bundleLock) (string, error) {
	if f.SHA256 != "" {
		return strings.ToLower(f.SHA256), nil
	}

	if lr, ok := lock.Files[f.Filename]; ok && lr.Revision == f.Revision && isSHA256Hex(lr.SHA256) {
		return strings.ToLower(lr.SHA256), nil
	}

	return hubChecksum(ctx, client, repo, f, token)
}

// localMatches reports whether the file at path already carries the expected
// checksum. A missing file is a plain false, not an error.
func localMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}

	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

// fetchFile streams one bundle file into place via a temp file, hashing as it
// writes. Progress is logged at most every few seconds.
func fetchFile(ctx context.Context, client *http.Client, repo string, file ModelFile, token, outPath string, logger *slog.Logger) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURL(repo, file), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &ErrAccessDenied{
			Repo: repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", repo),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", file.Filename, resp.Status)
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	total := resp.ContentLength
	lastLog := time.Now()

	counter := &countingWriter{fn: func(written int64) {
		if time.Since(lastLog) < 3*time.Second {
			return
		}
		lastLog = time.Now()
		if total > 0 {
			logger.Info("download progress", "file", file.Filename, "percent", fmt.Sprintf("%.1f", float64(written)*100/float64(total)))
		} else {
			logger.Info("download progress", "file", file.Filename, "bytes", written)
		}
	}}

	written, err := io.Copy(io.MultiWriter(fh, h, counter), resp.Body)
	if err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download of %s failed after %d bytes: %w", file.Filename, written, err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// countingWriter reports the running byte total to fn after every write.
type countingWriter struct {
	total int64
	fn    func(total int64)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.total += int64(len(p))
	w.fn(w.total)
	return len(p), nil
}

// hubChecksum resolves a file's sha256 from hub metadata headers when the
// pinned manifest leaves the checksum open.
func hubChecksum(ctx context.Context, client *http.Client, repo string, f ModelFile, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, resolveURL(repo, f), nil)
	if err != nil {
		return "", fmt.Errorf("build metadata request: %w", err)
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &ErrAccessDenied{
			Repo: repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", repo),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("metadata request failed for %s: %s", f.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("unable to resolve sha256 metadata for %s; provide pinned checksum", f.Filename)
}

func resolveURL(repo string, file ModelFile) string {
	return fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s", repo, file.Revision, file.Filename)
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readBundleLock returns the lock next to the bundle, or an empty lock when
// it is missing or unreadable. Files is always non-nil.
func readBundleLock(path string) bundleLock {
	out := bundleLock{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return bundleLock{Files: map[string]lockRecord{}}
	}

	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}

	return out
}

func writeBundleLock(path string, lock bundleLock) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle lock: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write bundle lock: %w", err)
	}
	return nil
}
