package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/hua2014/VidMuse/internal/config"
	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/safetensors"
	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
	"github.com/hua2014/VidMuse/internal/video"
)

type fixedDecoder struct {
	videoFrames int
}

func (d *fixedDecoder) Generate(
	_ context.Context,
	prompt *tokens.Sequence,
	cond music.Conditioning,
	maxGenLen int,
	_ music.SamplingParams,
	_ music.ProgressFunc,
) (*tokens.Sequence, error) {
	if cond.Video != nil {
		d.videoFrames = int(cond.Video.Frames())
	}

	promptFrames := 0
	if prompt != nil {
		promptFrames = prompt.Frames()
	}

	return tokens.Zeros(1, 4, promptFrames+maxGenLen)
}

func (d *fixedDecoder) GenerateVideoEmbedding(context.Context, music.Conditioning) (*tensor.Tensor, error) {
	return tensor.Zeros([]int64{1, 1, 4})
}

func (d *fixedDecoder) SupportsMelody() bool { return false }

type fixedCodec struct{}

func (fixedCodec) Encode(_ context.Context, wav *tensor.Tensor) (*tokens.Sequence, *tensor.Tensor, error) {
	samples, err := wav.Dim(-1)
	if err != nil {
		return nil, nil, err
	}

	seq, err := tokens.Zeros(1, 4, int(samples)/640)

	return seq, nil, err
}

func (fixedCodec) Decode(_ context.Context, seq *tokens.Sequence, _ *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Zeros([]int64{1, 1, int64(seq.Frames()) * 640})
}

func (fixedCodec) SampleRate() int    { return 32000 }
func (fixedCodec) Channels() int      { return 1 }
func (fixedCodec) FrameRate() float64 { return 50.0 }

func newTestSession(t *testing.T) *music.Session {
	t.Helper()

	session, err := music.NewSession(&fixedDecoder{}, fixedCodec{},
		music.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	return session
}

func TestStart_LifecycleHealthAndShutdown(t *testing.T) {
	// Find an available port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	addr := ln.Addr().String()
	ln.Close() // free it for the server

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = addr

	s := New(cfg, newTestSession(t)).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start(ctx)
	}()

	// Wait for the server to be ready.
	client := &http.Client{Timeout: 2 * time.Second}

	var resp *http.Response

	for range 50 {
		resp, err = client.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	if err != nil {
		t.Fatalf("server never became ready: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d; want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %q; want ok", body["status"])
	}

	// Graceful shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() returned error on shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5s of context cancel")
	}
}

func TestStart_RequiresSession(t *testing.T) {
	s := New(config.DefaultConfig(), nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestSessionGenerator_ProducesWAV(t *testing.T) {
	dec := &fixedDecoder{}

	session, err := music.NewSession(dec, fixedCodec{},
		music.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	featurePath := filepath.Join(t.TempDir(), "features.safetensors")
	if err := safetensors.WriteFile(featurePath, []safetensors.Tensor{{
		Name:  video.LocalTensorName,
		Shape: []int64{1, 3, 20, 2, 2},
		Data:  make([]float32, 240),
	}}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	gen := &sessionGenerator{session: session}

	wav, err := gen.Generate(context.Background(), []string{"driving techno"}, featurePath, 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(wav) == 0 {
		t.Fatal("expected WAV bytes")
	}

	if string(wav[:4]) != "RIFF" {
		t.Fatalf("missing RIFF header, got %q", wav[:4])
	}

	// 10 s at 2 fps: the decoder saw the full 20-frame window.
	if dec.videoFrames != 20 {
		t.Fatalf("video frames = %d, want 20", dec.videoFrames)
	}
}

func TestSessionGenerator_DefaultDurationWhenZero(t *testing.T) {
	session := newTestSession(t)
	gen := &sessionGenerator{session: session}

	wav, err := gen.Generate(context.Background(), []string{"calm piano"}, "", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Default 30 s at 50 frames/s and 640 samples/frame of 16-bit mono PCM.
	wantSamples := 30 * 50 * 640
	if len(wav) < wantSamples*2 {
		t.Fatalf("wav too short: %d bytes", len(wav))
	}
}
