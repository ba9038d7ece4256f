package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hua2014/VidMuse/internal/audio"
	"github.com/hua2014/VidMuse/internal/config"
	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/video"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Generator produces WAV bytes from text descriptions and a video feature
// bundle on disk. A zero duration selects the generator's default.
type Generator interface {
	Generate(ctx context.Context, descriptions []string, featurePath string, duration float64) ([]byte, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	slots          int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes: 1 << 20,
		// The ONNX runtime session is not re-entrant, so generation
		// requests run one at a time.
		slots:          1,
		requestTimeout: 10 * time.Minute,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes sets the maximum allowed request body size for POST /v1/generate.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithSlots sets the maximum number of concurrent generation calls.
func WithSlots(n int) Option {
	return func(o *options) { o.slots = n }
}

// WithRequestTimeout sets the per-request generation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	gen  Generator
	opts options
	sem  chan struct{} // serializes generation calls
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /healthz and POST /v1/generate.
func NewHandler(gen Generator, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		gen:  gen,
		opts: opts,
		log:  opts.logger,
	}
	if opts.slots > 0 {
		h.sem = make(chan struct{}, opts.slots)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/generate", h.handleGenerate)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type generateRequest struct {
	Descriptions []string `json:"descriptions"`
	FeaturePath  string   `json:"feature_path"`
	Duration     float64  `json:"duration"`
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes)

	var req generateRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if len(req.Descriptions) == 0 {
		writeError(w, http.StatusBadRequest, "descriptions field is required")
		return
	}

	if req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	// Acquire a generation slot — honour context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			// slot acquired
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for a generation slot")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, err := h.gen.Generate(ctx, req.Descriptions, req.FeaturePath, req.Duration)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			h.log.WarnContext(r.Context(), "generation timed out",
				slog.Int("descriptions", len(req.Descriptions)),
				slog.Float64("duration_s", req.Duration),
				slog.Int64("elapsed_ms", durationMS),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusGatewayTimeout, "generation timed out")
		case errors.Is(err, music.ErrConfiguration),
			errors.Is(err, music.ErrShapeMismatch),
			errors.Is(err, music.ErrUnsupportedFeature),
			errors.Is(err, music.ErrPromptTooLong):
			h.log.WarnContext(r.Context(), "generation rejected",
				slog.Int("descriptions", len(req.Descriptions)),
				slog.Float64("duration_s", req.Duration),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.ErrorContext(r.Context(), "generation failed",
				slog.Int("descriptions", len(req.Descriptions)),
				slog.Float64("duration_s", req.Duration),
				slog.Int64("elapsed_ms", durationMS),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.log.InfoContext(r.Context(), "generation complete",
		slog.Int("descriptions", len(req.Descriptions)),
		slog.Float64("duration_s", req.Duration),
		slog.Int64("elapsed_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	session         *music.Session
	shutdownTimeout time.Duration
}

func New(cfg config.Config, session *music.Session) *Server {
	return &Server{
		cfg:             cfg,
		session:         session,
		shutdownTimeout: 30 * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if s.session == nil {
		return fmt.Errorf("server: generation session is required")
	}

	h := NewHandler(&sessionGenerator{session: s.session})

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/healthz") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

// sessionGenerator adapts a music.Session to the Generator interface.
type sessionGenerator struct {
	session *music.Session
}

func (g *sessionGenerator) Generate(ctx context.Context, descriptions []string, featurePath string, duration float64) ([]byte, error) {
	session := g.session

	if duration > 0 && duration != session.Params().Duration {
		p := session.Params()
		p.Duration = duration

		derived, err := session.Derive(p)
		if err != nil {
			return nil, err
		}
		session = derived
	}

	var cond *music.VideoConditioning

	if featurePath != "" {
		loaded, err := video.LoadConditioning(featurePath, 0)
		if err != nil {
			return nil, err
		}
		cond = loaded
	}

	wav, err := session.Generate(ctx, descriptions, cond)
	if err != nil {
		return nil, err
	}

	return audio.EncodeWAV(wav.Data())
}
