// Package handlers implements the HTTP API: sketch-to-image generation,
// health, artifact downloads, and the recent-activity view.
package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sketchlab/sketchgen/internal/activity"
	"github.com/sketchlab/sketchgen/internal/config"
	"github.com/sketchlab/sketchgen/internal/metrics"
	"github.com/sketchlab/sketchgen/internal/model"
	"github.com/sketchlab/sketchgen/internal/ratelimiter"
	"github.com/sketchlab/sketchgen/internal/transform"
)

// maxRequestBytes caps the /generate body. Sketches are small images; this
// leaves generous headroom for base64 inflation.
const maxRequestBytes = 32 << 20

// Debug dump filenames, overwritten on every request.
const (
	debugProcessedInput = "processed_input.png"
	debugModelInput     = "debug_input.png"
	debugFinalOutput    = "final_output.png"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Generator runs one normalized sketch tensor through the network. It is
// satisfied by *model.Generator.
type Generator interface {
	Generate(input []float32) ([]float32, error)
	Meta() model.Metadata
}

type Handler struct {
	gen      Generator
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	activity *activity.Store
	limiter  *ratelimiter.Limiter
}

// NewHandler wires the API handlers. store and limiter may be nil when the
// corresponding feature is disabled.
func NewHandler(gen Generator, cfg config.Config, logger *zap.Logger, collector *metrics.Collector,
	store *activity.Store, limiter *ratelimiter.Limiter) *Handler {
	return &Handler{
		gen:      gen,
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		activity: store,
		limiter:  limiter,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/generate", h.Generate)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/download_checkpoint", h.DownloadCheckpoint)
	mux.HandleFunc("/download_torchscript", h.DownloadTorchScript)
	mux.HandleFunc("/activity", h.Activity)
}

// Generate runs the full pipeline for one sketch: decode the base64 image,
// normalize it to the network input, run inference, and return the result
// as base64 PNG. Every pipeline failure maps to a 500 with the error
// message in the body.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	const route = "/generate"
	if r.Method != http.MethodPost {
		h.count(route, http.StatusMethodNotAllowed)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.limiter.Allow(ratelimiter.ClientKey(r), time.Now()) {
		h.metrics.RateLimited.Inc()
		h.count(route, http.StatusTooManyRequests)
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reqID := uuid.NewString()
	start := time.Now()
	var body []byte

	fail := func(stage string, err error) {
		elapsed := time.Since(start)
		h.metrics.GenerateErrors.WithLabelValues(stage).Inc()
		h.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		h.count(route, http.StatusInternalServerError)
		h.logger.Error("generation failed",
			zap.String("request_id", reqID),
			zap.String("stage", stage),
			zap.Error(err))
		h.recordActivity(r, activity.Entry{
			At:         start.UTC(),
			RequestID:  reqID,
			Status:     activity.StatusError,
			Error:      err.Error(),
			DurationMS: elapsed.Seconds() * 1000,
			InputBytes: int64(len(body)),
		})
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		fail(metrics.StageDecode, fmt.Errorf("read request body: %w", err))
		return
	}

	var req model.GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fail(metrics.StageDecode, fmt.Errorf("invalid json body: %w", err))
		return
	}

	res, serr := h.run(req, reqID)
	if serr != nil {
		fail(serr.stage, serr.err)
		return
	}

	elapsed := time.Since(start)
	res.timings.observe(h.metrics)
	h.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	h.count(route, http.StatusOK)
	h.logger.Info("sketch generated",
		zap.String("request_id", reqID),
		zap.Int("input_width", res.inputW),
		zap.Int("input_height", res.inputH),
		zap.Int64("png_bytes", res.outputBytes),
		zap.Duration("elapsed", elapsed))
	h.recordActivity(r, activity.Entry{
		At:          start.UTC(),
		RequestID:   reqID,
		Status:      activity.StatusOK,
		DurationMS:  elapsed.Seconds() * 1000,
		InputBytes:  int64(len(body)),
		OutputBytes: res.outputBytes,
		InputWidth:  res.inputW,
		InputHeight: res.inputH,
	})
	writeJSON(w, http.StatusOK, model.GenerateResponse{GeneratedImage: res.image})
}

// stageError tags a pipeline failure with the stage that produced it.
type stageError struct {
	stage string
	err   error
}

type genResult struct {
	image       string
	outputBytes int64
	inputW      int
	inputH      int
	timings     stageTimings
}

type stageTimings struct {
	decode      time.Duration
	preprocess  time.Duration
	inference   time.Duration
	postprocess time.Duration
	encode      time.Duration
}

func (t stageTimings) observe(c *metrics.Collector) {
	c.StageDuration.WithLabelValues(metrics.StageDecode).Observe(t.decode.Seconds())
	c.StageDuration.WithLabelValues(metrics.StagePreprocess).Observe(t.preprocess.Seconds())
	c.StageDuration.WithLabelValues(metrics.StageInference).Observe(t.inference.Seconds())
	c.StageDuration.WithLabelValues(metrics.StagePostprocess).Observe(t.postprocess.Seconds())
	c.StageDuration.WithLabelValues(metrics.StageEncode).Observe(t.encode.Seconds())
}

// run executes the pipeline stages for one decoded request.
func (h *Handler) run(req model.GenerateRequest, reqID string) (*genResult, *stageError) {
	meta := h.gen.Meta()
	res := &genResult{}

	stageStart := time.Now()
	raw, err := base64.StdEncoding.DecodeString(fixBase64Padding(req.Sketch))
	if err != nil {
		return nil, &stageError{metrics.StageDecode, fmt.Errorf("decode base64 sketch: %w", err)}
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &stageError{metrics.StageDecode, fmt.Errorf("decode sketch image: %w", err)}
	}
	res.timings.decode = time.Since(stageStart)
	bounds := img.Bounds()
	res.inputW, res.inputH = bounds.Dx(), bounds.Dy()

	h.saveDebugImage(debugProcessedInput, img)

	stageStart = time.Now()
	input, err := transform.Preprocess(img, meta.ImageSize, meta.NChannels)
	if err != nil {
		return nil, &stageError{metrics.StagePreprocess, err}
	}
	res.timings.preprocess = time.Since(stageStart)

	if h.cfg.Debug.SaveImages {
		if dbg, err := transform.Postprocess(input, meta.ImageSize, meta.NChannels); err == nil {
			h.saveDebugImage(debugModelInput, dbg)
		}
	}

	stageStart = time.Now()
	output, err := h.gen.Generate(input)
	if err != nil {
		return nil, &stageError{metrics.StageInference, err}
	}
	res.timings.inference = time.Since(stageStart)

	stageStart = time.Now()
	outImg, err := transform.Postprocess(output, meta.ImageSize, meta.NClasses)
	if err != nil {
		return nil, &stageError{metrics.StagePostprocess, err}
	}
	res.timings.postprocess = time.Since(stageStart)

	h.saveDebugImage(debugFinalOutput, outImg)

	stageStart = time.Now()
	png, err := transform.EncodePNG(outImg)
	if err != nil {
		return nil, &stageError{metrics.StageEncode, err}
	}
	res.image = base64.StdEncoding.EncodeToString(png)
	res.outputBytes = int64(len(png))
	res.timings.encode = time.Since(stageStart)

	h.logger.Debug("pipeline complete",
		zap.String("request_id", reqID),
		zap.String("input_format", format),
		zap.Int("input_width", res.inputW),
		zap.Int("input_height", res.inputH))

	return res, nil
}

// Health reports the loaded model's identity and channel counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	const route = "/health"
	if r.Method != http.MethodGet {
		h.count(route, http.StatusMethodNotAllowed)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	meta := h.gen.Meta()
	h.count(route, http.StatusOK)
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:    "ok",
		Model:     meta.Name,
		NChannels: meta.NChannels,
		NClasses:  meta.NClasses,
	})
}

// DownloadCheckpoint serves the raw training checkpoint as an attachment.
func (h *Handler) DownloadCheckpoint(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, "/download_checkpoint", h.cfg.Model.CheckpointPath, "Checkpoint not found")
}

// DownloadTorchScript serves the TorchScript export as an attachment.
func (h *Handler) DownloadTorchScript(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, "/download_torchscript", h.cfg.Model.TorchScriptPath, "TorchScript model not found")
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request, route, path, notFound string) {
	if r.Method != http.MethodGet {
		h.count(route, http.StatusMethodNotAllowed)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := os.Stat(path)
	if path == "" || err != nil || st.IsDir() {
		h.count(route, http.StatusNotFound)
		h.writeError(w, http.StatusNotFound, notFound)
		return
	}
	h.count(route, http.StatusOK)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// Activity returns the most recent generation log entries, newest first.
// When recording is disabled the result is an empty list, not an error.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	const route = "/activity"
	if r.Method != http.MethodGet {
		h.count(route, http.StatusMethodNotAllowed)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.count(route, http.StatusBadRequest)
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	entries, err := h.activity.Recent(r.Context(), limit)
	if err != nil {
		h.count(route, http.StatusInternalServerError)
		h.logger.Error("read activity", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read activity log")
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	h.count(route, http.StatusOK)
	writeJSON(w, http.StatusOK, entries)
}

// saveDebugImage writes one of the fixed-name debug dumps. Failures are
// logged and otherwise ignored; dumps must never fail a request.
func (h *Handler) saveDebugImage(name string, img image.Image) {
	if !h.cfg.Debug.SaveImages || h.cfg.Debug.Dir == "" {
		return
	}
	data, err := transform.EncodePNG(img)
	if err != nil {
		h.logger.Warn("encode debug image", zap.String("name", name), zap.Error(err))
		return
	}
	path := filepath.Join(h.cfg.Debug.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		h.logger.Warn("write debug image", zap.String("path", path), zap.Error(err))
	}
}

func (h *Handler) recordActivity(r *http.Request, e activity.Entry) {
	if err := h.activity.Record(r.Context(), e); err != nil {
		h.logger.Warn("record activity", zap.Error(err))
	}
}

func (h *Handler) count(route string, status int) {
	h.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fixBase64Padding appends the "=" characters a client may have stripped.
// Standard decoding rejects unpadded input otherwise.
func fixBase64Padding(s string) string {
	if n := len(s) % 4; n != 0 {
		return s + strings.Repeat("=", 4-n)
	}
	return s
}
