package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tetsuo/fmp4remux/remux"
)

// batchConcurrencyLimit bounds how many jobs in a batch run at once —
// the pipeline itself is pure and side-effect free per spec §5's "may run
// in parallel on independent inputs" allowance, but an unbounded fan-out
// still risks memory blowup on a large batch.
const batchConcurrencyLimit = 4

// maxUploadMemory is the multipart parser's in-memory threshold; buffers
// past it spill to temp files, same as net/http's own default.
const maxUploadMemory = 32 << 20

type handler struct {
	logger *slog.Logger
}

// jobOptions is the JSON sidecar accompanying a multipart /v1/jobs upload.
type jobOptions struct {
	AllowTrunDataOffsetFallback bool  `json:"allowTrunDataOffsetFallback"`
	NormalizeAcrossFiles        *bool `json:"normalizeAcrossFiles"`
	DebugFileLimit              int   `json:"debugFileLimit"`
}

// jobRequest is one remux job: ordered input buffers (init segment plus
// fragments, in decode order) and its options.
type jobRequest struct {
	Buffers [][]byte   `json:"buffers"`
	Options jobOptions `json:"options"`
}

type jobResult struct {
	Output                []byte
	IdrTimestamps         []float64
	DiscontinuityDetected bool
}

type batchRequest struct {
	Jobs []jobRequest `json:"jobs"`
}

type batchResultJSON struct {
	Output                []byte    `json:"output,omitempty"`
	IdrTimestamps         []float64 `json:"idrTimestamps,omitempty"`
	DiscontinuityDetected bool      `json:"discontinuityDetected,omitempty"`
	Error                 string    `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchResultJSON `json:"results"`
}

// handleJob accepts a multipart upload of one or more fMP4 buffers (field
// "buffers", repeated, order preserved) plus an optional JSON "options"
// field, runs the pipeline synchronously, and streams back the progressive
// MP4 body with X-Idr-Timestamps / X-Discontinuity-Detected headers.
func (h *handler) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := uuid.New().String()
	logger := h.logger.With("jobId", jobID)

	req, err := parseJobRequest(r)
	if err != nil {
		logger.Warn("bad job request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := runJob(req, logger)
	if err != nil {
		logger.Error("job failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJobResult(w, result)
}

func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]batchResultJSON, len(req.Jobs))

	var g errgroup.Group
	g.SetLimit(batchConcurrencyLimit)

	for i, job := range req.Jobs {
		i, job := i, job
		g.Go(func() error {
			jobID := uuid.New().String()
			logger := h.logger.With("jobId", jobID, "batchIndex", i)

			result, err := runJob(job, logger)
			if err != nil {
				logger.Error("batch job failed", "error", err)
				results[i] = batchResultJSON{Error: err.Error()}
				return nil
			}
			results[i] = batchResultJSON{
				Output:                result.Output,
				IdrTimestamps:         result.IdrTimestamps,
				DiscontinuityDetected: result.DiscontinuityDetected,
			}
			return nil
		})
	}
	_ = g.Wait() // individual job errors are captured per-result, never aborted

	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// parseJobRequest reads a multipart/form-data body: repeated "buffers" file
// parts (order preserved) plus an optional "options" JSON field.
func parseJobRequest(r *http.Request) (jobRequest, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return jobRequest{}, fmt.Errorf("parsing multipart body: %w", err)
	}

	headers := r.MultipartForm.File["buffers"]
	if len(headers) == 0 {
		return jobRequest{}, fmt.Errorf("no buffers uploaded under field %q", "buffers")
	}

	buffers := make([][]byte, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return jobRequest{}, fmt.Errorf("opening upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return jobRequest{}, fmt.Errorf("reading upload %q: %w", fh.Filename, err)
		}
		buffers[i] = data
	}

	req := jobRequest{Buffers: buffers}
	if raw := r.FormValue("options"); raw != "" {
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&req.Options); err != nil {
			return jobRequest{}, fmt.Errorf("decoding options field: %w", err)
		}
	}
	return req, nil
}

func runJob(req jobRequest, logger *slog.Logger) (*jobResult, error) {
	result, err := remux.Flatten(req.Buffers, remux.Options{
		AllowTrunDataOffsetFallback: req.Options.AllowTrunDataOffsetFallback,
		NormalizeAcrossFiles:        req.Options.NormalizeAcrossFiles,
		DebugFileLimit:              req.Options.DebugFileLimit,
		Logger:                      logger,
	})
	if err != nil {
		return nil, err
	}
	return &jobResult{
		Output:                result.Output,
		IdrTimestamps:         result.IdrTimestamps,
		DiscontinuityDetected: result.DiscontinuityDetected,
	}, nil
}

func writeJobResult(w http.ResponseWriter, result *jobResult) {
	timestamps := make([]string, len(result.IdrTimestamps))
	for i, ts := range result.IdrTimestamps {
		timestamps[i] = strconv.FormatFloat(ts, 'f', -1, 64)
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("X-Idr-Timestamps", strings.Join(timestamps, ","))
	w.Header().Set("X-Discontinuity-Detected", strconv.FormatBool(result.DiscontinuityDetected))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Output)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Output)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

