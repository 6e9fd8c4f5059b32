package api

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/saveenergy/rtpscope/internal/analysis"
	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/internal/logging"
	"github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	defaultMaxUploadBytes = 64 << 20
	maxRateWindow         = time.Minute
)

// LogStore persists uploaded logs.
type LogStore interface {
	Save(ctx context.Context, name string, raw []byte) (types.LogInfo, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Notifier is told about logs added through the API.
type Notifier interface {
	BroadcastLogAdded(info types.LogInfo)
}

type Handler struct {
	analyzer       *analysis.Analyzer
	store          LogStore
	notifier       Notifier
	maxUploadBytes int64
	version        string
}

func NewHandler(analyzer *analysis.Analyzer) *Handler {
	return &Handler{
		analyzer:       analyzer,
		maxUploadBytes: defaultMaxUploadBytes,
	}
}

// SetStore enables uploads and deletes. Without a store those routes are
// not registered.
func (h *Handler) SetStore(store LogStore) {
	h.store = store
}

func (h *Handler) SetNotifier(n Notifier) {
	h.notifier = n
}

func (h *Handler) SetMaxUploadBytes(n int64) {
	if n > 0 {
		h.maxUploadBytes = n
	}
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
}

type LogsResponse struct {
	Logs []types.LogInfo `json:"logs"`
}

type UploadResponse struct {
	Log        types.LogInfo `json:"log"`
	EventCount int           `json:"event_count"`
	ReportURL  string        `json:"report_url"`
}

// ErrorResponse is the body of every non-2xx JSON response. Code, Line and
// Field are set for log load failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Line  int    `json:"line,omitempty"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version := h.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, VersionResponse{Version: version}, http.StatusOK)
}

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	infos, err := h.analyzer.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, LogsResponse{Logs: infos}, http.StatusOK)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request, id string) {
	window, err := parseWindow(r)
	if err != nil {
		respondJSON(w, ErrorResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	}
	res, err := h.analyzer.Analyze(r.Context(), id, window)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request, id string) {
	window, err := parseWindow(r)
	if err != nil {
		respondJSON(w, ErrorResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	}
	series, err := h.analyzer.Series(r.Context(), id, r.PathValue("name"), window)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, series, http.StatusOK)
}

// UploadLog validates a raw JSONL body by decoding it in full, then stores
// the bytes unchanged.
func (h *Handler) UploadLog(w http.ResponseWriter, r *http.Request) {
	if !isLogContentType(r) {
		drainRequestBody(r)
		respondJSON(w, ErrorResponse{Error: "Content-Type must be application/x-ndjson or text/plain"}, http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if stdErrors.As(err, &maxErr) {
			respondJSON(w, ErrorResponse{Error: "request body too large"}, http.StatusRequestEntityTooLarge)
			return
		}
		respondJSON(w, ErrorResponse{Error: "failed to read request body"}, http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		respondJSON(w, ErrorResponse{Error: "log is empty"}, http.StatusBadRequest)
		return
	}

	events, err := eventlog.Decode(r.Context(), bytes.NewReader(raw))
	if err != nil {
		respondError(w, err)
		return
	}

	info, err := h.store.Save(r.Context(), r.URL.Query().Get("name"), raw)
	if err != nil {
		logging.Warn("upload: save failed", logging.Err(err))
		respondJSON(w, ErrorResponse{Error: "failed to save log"}, http.StatusInternalServerError)
		return
	}

	logging.Info("log uploaded",
		logging.String("id", info.ID),
		logging.String("name", info.Name),
		logging.Int("events", len(events)))

	if h.notifier != nil {
		h.notifier.BroadcastLogAdded(info)
	}

	respondJSON(w, UploadResponse{
		Log:        info,
		EventCount: len(events),
		ReportURL:  "/api/v1/logs/" + info.ID + "/report",
	}, http.StatusCreated)
}

func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		logging.Warn("delete: store failed", logging.Err(err))
		respondJSON(w, ErrorResponse{Error: "failed to delete log"}, http.StatusInternalServerError)
		return
	}
	if !deleted {
		respondError(w, errors.ErrLogNotFound(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseWindow(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxRateWindow {
		return 0, stdErrors.New("window must be a duration in (0, 1m], e.g. 200ms")
	}
	return d, nil
}

func isLogContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/x-ndjson", "application/jsonl", "application/json", "text/plain":
		return true
	}
	return false
}

func drainRequestBody(r *http.Request) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed", logging.Err(err))
	}
}

// respondError maps analysis and load failures onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	var loadErr *errors.LoadError
	switch {
	case stdErrors.As(err, &loadErr):
		respondJSON(w, ErrorResponse{
			Error: loadErr.Error(),
			Code:  loadErr.Code,
			Line:  loadErr.Line,
			Field: loadErr.Field,
		}, loadErrorStatus(loadErr.Code))
	case stdErrors.Is(err, analysis.ErrUnknownSeries):
		respondJSON(w, ErrorResponse{Error: err.Error()}, http.StatusNotFound)
	case stdErrors.Is(err, context.DeadlineExceeded):
		respondJSON(w, ErrorResponse{Error: "analysis timed out"}, http.StatusGatewayTimeout)
	case stdErrors.Is(err, context.Canceled):
		respondJSON(w, ErrorResponse{Error: "request canceled"}, http.StatusServiceUnavailable)
	default:
		logging.Error("request failed", logging.Err(err))
		respondJSON(w, ErrorResponse{Error: "internal error"}, http.StatusInternalServerError)
	}
}

func loadErrorStatus(code string) int {
	switch code {
	case errors.ErrCodeLogNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidLogID:
		return http.StatusBadRequest
	case errors.ErrCodeMalformedRecord, errors.ErrCodeMissingField, errors.ErrCodeInvalidField:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
