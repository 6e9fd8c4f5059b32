package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/saveenergy/rtpscope/internal/analysis"
	"github.com/saveenergy/rtpscope/internal/api"
	"github.com/saveenergy/rtpscope/internal/config"
	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/internal/logstore"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const callLog = `{"time":"2026-03-01T12:00:00.000Z","msg":"rtp","vantage-point":"sender","unwrapped-sequence-number":1,"payload-size":1000}
{"time":"2026-03-01T12:00:00.010Z","msg":"rtp","vantage-point":"receiver","unwrapped-sequence-number":1,"payload-size":1000}
{"time":"2026-03-01T12:00:00.500Z","msg":"rtp","vantage-point":"sender","unwrapped-sequence-number":2,"payload-size":1000}
{"time":"2026-03-01T12:00:00.600Z","msg":"setting codec target bitrate","rate":16000}
`

type recordingNotifier struct {
	mu    sync.Mutex
	added []types.LogInfo
}

func (n *recordingNotifier) BroadcastLogAdded(info types.LogInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, info)
}

type testServer struct {
	handler  http.Handler
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "call.jsonl"), []byte(callLog), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.jsonl"), []byte(callLog+`{"msg":"rtp","time":"2026-03-01T12:00:01Z"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://plots.example.com"}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := logstore.New(filepath.Join(t.TempDir(), "logs.db"), cfg.MaxStoredLogs)
	if err != nil {
		t.Fatalf("logstore: %v", err)
	}
	t.Cleanup(store.Close)

	analyzer := analysis.New(analysis.Options{}, eventlog.NewDirSource(dir), store)
	handler := api.NewHandler(analyzer)
	handler.SetVersion("1.2.3")
	handler.SetStore(store)
	notifier := &recordingNotifier{}
	handler.SetNotifier(notifier)

	router := api.NewRouter(handler, cfg)
	router.SetRateLimiter(cfg)
	return &testServer{handler: router.SetupRoutes(), notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}

	rec = s.do(t, "GET", "/api/v1/version", "", nil)
	var v api.VersionResponse
	decode(t, rec, &v)
	if v.Version != "1.2.3" {
		t.Fatalf("version = %q", v.Version)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestListLogs(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, "GET", "/api/v1/logs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp api.LogsResponse
	decode(t, rec, &resp)
	if len(resp.Logs) != 2 || resp.Logs[0].ID != "broken" || resp.Logs[1].ID != "call" {
		t.Fatalf("logs = %+v", resp.Logs)
	}
}

func TestGetReport(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, "GET", "/api/v1/logs/call/report", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var res analysis.Result
	decode(t, rec, &res)
	if res.Report == nil || res.Report.LogID != "call" || len(res.Report.Series) != len(types.SeriesNames) {
		t.Fatalf("report = %+v", res.Report)
	}
	if res.Report.Summary.PacketsSent != 2 || res.Interpretation == nil {
		t.Fatalf("summary = %+v interp = %+v", res.Report.Summary, res.Interpretation)
	}
}

func TestGetReportErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "GET", "/api/v1/logs/nope/report", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}

	rec = s.do(t, "GET", "/api/v1/logs/broken/report", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("broken status = %d", rec.Code)
	}
	var e api.ErrorResponse
	decode(t, rec, &e)
	if e.Code != "MISSING_FIELD" || e.Line != 5 || e.Field != "vantage-point" {
		t.Fatalf("error = %+v", e)
	}

	rec = s.do(t, "GET", "/api/v1/logs/call/report?window=soon", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad window status = %d", rec.Code)
	}

	rec = s.do(t, "GET", "/api/v1/logs/a..b/report", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestGetSeries(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "GET", "/api/v1/logs/call/series/send-rate?window=500ms", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var series types.Series
	decode(t, rec, &series)
	if series.Name != types.SeriesSendRate || series.Len() != 2 {
		t.Fatalf("series = %+v", series)
	}

	rec = s.do(t, "GET", "/api/v1/logs/call/series/jitter", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series status = %d", rec.Code)
	}
}

func TestUploadLog(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/v1/logs?name=lab.jsonl", callLog, map[string]string{"Content-Type": "application/x-ndjson"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var up api.UploadResponse
	decode(t, rec, &up)
	if up.Log.Name != "lab.jsonl" || up.Log.Source != "store" || up.EventCount != 4 {
		t.Fatalf("upload = %+v", up)
	}
	if len(s.notifier.added) != 1 || s.notifier.added[0].ID != up.Log.ID {
		t.Fatalf("notifier = %+v", s.notifier.added)
	}

	rec = s.do(t, "GET", up.ReportURL, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}

	rec = s.do(t, "GET", "/api/v1/logs", "", nil)
	var list api.LogsResponse
	decode(t, rec, &list)
	if len(list.Logs) != 3 {
		t.Fatalf("logs after upload = %+v", list.Logs)
	}

	rec = s.do(t, "DELETE", "/api/v1/logs/"+up.Log.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = s.do(t, "DELETE", "/api/v1/logs/"+up.Log.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestUploadRejects(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.MaxUploadBytes = 256 })

	rec := s.do(t, "POST", "/api/v1/logs", `{"msg":"rtp"}`+"\n", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid log status = %d", rec.Code)
	}

	rec = s.do(t, "POST", "/api/v1/logs", callLog, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize status = %d", rec.Code)
	}

	rec = s.do(t, "POST", "/api/v1/logs", "x", map[string]string{"Content-Type": "image/png"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content type status = %d", rec.Code)
	}

	rec = s.do(t, "POST", "/api/v1/logs", "\n\n", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty status = %d", rec.Code)
	}

	if len(s.notifier.added) != 0 {
		t.Fatalf("notifier fired for rejected uploads: %+v", s.notifier.added)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "OPTIONS", "/api/v1/logs", "", map[string]string{"Origin": "https://plots.example.com"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://plots.example.com" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = s.do(t, "OPTIONS", "/api/v1/logs", "", map[string]string{"Origin": "https://evil.test"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimitPerIP = 2
		c.GlobalRateLimit = 10
	})
	for i := 0; i < 2; i++ {
		if rec := s.do(t, "GET", "/api/v1/version", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if rec := s.do(t, "GET", "/api/v1/version", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third status = %d, want 429", rec.Code)
	}
	if rec := s.do(t, "GET", "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", rec.Code)
	}
}
