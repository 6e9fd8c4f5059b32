// Package mcp implements the `rtpscope mcp` subcommand: an MCP (Model Context
// Protocol) server over stdio. Agents spawn this process and call analysis
// tools directly, against a local log directory or a running server.
package mcp

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/rtpscope/internal/analysis"
	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/pkg/client"
	"github.com/saveenergy/rtpscope/pkg/diagnostic"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	toolTimeout = 60 * time.Second
	maxWindow   = time.Minute
)

// backend is what the tools need from either a local analyzer or a server.
type backend interface {
	ListLogs(ctx context.Context) ([]types.LogInfo, error)
	Report(ctx context.Context, id string, opts client.ReportOptions) (*client.Result, error)
	Series(ctx context.Context, id, name string, opts client.ReportOptions) (*types.Series, error)
}

type localBackend struct {
	analyzer *analysis.Analyzer
}

func (b *localBackend) ListLogs(ctx context.Context) ([]types.LogInfo, error) {
	return b.analyzer.List(ctx)
}

func (b *localBackend) Report(ctx context.Context, id string, opts client.ReportOptions) (*client.Result, error) {
	res, err := b.analyzer.Analyze(ctx, id, opts.Window)
	if err != nil {
		return nil, err
	}
	return &client.Result{Report: res.Report, Interpretation: res.Interpretation}, nil
}

func (b *localBackend) Series(ctx context.Context, id, name string, opts client.ReportOptions) (*types.Series, error) {
	return b.analyzer.Series(ctx, id, name, opts.Window)
}

// tools resolves a backend per call: a server_url argument wins over the
// process defaults.
type tools struct {
	logDir    string
	serverURL string
	apiKey    string
	local     *localBackend
}

func newTools(logDir, serverURL, apiKey string) *tools {
	t := &tools{logDir: logDir, serverURL: serverURL, apiKey: apiKey}
	if logDir != "" {
		t.local = &localBackend{analyzer: analysis.New(analysis.Options{}, eventlog.NewDirSource(logDir))}
	}
	return t
}

func (t *tools) backendFor(req mcp.CallToolRequest) (backend, error) {
	serverURL := strings.TrimSpace(req.GetString("server_url", t.serverURL))
	if serverURL != "" {
		return clientFromRequest(serverURL, t.apiKey, req), nil
	}
	if t.local == nil {
		return nil, fmt.Errorf("no log directory configured; pass server_url or start with --log-dir")
	}
	return t.local, nil
}

func clientFromRequest(serverURL, defaultKey string, req mcp.CallToolRequest) *client.Client {
	key := strings.TrimSpace(req.GetString("api_key", defaultKey))
	if key == "" {
		return client.New(serverURL)
	}
	return client.New(serverURL, client.WithAPIKey(key))
}

// Run starts the MCP stdio server. Blocks until stdin closes.
func Run(args []string, version string) int {
	fs := flag.NewFlagSet("rtpscope mcp", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	logDir := fs.String("log-dir", envOr("LOG_DIR", "./logs"), "Directory of JSONL logs")
	serverURL := fs.String("server-url", "", "Default rtpscope server (overrides --log-dir)")
	apiKey := fs.String("api-key", "", "Default API key for the server")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s := newServer(newTools(*logDir, *serverURL, *apiKey), version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "rtpscope mcp: error: %v\n", err)
		return 1
	}
	return 0
}

func newServer(t *tools, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"rtpscope",
		version,
		server.WithToolCapabilities(true),
	)
	handlers := map[string]server.ToolHandlerFunc{
		"list_logs":   t.handleListLogs,
		"analyze_log": t.handleAnalyzeLog,
		"get_series":  t.handleGetSeries,
	}
	for _, tool := range ToolDefinitions() {
		s.AddTool(tool, handlers[tool.Name])
	}
	return s
}

// ToolDefinitions returns the tools the server exposes.
func ToolDefinitions() []mcp.Tool {
	common := []mcp.ToolOption{
		mcp.WithString("server_url",
			mcp.Description("rtpscope server URL. Omit to analyze the local log directory."),
		),
		mcp.WithString("api_key",
			mcp.Description("Optional API key for the server"),
		),
	}
	withCommon := func(opts ...mcp.ToolOption) []mcp.ToolOption {
		return append(append([]mcp.ToolOption{}, opts...), common...)
	}

	return []mcp.Tool{
		mcp.NewTool("list_logs", withCommon(
			mcp.WithDescription("List the RTP telemetry logs available for analysis, with their ids, sources and sizes."),
		)...),
		mcp.NewTool("analyze_log", withCommon(
			mcp.WithDescription("Analyze one RTP telemetry log. Returns send/receive/target rate, one-way delay and loss series, summary statistics (packets, loss fraction, delay percentiles, jitter, average rates) and a graded interpretation with concerns."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Log id as returned by list_logs")),
			mcp.WithString("window", mcp.Description("Rate window, e.g. 200ms or 1s (default: 1s)")),
			mcp.WithBoolean("summary_only", mcp.Description("Omit series points and return only summary and interpretation (default: true)")),
		)...),
		mcp.NewTool("get_series", withCommon(
			mcp.WithDescription("Return the points of one series of a log: send-rate, receive-rate, target-rate (Mbps), delay (ms) or loss (fraction)."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Log id as returned by list_logs")),
			mcp.WithString("series", mcp.Required(), mcp.Description("Series name"), mcp.Enum(types.SeriesNames...)),
			mcp.WithString("window", mcp.Description("Rate window, e.g. 200ms or 1s (default: 1s)")),
		)...),
	}
}

func (t *tools) handleListLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b, err := t.backendFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	logs, err := b.ListLogs(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Listing logs failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"logs": logs})
}

func (t *tools) handleAnalyzeLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts, err := reportOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := t.backendFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	res, err := b.Report(ctx, id, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}
	if req.GetBool("summary_only", true) {
		return jsonResult(summarize(res))
	}
	return jsonResult(res)
}

func (t *tools) handleGetSeries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("series")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts, err := reportOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := t.backendFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	series, err := b.Series(ctx, id, name, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Series failed: %v", err)), nil
	}
	return jsonResult(series)
}

// summaryResult is analyze_log's compact answer: everything but the points.
type summaryResult struct {
	LogID          string                     `json:"log_id"`
	EventCount     int                        `json:"event_count"`
	RateWindow     string                     `json:"rate_window"`
	Summary        types.Summary              `json:"summary"`
	SeriesPoints   map[string]int             `json:"series_points"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

func summarize(res *client.Result) summaryResult {
	out := summaryResult{
		LogID:          res.Report.LogID,
		EventCount:     res.Report.EventCount,
		RateWindow:     res.Report.RateWindow.String(),
		Summary:        res.Report.Summary,
		SeriesPoints:   make(map[string]int, len(res.Report.Series)),
		Interpretation: res.Interpretation,
	}
	for _, s := range res.Report.Series {
		out.SeriesPoints[s.Name] = s.Len()
	}
	return out
}

func reportOptions(req mcp.CallToolRequest) (client.ReportOptions, error) {
	raw := strings.TrimSpace(req.GetString("window", ""))
	if raw == "" {
		return client.ReportOptions{}, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxWindow {
		return client.ReportOptions{}, fmt.Errorf("window must be a duration in (0, %v], got %q", maxWindow, raw)
	}
	return client.ReportOptions{Window: d}, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
