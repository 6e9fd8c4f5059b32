// Package analyze implements the `rtpscope analyze` subcommand: offline
// analysis of a log file or directory, or of a log held by a remote server.
package analyze

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/saveenergy/rtpscope/internal/analysis"
	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/pkg/client"
	"github.com/saveenergy/rtpscope/pkg/types"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var errNoLogs = errors.New("no logs found")

const (
	minTimeout = time.Second
	maxTimeout = 10 * time.Minute
	maxWindow  = time.Minute
)

type options struct {
	jsonOut   bool
	plain     bool
	noColor   bool
	strict    bool
	list      bool
	series    string
	window    time.Duration
	timeout   time.Duration
	serverURL string
	apiKey    string
	target    string
}

// Run is the CLI entrypoint.
func Run(args []string, version string) int {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	return run(args, os.Stdout, os.Stderr, isTTY)
}

func run(args []string, stdout, stderr io.Writer, isTTY bool) int {
	opts, code, ok := parseFlags(args, stdout, stderr)
	if !ok {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	f := newFormatter(opts, stdout, stderr, isTTY)
	if opts.serverURL != "" {
		return runRemote(ctx, opts, f)
	}
	return runLocal(ctx, opts, f)
}

func parseFlags(args []string, stdout, stderr io.Writer) (*options, int, bool) {
	fs := flag.NewFlagSet("rtpscope analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	fs.BoolVar(&opts.plain, "plain", false, "Plain key=value output")
	fs.BoolVar(&opts.noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable colors")
	fs.BoolVar(&opts.strict, "strict", false, "Exit 1 when any log grades D or F")
	fs.BoolVar(&opts.list, "list", false, "List logs instead of analyzing them")
	fs.StringVar(&opts.series, "series", "", "Print a single series")
	fs.DurationVar(&opts.window, "window", 0, "Rate window (default 1s)")
	fs.DurationVar(&opts.timeout, "timeout", 60*time.Second, "Overall timeout")
	fs.StringVar(&opts.serverURL, "server-url", "", "Analyze a log held by this server instead of a local path")
	fs.StringVar(&opts.serverURL, "S", "", "Server URL (short)")
	fs.StringVar(&opts.apiKey, "api-key", "", "API key for the server")
	serverAlias := fs.String("server", "", "Named server from the config file (empty: default_server)")
	configPath := fs.String("config", getConfigPath(), "User config file")
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help (short)")

	if err := fs.Parse(args); err != nil {
		return nil, exitUsage, false
	}
	if *help {
		printUsage(stdout)
		return nil, exitSuccess, false
	}

	fail := func(format string, a ...interface{}) (*options, int, bool) {
		fmt.Fprintf(stderr, "rtpscope analyze: "+format+"\n", a...)
		return nil, exitUsage, false
	}

	flagsSet := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { flagsSet[f.Name] = true })
	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		return fail("%v", err)
	}
	if err := applyConfigFile(opts, cfg, flagsSet, *serverAlias, flagsSet["server"]); err != nil {
		return fail("%v", err)
	}

	if opts.timeout < minTimeout || opts.timeout > maxTimeout {
		return fail("timeout must be between %v and %v", minTimeout, maxTimeout)
	}
	if opts.window < 0 || opts.window > maxWindow {
		return fail("window must be in (0, %v]", maxWindow)
	}
	if opts.series != "" && !isSeriesName(opts.series) {
		return fail("unknown series %q (want one of %v)", opts.series, types.SeriesNames)
	}
	if opts.jsonOut && opts.plain {
		return fail("--json and --plain are mutually exclusive")
	}
	if opts.serverURL != "" && !isValidServerURL(opts.serverURL) {
		return fail("invalid server URL: %q", opts.serverURL)
	}

	rest := fs.Args()
	if len(rest) > 1 {
		return fail("too many positional arguments")
	}
	if len(rest) == 1 {
		opts.target = rest[0]
	}
	switch {
	case opts.serverURL == "" && opts.target == "":
		return fail("a log file or directory is required")
	case opts.serverURL != "" && opts.target == "" && !opts.list:
		return fail("a log id is required with --server-url (or use --list)")
	}
	return opts, exitSuccess, true
}

// runLocal analyzes a file, or every log in a directory.
func runLocal(ctx context.Context, opts *options, f formatter) int {
	st, err := os.Stat(opts.target)
	if err != nil {
		f.FormatError(err)
		return exitFailure
	}

	analyzerOpts := analysis.Options{RateWindow: opts.window, Timeout: opts.timeout}
	if !st.IsDir() {
		src, err := eventlog.NewFileSource(opts.target)
		if err != nil {
			f.FormatError(err)
			return exitFailure
		}
		a := analysis.New(analyzerOpts, src)
		if opts.list {
			return listLogs(ctx, a.List, f)
		}
		return analyzeOne(ctx, src.ID(), opts, f, func(ctx context.Context, id string) (*client.Result, error) {
			res, err := a.Analyze(ctx, id, opts.window)
			if err != nil {
				return nil, err
			}
			return &client.Result{Report: res.Report, Interpretation: res.Interpretation}, nil
		})
	}

	a := analysis.New(analyzerOpts, eventlog.NewDirSource(opts.target))
	if opts.list {
		return listLogs(ctx, a.List, f)
	}
	infos, err := a.List(ctx)
	if err != nil {
		f.FormatError(err)
		return exitFailure
	}
	if len(infos) == 0 {
		f.FormatError(fmt.Errorf("%s: %w", opts.target, errNoLogs))
		return exitFailure
	}
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}

	batch := a.AnalyzeAll(ctx, ids, opts.window)
	entries := make([]batchEntry, len(batch))
	code := exitSuccess
	for i, b := range batch {
		entries[i] = batchEntry{ID: b.ID}
		if b.Err != nil {
			entries[i].Error = b.Err.Error()
			code = exitFailure
			continue
		}
		entries[i].Result = &client.Result{Report: b.Result.Report, Interpretation: b.Result.Interpretation}
		if opts.series != "" {
			s, _ := b.Result.Report.Lookup(opts.series)
			entries[i].Series = &s
		}
		if opts.strict && degraded(entries[i].Result) {
			code = exitFailure
		}
	}
	f.FormatBatch(entries, opts.series != "")
	return code
}

func runRemote(ctx context.Context, opts *options, f formatter) int {
	var clientOpts []client.Option
	if opts.apiKey != "" {
		clientOpts = append(clientOpts, client.WithAPIKey(opts.apiKey))
	}
	c := client.New(opts.serverURL, clientOpts...)
	if opts.list {
		return listLogs(ctx, c.ListLogs, f)
	}
	reportOpts := client.ReportOptions{Window: opts.window}
	return analyzeOne(ctx, opts.target, opts, f, func(ctx context.Context, id string) (*client.Result, error) {
		return c.Report(ctx, id, reportOpts)
	})
}

func analyzeOne(ctx context.Context, id string, opts *options, f formatter,
	analyze func(context.Context, string) (*client.Result, error)) int {
	res, err := analyze(ctx, id)
	if err != nil {
		f.FormatError(err)
		return exitFailure
	}
	if opts.series != "" {
		s, _ := res.Report.Lookup(opts.series)
		f.FormatSeries(&s)
		return exitSuccess
	}
	f.FormatResult(res)
	if opts.strict && degraded(res) {
		return exitFailure
	}
	return exitSuccess
}

func listLogs(ctx context.Context, list func(context.Context) ([]types.LogInfo, error), f formatter) int {
	infos, err := list(ctx)
	if err != nil {
		f.FormatError(err)
		return exitFailure
	}
	f.FormatLogs(infos)
	return exitSuccess
}

func degraded(res *client.Result) bool {
	if res == nil || res.Interpretation == nil {
		return false
	}
	return res.Interpretation.Grade == "D" || res.Interpretation.Grade == "F"
}

func isSeriesName(name string) bool {
	for _, n := range types.SeriesNames {
		if n == name {
			return true
		}
	}
	return false
}

func isValidServerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Port() != "" {
		var port int
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil || port < 1 || port > 65535 {
			return false
		}
	}
	return u.Hostname() != ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: rtpscope analyze [flags] <log.jsonl | log-dir | log-id>

Compute rate, delay, loss and target series from RTP telemetry logs.

Flags:
  -h, --help              Show help
  --json                  Output as JSON
  --plain                 Plain key=value output (default when not a terminal)
  --no-color              Disable colors (also NO_COLOR)
  --series name           Print one series: send-rate, receive-rate, target-rate, delay, loss
  --window duration       Rate window, e.g. 200ms (default: 1s)
  --strict                Exit 1 when any log grades D or F
  --list                  List logs instead of analyzing them
  --timeout duration      Overall timeout (default: 60s)
  -S, --server-url string Analyze on a remote rtpscope server
  --api-key string        API key for the server
  --server alias          Use a server from the config file
  --config path           User config file (default: ~/.config/rtpscope/config.yaml)

Config file (YAML):
  default_server: lab
  servers:
    lab: {url: "http://lab:8080", api_key: "..."}
  window: 200ms
  no_color: true

Exit codes:
  0   Success
  1   Log could not be loaded or analyzed (or degraded with --strict)
  2   Usage error

Examples:
  rtpscope analyze call.jsonl
  rtpscope analyze --json ./logs
  rtpscope analyze --series delay --window 200ms call.jsonl
  rtpscope analyze -S http://localhost:8080 call
`)
}
