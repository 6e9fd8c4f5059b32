// Package analysis loads logs from one or more sources and turns them into
// reports under a deadline.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/internal/logging"
	"github.com/saveenergy/rtpscope/internal/metrics"
	"github.com/saveenergy/rtpscope/pkg/diagnostic"
	rerrors "github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 4
)

var ErrUnknownSeries = errors.New("unknown series")

// Result is a report together with its interpretation.
type Result struct {
	Report         *types.Report              `json:"report"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// BatchResult is one entry of AnalyzeAll. Exactly one of Result and Err is set.
type BatchResult struct {
	ID     string
	Result *Result
	Err    error
}

type Options struct {
	Timeout       time.Duration
	RateWindow    time.Duration
	MaxConcurrent int
}

// Analyzer resolves log identifiers against its sources in order; the first
// source that holds an identifier wins.
type Analyzer struct {
	sources []eventlog.Source
	timeout time.Duration
	window  time.Duration
	sem     chan struct{}
	logger  *logging.Logger
}

func New(opts Options, sources ...eventlog.Source) *Analyzer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = metrics.DefaultRateWindow
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	return &Analyzer{
		sources: sources,
		timeout: opts.Timeout,
		window:  opts.RateWindow,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		logger:  logging.NewLogger("analysis"),
	}
}

func (a *Analyzer) RateWindow() time.Duration {
	return a.window
}

// List merges the manifests of all sources. An identifier listed by an
// earlier source hides later duplicates.
func (a *Analyzer) List(ctx context.Context) ([]types.LogInfo, error) {
	out := make([]types.LogInfo, 0)
	seen := make(map[string]bool)
	for _, src := range a.sources {
		infos, err := src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", src.Name(), err)
		}
		for _, info := range infos {
			if seen[info.ID] {
				continue
			}
			seen[info.ID] = true
			out = append(out, info)
		}
	}
	return out, nil
}

// Load decodes id from the first source that has it.
func (a *Analyzer) Load(ctx context.Context, id string) ([]types.Event, error) {
	if err := eventlog.ValidateID(id); err != nil {
		return nil, err
	}
	for _, src := range a.sources {
		events, err := eventlog.Load(ctx, src, id)
		if rerrors.IsNotFound(err) {
			continue
		}
		return events, err
	}
	return nil, rerrors.ErrLogNotFound(id)
}

// Analyze loads id and builds its report. A zero window uses the analyzer's
// configured rate window.
func (a *Analyzer) Analyze(ctx context.Context, id string, window time.Duration) (*Result, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if window <= 0 {
		window = a.window
	}

	start := time.Now()
	events, err := a.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	report := metrics.BuildReport(id, events, metrics.Options{RateWindow: window})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.Debug("log analyzed",
		logging.String("id", id),
		logging.Int("events", len(events)),
		logging.Field{Key: "elapsed", Value: time.Since(start)})

	return &Result{
		Report:         report,
		Interpretation: diagnostic.Interpret(diagnostic.ParamsFromSummary(report.Summary)),
	}, nil
}

// Series returns a single named series of id's report.
func (a *Analyzer) Series(ctx context.Context, id, name string, window time.Duration) (*types.Series, error) {
	if !isSeriesName(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, name)
	}
	res, err := a.Analyze(ctx, id, window)
	if err != nil {
		return nil, err
	}
	s, _ := res.Report.Lookup(name)
	return &s, nil
}

// AnalyzeAll analyzes ids concurrently, bounded by MaxConcurrent. Results
// keep the order of ids.
func (a *Analyzer) AnalyzeAll(ctx context.Context, ids []string, window time.Duration) []BatchResult {
	out := make([]BatchResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := a.Analyze(ctx, id, window)
			out[i] = BatchResult{ID: id, Result: res, Err: err}
			if err != nil {
				a.logger.Warn("analysis failed", logging.String("id", id), logging.Err(err))
			}
		}(i, id)
	}
	wg.Wait()
	return out
}

func (a *Analyzer) acquire(ctx context.Context) error {
	select {
	case a.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Analyzer) release() {
	<-a.sem
}

func isSeriesName(name string) bool {
	for _, n := range types.SeriesNames {
		if n == name {
			return true
		}
	}
	return false
}
