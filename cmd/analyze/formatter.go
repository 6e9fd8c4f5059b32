package analyze

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/saveenergy/rtpscope/pkg/client"
	rerrors "github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	schemaVersion   = "1.0"
	defaultWidth    = 80
	sparkLabelWidth = 14
)

type formatter interface {
	FormatResult(res *client.Result)
	FormatSeries(s *types.Series)
	FormatBatch(entries []batchEntry, seriesOnly bool)
	FormatLogs(infos []types.LogInfo)
	FormatError(err error)
}

// batchEntry is one log of a directory run.
type batchEntry struct {
	ID     string         `json:"id"`
	Result *client.Result `json:"result,omitempty"`
	Series *types.Series  `json:"series,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newFormatter(opts *options, stdout, stderr io.Writer, isTTY bool) formatter {
	switch {
	case opts.jsonOut:
		return &jsonFormatter{w: stdout}
	case opts.plain || !isTTY:
		return &plainFormatter{w: stdout, errW: stderr}
	}
	width := defaultWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > sparkLabelWidth+10 {
		width = w
	}
	return &interactiveFormatter{w: stdout, errW: stderr, noColor: opts.noColor, width: width}
}

type jsonFormatter struct {
	w io.Writer
}

func (f *jsonFormatter) encode(v interface{}) {
	if err := json.NewEncoder(f.w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "rtpscope analyze: json encode error: %v\n", err)
	}
}

func (f *jsonFormatter) FormatResult(res *client.Result) { f.encode(res) }

func (f *jsonFormatter) FormatSeries(s *types.Series) { f.encode(s) }

func (f *jsonFormatter) FormatBatch(entries []batchEntry, seriesOnly bool) {
	if seriesOnly {
		for i := range entries {
			entries[i].Result = nil
		}
	}
	f.encode(entries)
}

func (f *jsonFormatter) FormatLogs(infos []types.LogInfo) {
	f.encode(map[string]interface{}{"logs": infos})
}

func (f *jsonFormatter) FormatError(err error) {
	resp := map[string]interface{}{
		"schema_version": schemaVersion,
		"error":          true,
		"code":           errorCode(err),
		"message":        err.Error(),
	}
	var loadErr *rerrors.LoadError
	if errors.As(err, &loadErr) && loadErr.Line > 0 {
		resp["line"] = loadErr.Line
		resp["field"] = loadErr.Field
	}
	f.encode(resp)
}

func errorCode(err error) string {
	var loadErr *rerrors.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return apiErr.Code
	}
	return "analysis_failed"
}

type plainFormatter struct {
	w    io.Writer
	errW io.Writer
}

func (f *plainFormatter) FormatResult(res *client.Result) {
	r := res.Report
	s := r.Summary
	fmt.Fprintf(f.w, "log_id=%s\n", r.LogID)
	if res.Interpretation != nil {
		fmt.Fprintf(f.w, "grade=%s\n", res.Interpretation.Grade)
		fmt.Fprintf(f.w, "summary=%s\n", res.Interpretation.Summary)
	}
	fmt.Fprintf(f.w, "events=%d\n", r.EventCount)
	fmt.Fprintf(f.w, "rate_window=%s\n", r.RateWindow)
	fmt.Fprintf(f.w, "packets_sent=%d\n", s.PacketsSent)
	fmt.Fprintf(f.w, "packets_received=%d\n", s.PacketsReceived)
	fmt.Fprintf(f.w, "packets_matched=%d\n", s.PacketsMatched)
	fmt.Fprintf(f.w, "loss_percent=%.2f\n", s.LossFraction*100)
	fmt.Fprintf(f.w, "delay_min_ms=%.3f\n", s.Delay.MinMs)
	fmt.Fprintf(f.w, "delay_avg_ms=%.3f\n", s.Delay.AvgMs)
	fmt.Fprintf(f.w, "delay_p50_ms=%.3f\n", s.Delay.P50Ms)
	fmt.Fprintf(f.w, "delay_p95_ms=%.3f\n", s.Delay.P95Ms)
	fmt.Fprintf(f.w, "delay_p99_ms=%.3f\n", s.Delay.P99Ms)
	fmt.Fprintf(f.w, "delay_max_ms=%.3f\n", s.Delay.MaxMs)
	fmt.Fprintf(f.w, "jitter_ms=%.3f\n", s.Delay.JitterMs)
	fmt.Fprintf(f.w, "send_avg_mbps=%.3f\n", s.SendAvgMbps)
	fmt.Fprintf(f.w, "receive_avg_mbps=%.3f\n", s.ReceiveAvgMbps)
	fmt.Fprintf(f.w, "target_avg_mbps=%.3f\n", s.TargetAvgMbps)
	fmt.Fprintf(f.w, "duration_seconds=%.3f\n", s.Duration().Seconds())
	if res.Interpretation != nil && len(res.Interpretation.Concerns) > 0 {
		fmt.Fprintf(f.w, "concerns=%s\n", strings.Join(res.Interpretation.Concerns, ","))
	}
	for _, series := range r.Series {
		fmt.Fprintf(f.w, "series_%s_points=%d\n", strings.ReplaceAll(series.Name, "-", "_"), series.Len())
	}
}

func (f *plainFormatter) FormatSeries(s *types.Series) {
	f.writePoints("", s)
}

func (f *plainFormatter) writePoints(prefix string, s *types.Series) {
	for _, p := range s.Points {
		fmt.Fprintf(f.w, "%s%s\t%s\n", prefix, p.Time.UTC().Format(time.RFC3339Nano), formatValue(p.Value))
	}
}

func (f *plainFormatter) FormatBatch(entries []batchEntry, seriesOnly bool) {
	for i, e := range entries {
		if seriesOnly {
			if e.Error != "" {
				fmt.Fprintf(f.errW, "rtpscope analyze: %s: %s\n", e.ID, e.Error)
				continue
			}
			f.writePoints(e.ID+"\t", e.Series)
			continue
		}
		if i > 0 {
			fmt.Fprintln(f.w)
		}
		if e.Error != "" {
			fmt.Fprintf(f.w, "log_id=%s\nerror=%s\n", e.ID, e.Error)
			continue
		}
		f.FormatResult(e.Result)
	}
}

func (f *plainFormatter) FormatLogs(infos []types.LogInfo) {
	for _, info := range infos {
		fmt.Fprintf(f.w, "%s\t%s\t%d\t%s\n", info.ID, info.Source, info.SizeBytes, info.Name)
	}
}

func (f *plainFormatter) FormatError(err error) {
	fmt.Fprintf(f.errW, "rtpscope analyze: error: %v\n", err)
}

type interactiveFormatter struct {
	w       io.Writer
	errW    io.Writer
	noColor bool
	width   int
}

func (f *interactiveFormatter) colorize(code, s string) string {
	if f.noColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *interactiveFormatter) gradeColor(grade string) string {
	switch grade {
	case "A", "B":
		return "32"
	case "C":
		return "33"
	default:
		return "31"
	}
}

func (f *interactiveFormatter) FormatResult(res *client.Result) {
	r := res.Report
	s := r.Summary
	header := r.LogID
	if res.Interpretation != nil {
		grade := f.colorize(f.gradeColor(res.Interpretation.Grade), "Grade "+res.Interpretation.Grade)
		header = fmt.Sprintf("%s  %s  %s", r.LogID, grade, res.Interpretation.Summary)
	}
	fmt.Fprintln(f.w, header)
	fmt.Fprintf(f.w, "  Packets:  %d sent, %d received, %d matched (%.2f%% loss)\n",
		s.PacketsSent, s.PacketsReceived, s.PacketsMatched, s.LossFraction*100)
	fmt.Fprintf(f.w, "  Delay:    p50 %.1f ms, p95 %.1f ms, max %.1f ms, jitter %.1f ms\n",
		s.Delay.P50Ms, s.Delay.P95Ms, s.Delay.MaxMs, s.Delay.JitterMs)
	fmt.Fprintf(f.w, "  Rate:     send %.3f, receive %.3f, target %.3f Mbps (window %s)\n",
		s.SendAvgMbps, s.ReceiveAvgMbps, s.TargetAvgMbps, r.RateWindow)
	fmt.Fprintf(f.w, "  Duration: %s\n", s.Duration().Round(time.Millisecond))
	if res.Interpretation != nil && len(res.Interpretation.Concerns) > 0 {
		fmt.Fprintf(f.w, "  Concerns: %s\n", f.colorize("33", strings.Join(res.Interpretation.Concerns, ", ")))
	}
	for _, series := range r.Series {
		f.writeSpark(&series)
	}
}

func (f *interactiveFormatter) writeSpark(s *types.Series) {
	label := fmt.Sprintf("  %-*s", sparkLabelWidth-2, s.Name)
	if s.Len() == 0 {
		fmt.Fprintf(f.w, "%s%s\n", label, f.colorize("90", "(no data)"))
		return
	}
	lo, hi := seriesRange(s.Points)
	suffix := fmt.Sprintf(" %s..%s %s", formatValue(lo), formatValue(hi), s.Unit)
	width := f.width - sparkLabelWidth - len(suffix)
	if width < 10 {
		width = 10
	}
	fmt.Fprintf(f.w, "%s%s%s\n", label, f.colorize("36", sparkline(s.Points, width)), suffix)
}

func (f *interactiveFormatter) FormatSeries(s *types.Series) {
	f.writeSpark(s)
	for _, p := range s.Points {
		fmt.Fprintf(f.w, "  %s  %s\n", p.Time.UTC().Format("15:04:05.000"), formatValue(p.Value))
	}
}

func (f *interactiveFormatter) FormatBatch(entries []batchEntry, seriesOnly bool) {
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(f.w)
		}
		if e.Error != "" {
			fmt.Fprintf(f.w, "%s  %s\n", e.ID, f.colorize("31", "error: "+e.Error))
			continue
		}
		if seriesOnly {
			fmt.Fprintln(f.w, e.ID)
			f.writeSpark(e.Series)
			continue
		}
		f.FormatResult(e.Result)
	}
}

func (f *interactiveFormatter) FormatLogs(infos []types.LogInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(f.w, "No logs found.")
		return
	}
	idWidth := len("ID")
	for _, info := range infos {
		if len(info.ID) > idWidth {
			idWidth = len(info.ID)
		}
	}
	fmt.Fprintf(f.w, "%-*s  %-6s  %10s  %s\n", idWidth, "ID", "SOURCE", "SIZE", "NAME")
	for _, info := range infos {
		fmt.Fprintf(f.w, "%-*s  %-6s  %10d  %s\n", idWidth, info.ID, info.Source, info.SizeBytes, info.Name)
	}
}

func (f *interactiveFormatter) FormatError(err error) {
	fmt.Fprintf(f.errW, "%s %v\n", f.colorize("31", "rtpscope analyze: error:"), err)
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline draws points as width cells, averaging the points that fall in
// each cell.
func sparkline(points []types.Point, width int) string {
	if len(points) == 0 || width <= 0 {
		return ""
	}
	if len(points) < width {
		width = len(points)
	}
	cells := make([]float64, width)
	for i := range cells {
		from := i * len(points) / width
		to := (i + 1) * len(points) / width
		var sum float64
		for _, p := range points[from:to] {
			sum += p.Value
		}
		cells[i] = sum / float64(to-from)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range cells {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	for _, v := range cells {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func seriesRange(points []types.Point) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	return lo, hi
}

func formatValue(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}
