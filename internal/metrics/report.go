package metrics

import (
	"time"

	"github.com/saveenergy/rtpscope/pkg/types"
)

type Options struct {
	// RateWindow is the bucket width of the send and receive rate series.
	// Zero means one second.
	RateWindow time.Duration
}

// BuildReport runs every aggregator over events and assembles the named
// series handed to the presentation layer. Each aggregator builds its own
// tables, so concurrent calls on different inputs need no coordination.
func BuildReport(logID string, events []types.Event, opts Options) *types.Report {
	window := opts.RateWindow
	if window <= 0 {
		window = DefaultRateWindow
	}

	send, recv := ComputeRateWindow(events, window)
	target := ComputeTargetRate(events)
	delays := correlate(events)
	delayPoints := make([]types.Point, len(delays))
	for i, s := range delays {
		delayPoints[i] = types.Point{Time: s.recv, Value: s.ms}
	}
	loss := ComputeLossRate(events)

	report := &types.Report{
		LogID:       logID,
		EventCount:  len(events),
		RateWindow:  window,
		GeneratedAt: time.Now().UTC(),
		Series: []types.Series{
			{Name: types.SeriesSendRate, Label: "Send rate", Unit: "Mbps", Points: send},
			{Name: types.SeriesReceiveRate, Label: "Receive rate", Unit: "Mbps", Points: recv},
			{Name: types.SeriesTargetRate, Label: "Target rate", Unit: "Mbps", Points: target},
			{Name: types.SeriesDelay, Label: "Delay (ms)", Unit: "ms", Points: delayPoints},
			{Name: types.SeriesLoss, Label: "Loss", Unit: "fraction", Points: loss},
		},
	}
	report.Summary = summarize(events, report, len(delays))
	return report
}

func summarize(events []types.Event, report *types.Report, matched int) types.Summary {
	var s types.Summary
	for _, ev := range events {
		if ev.Kind == types.EventKindOther {
			continue
		}
		if s.Start.IsZero() || ev.Time.Before(s.Start) {
			s.Start = ev.Time
		}
		if s.End.IsZero() || ev.Time.After(s.End) {
			s.End = ev.Time
		}
		if ev.IsReceiver() {
			s.PacketsReceived++
		}
	}

	_, total := lossBuckets(events)
	s.PacketsSent = total.sent
	s.PacketsMatched = int64(matched)
	if total.sent > 0 {
		s.LossFraction = float64(total.lost) / float64(total.sent)
	}

	if delay, ok := report.Lookup(types.SeriesDelay); ok {
		values := make([]float64, len(delay.Points))
		for i, p := range delay.Points {
			values[i] = p.Value
		}
		s.Delay = CalculateDelay(values)
	}
	if send, ok := report.Lookup(types.SeriesSendRate); ok {
		s.SendAvgMbps = mean(send.Points)
	}
	if recv, ok := report.Lookup(types.SeriesReceiveRate); ok {
		s.ReceiveAvgMbps = mean(recv.Points)
	}
	if target, ok := report.Lookup(types.SeriesTargetRate); ok {
		s.TargetAvgMbps = mean(target.Points)
	}
	return s
}

func mean(points []types.Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}
