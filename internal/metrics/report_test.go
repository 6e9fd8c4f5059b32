package metrics_test

import (
	"testing"
	"time"

	"github.com/saveenergy/rtpscope/internal/metrics"
	"github.com/saveenergy/rtpscope/pkg/types"
)

func TestBuildReportSeries(t *testing.T) {
	events := append(scenario(), target(0, 1_500_000))
	report := metrics.BuildReport("call-1", events, metrics.Options{})

	if report.LogID != "call-1" {
		t.Errorf("LogID = %q", report.LogID)
	}
	if report.EventCount != len(events) {
		t.Errorf("EventCount = %d, want %d", report.EventCount, len(events))
	}
	if report.RateWindow != time.Second {
		t.Errorf("RateWindow = %v, want 1s", report.RateWindow)
	}
	if len(report.Series) != len(types.SeriesNames) {
		t.Fatalf("series count = %d, want %d", len(report.Series), len(types.SeriesNames))
	}
	for i, name := range types.SeriesNames {
		if report.Series[i].Name != name {
			t.Errorf("series[%d] = %q, want %q", i, report.Series[i].Name, name)
		}
	}

	wantLen := map[string]int{
		types.SeriesSendRate:    3,
		types.SeriesReceiveRate: 2,
		types.SeriesTargetRate:  1,
		types.SeriesDelay:       2,
		types.SeriesLoss:        3,
	}
	for name, n := range wantLen {
		s, ok := report.Lookup(name)
		if !ok {
			t.Fatalf("series %q missing", name)
		}
		if s.Len() != n {
			t.Errorf("%s has %d points, want %d", name, s.Len(), n)
		}
	}
	if _, ok := report.Lookup("jitter"); ok {
		t.Error("unexpected series jitter")
	}
}

func TestBuildReportSummary(t *testing.T) {
	report := metrics.BuildReport("call-1", scenario(), metrics.Options{})
	s := report.Summary

	if s.PacketsSent != 3 || s.PacketsReceived != 2 || s.PacketsMatched != 2 {
		t.Errorf("packets sent/received/matched = %d/%d/%d, want 3/2/2",
			s.PacketsSent, s.PacketsReceived, s.PacketsMatched)
	}
	if s.LossFraction != 1.0/3.0 {
		t.Errorf("LossFraction = %v, want 1/3", s.LossFraction)
	}
	if s.Delay.Count != 2 || s.Delay.MinMs != 10 || s.Delay.MaxMs != 20 || s.Delay.AvgMs != 15 {
		t.Errorf("delay stats = %+v", s.Delay)
	}
	if s.Delay.JitterMs != 10 {
		t.Errorf("JitterMs = %v, want 10", s.Delay.JitterMs)
	}
	if s.SendAvgMbps != 0.008 || s.ReceiveAvgMbps != 0.008 {
		t.Errorf("avg rates = %v / %v, want 0.008", s.SendAvgMbps, s.ReceiveAvgMbps)
	}
	if !s.Start.Equal(at(0)) || !s.End.Equal(at(2020*time.Millisecond)) {
		t.Errorf("span = %v .. %v", s.Start, s.End)
	}
	if s.Duration() != 2020*time.Millisecond {
		t.Errorf("Duration = %v", s.Duration())
	}
}

func TestBuildReportEmpty(t *testing.T) {
	report := metrics.BuildReport("empty", nil, metrics.Options{RateWindow: 200 * time.Millisecond})
	if report.RateWindow != 200*time.Millisecond {
		t.Errorf("RateWindow = %v", report.RateWindow)
	}
	for _, s := range report.Series {
		if s.Points == nil || len(s.Points) != 0 {
			t.Errorf("series %s = %#v, want empty non-nil", s.Name, s.Points)
		}
	}
	if report.Summary.PacketsSent != 0 || report.Summary.LossFraction != 0 || report.Summary.Duration() != 0 {
		t.Errorf("summary = %+v, want zero", report.Summary)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    types.DelayStats
	}{
		{
			name:    "empty samples",
			samples: nil,
			want:    types.DelayStats{},
		},
		{
			name:    "single sample",
			samples: []float64{12},
			want:    types.DelayStats{MinMs: 12, MaxMs: 12, AvgMs: 12, P50Ms: 12, P95Ms: 12, P99Ms: 12, Count: 1},
		},
		{
			name:    "multiple samples",
			samples: []float64{5, 1, 3, 2, 4},
			want:    types.DelayStats{MinMs: 1, MaxMs: 5, AvgMs: 3, P50Ms: 3, P95Ms: 5, P99Ms: 5, JitterMs: 2.25, Count: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := metrics.CalculateDelay(tt.samples)
			if got != tt.want {
				t.Errorf("CalculateDelay() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCalculateJitter(t *testing.T) {
	if got := metrics.CalculateJitter([]float64{10}); got != 0 {
		t.Errorf("single sample jitter = %v, want 0", got)
	}
	if got := metrics.CalculateJitter([]float64{10, 20, 10, 10}); got != 20.0/3.0 {
		t.Errorf("jitter = %v, want %v", got, 20.0/3.0)
	}
}
