package types

import "time"

// Point is a single (time, value) sample of a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series names used in a Report.
const (
	SeriesSendRate    = "send-rate"
	SeriesReceiveRate = "receive-rate"
	SeriesTargetRate  = "target-rate"
	SeriesDelay       = "delay"
	SeriesLoss        = "loss"
)

// SeriesNames lists the series of a Report in presentation order.
var SeriesNames = []string{
	SeriesSendRate,
	SeriesReceiveRate,
	SeriesTargetRate,
	SeriesDelay,
	SeriesLoss,
}

type Series struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Unit   string  `json:"unit"`
	Points []Point `json:"points"`
}

func (s Series) Len() int {
	return len(s.Points)
}

// Report is the full set of series computed for one log.
type Report struct {
	LogID       string        `json:"log_id"`
	EventCount  int           `json:"event_count"`
	RateWindow  time.Duration `json:"rate_window"`
	GeneratedAt time.Time     `json:"generated_at"`
	Series      []Series      `json:"series"`
	Summary     Summary       `json:"summary"`
}

// Lookup returns the series with the given name.
func (r *Report) Lookup(name string) (Series, bool) {
	if r == nil {
		return Series{}, false
	}
	for _, s := range r.Series {
		if s.Name == name {
			return s, true
		}
	}
	return Series{}, false
}

type DelayStats struct {
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
	JitterMs float64 `json:"jitter_ms"`
	Count    int     `json:"count"`
}

type Summary struct {
	PacketsSent     int64      `json:"packets_sent"`
	PacketsReceived int64      `json:"packets_received"`
	PacketsMatched  int64      `json:"packets_matched"`
	LossFraction    float64    `json:"loss_fraction"`
	Delay           DelayStats `json:"delay"`
	SendAvgMbps     float64    `json:"send_avg_mbps"`
	ReceiveAvgMbps  float64    `json:"receive_avg_mbps"`
	TargetAvgMbps   float64    `json:"target_avg_mbps"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
}

func (s Summary) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// LogInfo describes one loadable log listed in a manifest.
type LogInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
