// Package diagnostic interprets the summary of an RTP session into
// human/agent-readable grades, ratings and concerns.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/rtpscope/pkg/types"
)

// Concern identifiers.
const (
	ConcernHighDelay     = "high_delay"
	ConcernHighJitter    = "high_jitter"
	ConcernPacketLoss    = "packet_loss"
	ConcernRateShortfall = "rate_shortfall"
)

// Interpretation holds the semantic interpretation of a session.
type Interpretation struct {
	Grade           string   `json:"grade"`
	Summary         string   `json:"summary"`
	DelayRating     string   `json:"delay_rating"`
	RateRating      string   `json:"rate_rating"`
	StabilityRating string   `json:"stability_rating"`
	Concerns        []string `json:"concerns"`
}

// Params are the session metrics to interpret. LossFraction is in [0, 1].
type Params struct {
	PacketsSent  int
	DelayP95Ms   float64
	JitterMs     float64
	LossFraction float64
	ReceiveMbps  float64
	TargetMbps   float64
}

// ParamsFromSummary picks the inputs Interpret needs out of a report summary.
func ParamsFromSummary(s types.Summary) Params {
	return Params{
		PacketsSent:  s.PacketsSent,
		DelayP95Ms:   s.Delay.P95Ms,
		JitterMs:     s.Delay.JitterMs,
		LossFraction: s.LossFraction,
		ReceiveMbps:  s.ReceiveAvgMbps,
		TargetMbps:   s.TargetAvgMbps,
	}
}

// Interpret produces a diagnostic Interpretation from session metrics.
func Interpret(p Params) *Interpretation {
	interp := &Interpretation{}

	interp.DelayRating = rateDelay(p.DelayP95Ms)
	interp.RateRating = rateTracking(p.ReceiveMbps, p.TargetMbps)
	interp.StabilityRating = rateStability(p)
	interp.Concerns = concerns(p)

	interp.Grade = computeGrade(interp.DelayRating, interp.RateRating, interp.StabilityRating)
	interp.Summary = buildSummary(interp.Grade, p)

	return interp
}

// rateDelay grades the 95th percentile one-way delay.
func rateDelay(p95Ms float64) string {
	switch {
	case p95Ms <= 0:
		return "unknown"
	case p95Ms <= 50:
		return "excellent"
	case p95Ms <= 100:
		return "good"
	case p95Ms <= 200:
		return "fair"
	default:
		return "poor"
	}
}

// rateTracking grades how closely the receive rate follows the estimator's target.
func rateTracking(receiveMbps, targetMbps float64) string {
	if targetMbps <= 0 {
		return "unknown"
	}
	ratio := receiveMbps / targetMbps
	switch {
	case ratio >= 0.9:
		return "tracking"
	case ratio >= 0.7:
		return "lagging"
	default:
		return "starved"
	}
}

func rateStability(p Params) string {
	if p.PacketsSent == 0 {
		return "unknown"
	}
	if p.LossFraction > 0.05 {
		return "unstable"
	}
	if p.LossFraction > 0.01 || p.JitterMs > 30 {
		return "degraded"
	}
	if p.JitterMs > 10 {
		return "fair"
	}
	return "stable"
}

func concerns(p Params) []string {
	c := []string{}

	if p.DelayP95Ms > 200 {
		c = append(c, ConcernHighDelay)
	}
	if p.JitterMs > 30 {
		c = append(c, ConcernHighJitter)
	}
	if p.LossFraction > 0.02 {
		c = append(c, ConcernPacketLoss)
	}
	if p.TargetMbps > 0 && p.ReceiveMbps < 0.9*p.TargetMbps {
		c = append(c, ConcernRateShortfall)
	}

	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"tracking":  4,
	"stable":    4,
	"good":      3,
	"fair":      2,
	"lagging":   2,
	"degraded":  1,
	"poor":      0,
	"starved":   0,
	"unstable":  0,
	"unknown":   2, // neutral default
}

func computeGrade(delay, rate, stability string) string {
	score := ratingScore[delay] + ratingScore[rate] + ratingScore[stability]
	// Max score = 12 (4+4+4)
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

var gradeDesc = map[string]string{
	"A": "Excellent",
	"B": "Good",
	"C": "Fair",
	"D": "Poor",
	"F": "Very poor",
}

func buildSummary(grade string, p Params) string {
	parts := []string{}
	if p.TargetMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.2f of %.2f Mbps target received", p.ReceiveMbps, p.TargetMbps))
	} else if p.ReceiveMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.2f Mbps received", p.ReceiveMbps))
	}
	if p.DelayP95Ms > 0 {
		parts = append(parts, fmt.Sprintf("%.0fms p95 delay", p.DelayP95Ms))
	}
	if p.PacketsSent > 0 {
		parts = append(parts, fmt.Sprintf("%.1f%% loss", p.LossFraction*100))
	}

	summary := gradeDesc[grade] + " session"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return summary
}
