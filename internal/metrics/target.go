package metrics

import "github.com/saveenergy/rtpscope/pkg/types"

// ComputeTargetRate extracts codec target bitrate changes in Mbps. Points keep
// input order; callers supply chronologically ordered logs.
func ComputeTargetRate(events []types.Event) []types.Point {
	var points []types.Point
	for _, ev := range events {
		if ev.Kind != types.EventKindTargetRate {
			continue
		}
		points = append(points, types.Point{
			Time:  ev.Time,
			Value: ev.TargetRate / 1_000_000,
		})
	}
	if points == nil {
		points = []types.Point{}
	}
	return points
}
