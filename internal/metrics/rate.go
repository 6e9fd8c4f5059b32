package metrics

import (
	"time"

	"github.com/saveenergy/rtpscope/pkg/types"
)

// DefaultRateWindow is the bucket width used by ComputeRate.
const DefaultRateWindow = time.Second

// ComputeRate buckets packet payload bytes per second for each vantage point
// and returns the send-side and receive-side throughput in Mbps. Seconds
// without packets are absent from the output rather than reported as zero.
func ComputeRate(events []types.Event) (send, recv []types.Point) {
	return ComputeRateWindow(events, DefaultRateWindow)
}

// ComputeRateWindow is ComputeRate with a configurable bucket width. Values
// stay in Mbps regardless of width.
func ComputeRateWindow(events []types.Event, width time.Duration) (send, recv []types.Point) {
	if width <= 0 {
		width = DefaultRateWindow
	}

	sendBytes := make(map[int64]int64)
	recvBytes := make(map[int64]int64)
	for _, ev := range events {
		if !ev.IsPacket() {
			continue
		}
		key := bucketKey(ev.Time, width)
		switch ev.VantagePoint {
		case types.VantagePointSender:
			sendBytes[key] += ev.PayloadSize
		case types.VantagePointReceiver:
			recvBytes[key] += ev.PayloadSize
		}
	}

	return ratePoints(sendBytes, width), ratePoints(recvBytes, width)
}

func ratePoints(bins map[int64]int64, width time.Duration) []types.Point {
	points := make([]types.Point, 0, len(bins))
	for _, key := range sortedKeys(bins) {
		points = append(points, types.Point{
			Time:  bucketStart(key, width),
			Value: bytesToMbps(bins[key], width),
		})
	}
	return points
}

func bytesToMbps(bytes int64, width time.Duration) float64 {
	return float64(bytes*8) / width.Seconds() / 1_000_000
}
