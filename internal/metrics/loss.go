package metrics

import (
	"time"

	"github.com/saveenergy/rtpscope/pkg/types"
)

type lossBucket struct {
	sent int64
	lost int64
}

// ComputeLossRate returns, per second of sending, the fraction of sent
// packets whose sequence number never shows up at the receiver. Loss is
// attributed to the second the packet was sent. The whole log is needed:
// a packet counts as lost only if it is absent from the final receiver set.
func ComputeLossRate(events []types.Event) []types.Point {
	buckets, _ := lossBuckets(events)
	points := make([]types.Point, 0, len(buckets))
	for _, key := range sortedKeys(buckets) {
		b := buckets[key]
		points = append(points, types.Point{
			Time:  bucketStart(key, time.Second),
			Value: float64(b.lost) / float64(b.sent),
		})
	}
	return points
}

func lossBuckets(events []types.Event) (map[int64]*lossBucket, lossBucket) {
	received := make(map[uint64]struct{})
	for _, ev := range events {
		if ev.IsReceiver() {
			received[ev.SequenceNumber] = struct{}{}
		}
	}

	buckets := make(map[int64]*lossBucket)
	var total lossBucket
	for _, ev := range events {
		if !ev.IsSender() {
			continue
		}
		key := bucketKey(ev.Time, time.Second)
		b := buckets[key]
		if b == nil {
			b = &lossBucket{}
			buckets[key] = b
		}
		b.sent++
		total.sent++
		if _, ok := received[ev.SequenceNumber]; !ok {
			b.lost++
			total.lost++
		}
	}
	return buckets, total
}
