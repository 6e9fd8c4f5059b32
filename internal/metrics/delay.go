package metrics

import (
	"sort"
	"time"

	"github.com/saveenergy/rtpscope/pkg/types"
)

type delaySample struct {
	recv time.Time
	seq  uint64
	ms   float64
}

// ComputeDelays correlates sender and receiver packet events by unwrapped
// sequence number and returns one-way delay samples in milliseconds, keyed by
// receive time and sorted ascending.
//
// Receiver events without a sender record are dropped. When a sequence number
// was sent more than once the earliest send time is used. Clocks are not
// calibrated: with skewed clocks delays can be negative.
func ComputeDelays(events []types.Event) []types.Point {
	samples := correlate(events)
	points := make([]types.Point, len(samples))
	for i, s := range samples {
		points[i] = types.Point{Time: s.recv, Value: s.ms}
	}
	return points
}

func correlate(events []types.Event) []delaySample {
	sent := make(map[uint64]time.Time)
	for _, ev := range events {
		if !ev.IsSender() {
			continue
		}
		if prev, ok := sent[ev.SequenceNumber]; ok && !ev.Time.Before(prev) {
			continue
		}
		sent[ev.SequenceNumber] = ev.Time
	}

	var samples []delaySample
	for _, ev := range events {
		if !ev.IsReceiver() {
			continue
		}
		sentAt, ok := sent[ev.SequenceNumber]
		if !ok {
			continue
		}
		samples = append(samples, delaySample{
			recv: ev.Time,
			seq:  ev.SequenceNumber,
			ms:   float64(ev.Time.Sub(sentAt)) / float64(time.Millisecond),
		})
	}

	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if !a.recv.Equal(b.recv) {
			return a.recv.Before(b.recv)
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.ms < b.ms
	})
	return samples
}
