package metrics_test

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/saveenergy/rtpscope/internal/metrics"
	"github.com/saveenergy/rtpscope/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return base.Add(d)
}

func sent(seq uint64, t time.Duration, size int64) types.Event {
	return types.Event{
		Kind:           types.EventKindRTP,
		Msg:            types.MsgRTP,
		VantagePoint:   types.VantagePointSender,
		Time:           at(t),
		SequenceNumber: seq,
		PayloadSize:    size,
	}
}

func received(seq uint64, t time.Duration, size int64) types.Event {
	ev := sent(seq, t, size)
	ev.VantagePoint = types.VantagePointReceiver
	return ev
}

func target(t time.Duration, bps float64) types.Event {
	return types.Event{
		Kind:       types.EventKindTargetRate,
		Msg:        types.MsgTargetRate,
		Time:       at(t),
		TargetRate: bps,
	}
}

// scenario is three sent packets, one per second, with the middle one lost.
func scenario() []types.Event {
	return []types.Event{
		sent(1, 0, 1000),
		sent(2, 1*time.Second, 1000),
		sent(3, 2*time.Second, 1000),
		received(1, 10*time.Millisecond, 1000),
		received(3, 2020*time.Millisecond, 1000),
	}
}

func shuffled(events []types.Event, seed int64) []types.Event {
	out := append([]types.Event(nil), events...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func assertPoints(t *testing.T, name string, got []types.Point, want []types.Point) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d points %v, want %d %v", name, len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Time.Equal(want[i].Time) {
			t.Errorf("%s[%d].Time = %v, want %v", name, i, got[i].Time, want[i].Time)
		}
		if got[i].Value != want[i].Value {
			t.Errorf("%s[%d].Value = %v, want %v", name, i, got[i].Value, want[i].Value)
		}
	}
}

func TestComputeRateSingleSecond(t *testing.T) {
	const n, size = 25, 1200
	var events []types.Event
	for i := 0; i < n; i++ {
		events = append(events, sent(uint64(i), time.Duration(i)*10*time.Millisecond, size))
	}

	send, recv := metrics.ComputeRate(events)
	if len(send) != 1 {
		t.Fatalf("send points = %d, want 1", len(send))
	}
	want := float64(n*size*8) / 1e6
	if send[0].Value != want {
		t.Errorf("rate = %v, want %v", send[0].Value, want)
	}
	if !send[0].Time.Equal(base) {
		t.Errorf("bucket time = %v, want %v", send[0].Time, base)
	}
	if len(recv) != 0 {
		t.Errorf("recv points = %d, want 0", len(recv))
	}
}

func TestComputeRateLeavesGaps(t *testing.T) {
	events := []types.Event{
		sent(1, 0, 500),
		sent(2, 3*time.Second, 500),
		received(1, 5*time.Second+time.Millisecond, 500),
	}
	send, recv := metrics.ComputeRate(events)

	assertPoints(t, "send", send, []types.Point{
		{Time: at(0), Value: 0.004},
		{Time: at(3 * time.Second), Value: 0.004},
	})
	assertPoints(t, "recv", recv, []types.Point{
		{Time: at(5 * time.Second), Value: 0.004},
	})
}

func TestComputeRateIgnoresControlEvents(t *testing.T) {
	events := []types.Event{target(0, 1_000_000), {Kind: types.EventKindOther, Time: at(0)}}
	send, recv := metrics.ComputeRate(events)
	if len(send) != 0 || len(recv) != 0 {
		t.Fatalf("expected no rate points, got send=%v recv=%v", send, recv)
	}
}

func TestComputeRateFloorsBeforeEpoch(t *testing.T) {
	ev := types.Event{
		Kind:         types.EventKindRTP,
		VantagePoint: types.VantagePointSender,
		Time:         time.Unix(-2, 500_000_000).UTC(),
		PayloadSize:  125,
	}
	send, _ := metrics.ComputeRate([]types.Event{ev})
	if len(send) != 1 {
		t.Fatalf("send points = %d, want 1", len(send))
	}
	if got := send[0].Time.Unix(); got != -2 {
		t.Errorf("bucket second = %d, want -2", got)
	}
}

func TestBucketsFarFromEpoch(t *testing.T) {
	for _, sec := range []time.Time{
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		ev := types.Event{
			Kind:           types.EventKindRTP,
			VantagePoint:   types.VantagePointSender,
			Time:           sec.Add(500 * time.Millisecond),
			SequenceNumber: 1,
			PayloadSize:    125,
		}
		send, _ := metrics.ComputeRate([]types.Event{ev})
		assertPoints(t, "send", send, []types.Point{{Time: sec, Value: 0.001}})

		loss := metrics.ComputeLossRate([]types.Event{ev})
		assertPoints(t, "loss", loss, []types.Point{{Time: sec, Value: 1}})

		windowed, _ := metrics.ComputeRateWindow([]types.Event{ev}, 200*time.Millisecond)
		assertPoints(t, "windowed", windowed, []types.Point{
			{Time: sec.Add(400 * time.Millisecond), Value: 125 * 8 / 0.2 / 1e6},
		})

		wide, _ := metrics.ComputeRateWindow([]types.Event{ev}, 1500*time.Millisecond)
		if len(wide) != 1 || wide[0].Time.After(ev.Time) || !wide[0].Time.Add(1500*time.Millisecond).After(ev.Time) {
			t.Errorf("%v: 1.5s bucket %v does not contain the event", sec, wide)
		}
	}
}

func TestComputeRateWindow(t *testing.T) {
	events := []types.Event{
		sent(1, 0, 1000),
		sent(2, 100*time.Millisecond, 1000),
		sent(3, 250*time.Millisecond, 1000),
	}

	send, _ := metrics.ComputeRateWindow(events, 200*time.Millisecond)
	assertPoints(t, "send", send, []types.Point{
		{Time: at(0), Value: 2000 * 8 / 0.2 / 1e6},
		{Time: at(200 * time.Millisecond), Value: 1000 * 8 / 0.2 / 1e6},
	})

	fallback, _ := metrics.ComputeRateWindow(events, 0)
	if len(fallback) != 1 {
		t.Fatalf("zero window should fall back to one second, got %d points", len(fallback))
	}
}

func TestComputeDelaysMatching(t *testing.T) {
	events := []types.Event{
		sent(7, 0, 100),
		received(7, 50*time.Millisecond, 100),
		received(8, 60*time.Millisecond, 100),
	}
	delays := metrics.ComputeDelays(events)
	assertPoints(t, "delay", delays, []types.Point{
		{Time: at(50 * time.Millisecond), Value: 50},
	})
}

func TestComputeDelaysUnmatchedOnly(t *testing.T) {
	delays := metrics.ComputeDelays([]types.Event{received(8, 0, 100)})
	if len(delays) != 0 {
		t.Fatalf("unmatched receiver event produced %v", delays)
	}
}

func TestComputeDelaysOrderedRegardlessOfInput(t *testing.T) {
	var events []types.Event
	for i := 0; i < 200; i++ {
		sendAt := time.Duration(i) * 5 * time.Millisecond
		events = append(events, sent(uint64(i), sendAt, 100))
		if i%7 != 0 {
			jitter := time.Duration((i*37)%23) * time.Millisecond
			events = append(events, received(uint64(i), sendAt+20*time.Millisecond+jitter, 100))
		}
	}

	want := metrics.ComputeDelays(events)
	for seed := int64(1); seed <= 5; seed++ {
		got := metrics.ComputeDelays(shuffled(events, seed))
		for i := 1; i < len(got); i++ {
			if got[i].Time.Before(got[i-1].Time) {
				t.Fatalf("seed %d: delay series not ordered at %d", seed, i)
			}
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("seed %d: shuffled input changed the delay series", seed)
		}
	}
}

func TestComputeDelaysDuplicateSenderUsesEarliest(t *testing.T) {
	events := []types.Event{
		sent(5, 30*time.Millisecond, 100),
		sent(5, 10*time.Millisecond, 100),
		received(5, 70*time.Millisecond, 100),
	}
	for _, in := range [][]types.Event{events, {events[1], events[0], events[2]}, {events[2], events[0], events[1]}} {
		delays := metrics.ComputeDelays(in)
		assertPoints(t, "delay", delays, []types.Point{
			{Time: at(70 * time.Millisecond), Value: 60},
		})
	}
}

func TestComputeDelaysReceiverLoggedBeforeSender(t *testing.T) {
	delays := metrics.ComputeDelays([]types.Event{
		received(4, 40*time.Millisecond, 100),
		sent(4, 15*time.Millisecond, 100),
	})
	assertPoints(t, "delay", delays, []types.Point{
		{Time: at(40 * time.Millisecond), Value: 25},
	})
}

func TestComputeDelaysNegativeWithSkewedClocks(t *testing.T) {
	delays := metrics.ComputeDelays([]types.Event{
		sent(1, 100*time.Millisecond, 100),
		received(1, 80*time.Millisecond, 100),
	})
	assertPoints(t, "delay", delays, []types.Point{
		{Time: at(80 * time.Millisecond), Value: -20},
	})
}

func TestComputeLossRateBounds(t *testing.T) {
	var events []types.Event
	for i := 0; i < 300; i++ {
		sendAt := time.Duration(i) * 13 * time.Millisecond
		events = append(events, sent(uint64(i), sendAt, 100))
		if (i*31)%5 != 0 {
			events = append(events, received(uint64(i), sendAt+40*time.Millisecond, 100))
		}
	}
	for _, p := range metrics.ComputeLossRate(events) {
		if p.Value < 0 || p.Value > 1 {
			t.Fatalf("loss %v at %v out of [0,1]", p.Value, p.Time)
		}
	}
}

func TestComputeLossRateAllOrNothing(t *testing.T) {
	events := []types.Event{
		sent(1, 0, 100),
		sent(2, 500*time.Millisecond, 100),
		sent(3, 1*time.Second, 100),
		sent(4, 1500*time.Millisecond, 100),
		received(1, 2*time.Second, 100),
		received(2, 2*time.Second, 100),
	}
	loss := metrics.ComputeLossRate(events)
	assertPoints(t, "loss", loss, []types.Point{
		{Time: at(0), Value: 0},
		{Time: at(time.Second), Value: 1},
	})
}

func TestComputeLossRateAttributedToSendSecond(t *testing.T) {
	events := []types.Event{
		sent(1, 900*time.Millisecond, 100),
		received(1, 1100*time.Millisecond, 100),
		sent(2, 950*time.Millisecond, 100),
	}
	loss := metrics.ComputeLossRate(events)
	assertPoints(t, "loss", loss, []types.Point{
		{Time: at(0), Value: 0.5},
	})
}

func TestComputeTargetRateKeepsInputOrder(t *testing.T) {
	events := []types.Event{
		target(2*time.Second, 2_500_000),
		sent(1, 0, 100),
		target(time.Second, 1_000_000),
	}
	got := metrics.ComputeTargetRate(events)
	assertPoints(t, "target", got, []types.Point{
		{Time: at(2 * time.Second), Value: 2.5},
		{Time: at(time.Second), Value: 1},
	})
}

func TestEmptyInput(t *testing.T) {
	for _, events := range [][]types.Event{nil, {target(0, 1000)}} {
		send, recv := metrics.ComputeRate(events)
		if len(send) != 0 || len(recv) != 0 {
			t.Errorf("rate on empty packets = %v %v", send, recv)
		}
		if got := metrics.ComputeDelays(events); got == nil || len(got) != 0 {
			t.Errorf("delays on empty packets = %#v, want empty non-nil", got)
		}
		if got := metrics.ComputeLossRate(events); got == nil || len(got) != 0 {
			t.Errorf("loss on empty packets = %#v, want empty non-nil", got)
		}
	}
	if got := metrics.ComputeTargetRate(nil); got == nil || len(got) != 0 {
		t.Errorf("target on nil = %#v, want empty non-nil", got)
	}
}

func TestEndToEndScenario(t *testing.T) {
	events := scenario()

	send, recv := metrics.ComputeRate(events)
	assertPoints(t, "send", send, []types.Point{
		{Time: at(0), Value: 0.008},
		{Time: at(time.Second), Value: 0.008},
		{Time: at(2 * time.Second), Value: 0.008},
	})
	assertPoints(t, "recv", recv, []types.Point{
		{Time: at(0), Value: 0.008},
		{Time: at(2 * time.Second), Value: 0.008},
	})
	assertPoints(t, "delay", metrics.ComputeDelays(events), []types.Point{
		{Time: at(10 * time.Millisecond), Value: 10},
		{Time: at(2020 * time.Millisecond), Value: 20},
	})
	assertPoints(t, "loss", metrics.ComputeLossRate(events), []types.Point{
		{Time: at(0), Value: 0},
		{Time: at(time.Second), Value: 1},
		{Time: at(2 * time.Second), Value: 0},
	})
}

func TestIdempotentUnderPermutation(t *testing.T) {
	events := scenario()
	wantSend, wantRecv := metrics.ComputeRate(events)
	wantDelay := metrics.ComputeDelays(events)
	wantLoss := metrics.ComputeLossRate(events)

	for seed := int64(1); seed <= 10; seed++ {
		in := shuffled(events, seed)
		send, recv := metrics.ComputeRate(in)
		if !reflect.DeepEqual(send, wantSend) || !reflect.DeepEqual(recv, wantRecv) {
			t.Fatalf("seed %d: rate differs", seed)
		}
		if !reflect.DeepEqual(metrics.ComputeDelays(in), wantDelay) {
			t.Fatalf("seed %d: delay differs", seed)
		}
		if !reflect.DeepEqual(metrics.ComputeLossRate(in), wantLoss) {
			t.Fatalf("seed %d: loss differs", seed)
		}
	}
}

func TestInputNotMutated(t *testing.T) {
	events := shuffled(scenario(), 3)
	before := append([]types.Event(nil), events...)
	metrics.BuildReport("x", events, metrics.Options{})
	if !reflect.DeepEqual(events, before) {
		t.Fatal("BuildReport mutated its input")
	}
}
