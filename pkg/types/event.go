package types

import "time"

type VantagePoint string

const (
	VantagePointSender   VantagePoint = "sender"
	VantagePointReceiver VantagePoint = "receiver"
)

func (v VantagePoint) Valid() bool {
	return v == VantagePointSender || v == VantagePointReceiver
}

type EventKind string

const (
	EventKindRTP        EventKind = "rtp"
	EventKindTargetRate EventKind = "target-rate"
	EventKindOther      EventKind = "other"
)

// Message discriminators as they appear in the "msg" field of a log record.
const (
	MsgRTP        = "rtp"
	MsgTargetRate = "setting codec target bitrate"
)

// KindFromMsg maps a log record's msg field to an EventKind.
func KindFromMsg(msg string) EventKind {
	switch msg {
	case MsgRTP:
		return EventKindRTP
	case MsgTargetRate:
		return EventKindTargetRate
	default:
		return EventKindOther
	}
}

// Event is one decoded telemetry record. Packet events carry SequenceNumber
// and PayloadSize; target-rate events carry TargetRate in bits per second.
type Event struct {
	Kind           EventKind    `json:"kind"`
	Msg            string       `json:"msg"`
	VantagePoint   VantagePoint `json:"vantage_point,omitempty"`
	Time           time.Time    `json:"time"`
	SequenceNumber uint64       `json:"sequence_number,omitempty"`
	PayloadSize    int64        `json:"payload_size,omitempty"`
	TargetRate     float64      `json:"target_rate,omitempty"`
	Line           int          `json:"line"`
}

func (e Event) IsPacket() bool {
	return e.Kind == EventKindRTP
}

func (e Event) IsSender() bool {
	return e.Kind == EventKindRTP && e.VantagePoint == VantagePointSender
}

func (e Event) IsReceiver() bool {
	return e.Kind == EventKindRTP && e.VantagePoint == VantagePointReceiver
}
