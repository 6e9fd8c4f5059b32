// Package eventlog decodes JSON-lines RTP telemetry logs into typed events and
// locates logs through an index manifest.
package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/saveenergy/rtpscope/internal/logging"
	"github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	maxLineBytes  = 1 << 20
	ctxCheckEvery = 4096
)

// Log record field names.
const (
	FieldMsg          = "msg"
	FieldTime         = "time"
	FieldVantagePoint = "vantage-point"
	FieldSequence     = "unwrapped-sequence-number"
	FieldPayloadSize  = "payload-size"
	FieldRate         = "rate"
)

type rawRecord struct {
	Msg          *string         `json:"msg"`
	Time         json.RawMessage `json:"time"`
	VantagePoint *string         `json:"vantage-point"`
	Sequence     *json.Number    `json:"unwrapped-sequence-number"`
	PayloadSize  *json.Number    `json:"payload-size"`
	Rate         *json.Number    `json:"rate"`
}

// Decode reads newline-delimited records from r. The first bad record aborts
// the whole decode with a *errors.LoadError naming the line and field.
func Decode(ctx context.Context, r io.Reader) ([]types.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var events []types.Event
	lineNo := 0
	ignored := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeRecord(lineNo, line)
		if err != nil {
			return nil, err
		}
		if ev.Kind == types.EventKindOther {
			ignored++
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ErrReadFailed("", fmt.Errorf("line %d: %w", lineNo+1, err))
	}

	if ignored > 0 {
		logging.Debug("eventlog: records without a metric kind",
			logging.Int("count", ignored),
			logging.Int("lines", lineNo))
	}
	return events, nil
}

// DecodeRecord decodes and validates a single record.
func DecodeRecord(lineNo int, line []byte) (types.Event, error) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return types.Event{}, errors.ErrMalformedRecord(lineNo, err)
	}
	if raw.Msg == nil {
		return types.Event{}, errors.ErrMissingField(lineNo, FieldMsg)
	}
	if len(raw.Time) == 0 || string(raw.Time) == "null" {
		return types.Event{}, errors.ErrMissingField(lineNo, FieldTime)
	}
	ts, err := parseTimeValue(raw.Time)
	if err != nil {
		return types.Event{}, errors.ErrInvalidField(lineNo, FieldTime, err)
	}

	ev := types.Event{
		Kind: types.KindFromMsg(*raw.Msg),
		Msg:  *raw.Msg,
		Time: ts,
		Line: lineNo,
	}
	if raw.VantagePoint != nil {
		ev.VantagePoint = types.VantagePoint(*raw.VantagePoint)
	}

	switch ev.Kind {
	case types.EventKindRTP:
		if raw.VantagePoint == nil {
			return types.Event{}, errors.ErrMissingField(lineNo, FieldVantagePoint)
		}
		if !ev.VantagePoint.Valid() {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldVantagePoint,
				fmt.Errorf("want %q or %q, got %q", types.VantagePointSender, types.VantagePointReceiver, *raw.VantagePoint))
		}
		if raw.Sequence == nil {
			return types.Event{}, errors.ErrMissingField(lineNo, FieldSequence)
		}
		seq, err := strconv.ParseUint(raw.Sequence.String(), 10, 64)
		if err != nil {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldSequence, err)
		}
		ev.SequenceNumber = seq
		if raw.PayloadSize == nil {
			return types.Event{}, errors.ErrMissingField(lineNo, FieldPayloadSize)
		}
		size, err := strconv.ParseInt(raw.PayloadSize.String(), 10, 64)
		if err != nil {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldPayloadSize, err)
		}
		if size < 0 {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldPayloadSize, fmt.Errorf("negative size %d", size))
		}
		ev.PayloadSize = size
	case types.EventKindTargetRate:
		if raw.Rate == nil {
			return types.Event{}, errors.ErrMissingField(lineNo, FieldRate)
		}
		rate, err := strconv.ParseFloat(raw.Rate.String(), 64)
		if err != nil {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldRate, err)
		}
		if rate < 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
			return types.Event{}, errors.ErrInvalidField(lineNo, FieldRate, fmt.Errorf("rate %v out of range", rate))
		}
		ev.TargetRate = rate
	}
	return ev, nil
}

// LoadFile decodes the log at path. The returned LoadError carries logID.
func LoadFile(ctx context.Context, path, logID string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrLogNotFound(logID)
		}
		return nil, errors.ErrReadFailed(logID, err)
	}
	defer f.Close()

	events, err := Decode(ctx, f)
	if err != nil {
		return nil, withLogID(err, logID)
	}
	return events, nil
}

func withLogID(err error, logID string) error {
	if le, ok := err.(*errors.LoadError); ok && le.LogID == "" {
		le.LogID = logID
	}
	return err
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimeValue accepts an ISO-8601 string or epoch milliseconds given as a
// JSON number or numeric string. Timestamps without a zone are UTC.
func parseTimeValue(raw json.RawMessage) (time.Time, error) {
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
	} else {
		s = string(raw)
	}
	return ParseTime(s)
}

func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsInf(ms, 0) || math.IsNaN(ms) {
			return time.Time{}, fmt.Errorf("timestamp %q out of range", s)
		}
		whole := math.Floor(ms)
		if whole < float64(minEpochMillis) || whole > float64(maxEpochMillis) {
			return time.Time{}, fmt.Errorf("timestamp %q out of range", s)
		}
		nanos := int64(math.Round((ms - whole) * 1e6))
		return checkYear(time.UnixMilli(int64(whole)).Add(time.Duration(nanos)).UTC(), s)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return checkYear(t, s)
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Epoch milliseconds of 0000-01-01 and 9999-12-31T23:59:59.999, the range a
// report can encode as RFC 3339.
var (
	minEpochMillis = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxEpochMillis = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1
)

func checkYear(t time.Time, raw string) (time.Time, error) {
	if y := t.UTC().Year(); y < 0 || y > 9999 {
		return time.Time{}, fmt.Errorf("timestamp %q out of range", raw)
	}
	return t, nil
}
