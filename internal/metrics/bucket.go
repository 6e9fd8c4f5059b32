package metrics

import (
	"math"
	"math/big"
	"sort"
	"time"
)

// maxNanoSeconds bounds the Unix seconds for which sec*1e9+nsec fits in an
// int64 (roughly 1678 to 2262).
const maxNanoSeconds = math.MaxInt64/int64(time.Second) - 1

var bigSecond = big.NewInt(int64(time.Second))

// bucketKey returns the index of the width-sized interval containing t,
// rounding toward negative infinity so pre-epoch times bucket consistently.
// Keys are derived from Unix seconds and nanoseconds, never UnixNano, so
// every time the loader accepts (years 0 to 9999) buckets correctly.
func bucketKey(t time.Time, width time.Duration) int64 {
	sec, nsec := t.Unix(), int64(t.Nanosecond())
	w := int64(width)
	if w%int64(time.Second) == 0 {
		return floorDiv(sec, w/int64(time.Second))
	}
	if sec > -maxNanoSeconds && sec < maxNanoSeconds {
		return floorDiv(sec*int64(time.Second)+nsec, w)
	}
	n := new(big.Int).Mul(big.NewInt(sec), bigSecond)
	n.Add(n, big.NewInt(nsec))
	n.Div(n, big.NewInt(w))
	if !n.IsInt64() {
		// Only reachable with nanosecond-scale widths far from the epoch.
		if n.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n.Int64()
}

func bucketStart(key int64, width time.Duration) time.Time {
	w := int64(width)
	if w%int64(time.Second) == 0 {
		return time.Unix(key*(w/int64(time.Second)), 0).UTC()
	}
	if key > -math.MaxInt64/w && key < math.MaxInt64/w {
		return time.Unix(0, key*w).UTC()
	}
	n := new(big.Int).Mul(big.NewInt(key), big.NewInt(w))
	sec, nsec := new(big.Int).DivMod(n, bigSecond, new(big.Int))
	return time.Unix(sec.Int64(), nsec.Int64()).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
