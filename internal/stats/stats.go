// Package stats derives the on/off turf statistics shown next to every row and
// in the dashboard footer.
package stats

import (
	"math"
	"math/bits"
)

// TargetPercentOff is the highest share of off-turf a healthy login should carry.
const TargetPercentOff = 30

// Tier is the status bucket a percentage falls into.
type Tier string

const (
	TierOK     Tier = "ok"
	TierAdjust Tier = "adjust"
	TierOver   Tier = "over"
)

type tierThreshold struct {
	// max percentOff (inclusive); negative means unbounded.
	max  int64
	tier Tier
}

// tiers is ordered by ascending threshold; the last entry always matches.
var tiers = []tierThreshold{
	{max: TargetPercentOff, tier: TierOK},
	{max: 35, tier: TierAdjust},
	{max: -1, tier: TierOver},
}

// Stats are never persisted; they are recomputed from the raw counters.
type Stats struct {
	Total       int64   `json:"total"`
	PercentOff  float64 `json:"percentOff"`
	GapToTarget int64   `json:"gapToTarget"`
	Tier        Tier    `json:"status"`
}

// MaxCount is the largest counter value accepted for a single row. Inputs
// above it are rejected at the API and clamped by the lenient parsers.
// Compute itself stays within range for any int64 pair, so aggregates of many
// rows are safe as well.
const MaxCount int64 = 1_000_000_000_000

// ClampCount maps n into [0, MaxCount].
func ClampCount(n int64) int64 {
	switch {
	case n < 0:
		return 0
	case n > MaxCount:
		return MaxCount
	}
	return n
}

// Compute derives Stats for a pair of counters. Negative counts are treated as 0.
func Compute(on, off int64) Stats {
	if on < 0 {
		on = 0
	}
	if off < 0 {
		off = 0
	}
	total := addSat(on, off)
	s := Stats{Total: total, Tier: tierFor(on, off)}
	if total > 0 {
		s.PercentOff = percentOff(on, off, total)
	}
	s.GapToTarget = gapToTarget(on, off)
	return s
}

func percentOff(on, off, total int64) float64 {
	if off <= math.MaxInt64/100 && total < math.MaxInt64 {
		return float64(off*100) / float64(total)
	}
	p := float64(off) / (float64(on) + float64(off)) * 100
	return math.Min(100, math.Max(0, p))
}

// gapToTarget is max(0, ceil(off/0.3 - off - on)). off/0.3 - off equals 7*off/3,
// so the ceiling is taken over the exact rational (7*off - 3*on) / 3, in
// unsigned 128-bit steps. The result saturates at MaxInt64.
func gapToTarget(on, off int64) int64 {
	if mulLE(uint64(off), 7, uint64(on), 3) {
		return 0
	}
	// ceil(7*off/3) = 2*off + ceil(off/3)
	u := uint64(off)
	sum, carry := bits.Add64(2*u, (u+2)/3, 0)
	if carry != 0 {
		return math.MaxInt64
	}
	gap := sum - uint64(on)
	if gap > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(gap)
}

func tierFor(on, off int64) Tier {
	for _, t := range tiers {
		if t.max < 0 {
			return t.tier
		}
		// off*100 <= max*(on+off)  <=>  off*(100-max) <= on*max
		if mulLE(uint64(off), uint64(100-t.max), uint64(on), uint64(t.max)) {
			return t.tier
		}
	}
	return tiers[len(tiers)-1].tier
}

// mulLE reports a*b <= c*d without overflow.
func mulLE(a, b, c, d uint64) bool {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)
	if hi1 != hi2 {
		return hi1 < hi2
	}
	return lo1 <= lo2
}

func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Counts is anything carrying an on/off pair.
type Counts interface {
	Counters() (on, off int64)
}

// Aggregate is the footer row: raw sums across rows plus stats derived from them.
type Aggregate struct {
	Rows     int   `json:"rows"`
	OnCount  int64 `json:"onTurf"`
	OffCount int64 `json:"offTurf"`
	Stats    Stats `json:"stats"`
}

// Summarize sums raw counters and computes stats from the sums. It never
// averages per-row percentages.
func Summarize[T Counts](rows []T) Aggregate {
	var agg Aggregate
	for _, r := range rows {
		on, off := r.Counters()
		if on > 0 {
			agg.OnCount = addSat(agg.OnCount, on)
		}
		if off > 0 {
			agg.OffCount = addSat(agg.OffCount, off)
		}
		agg.Rows++
	}
	agg.Stats = Compute(agg.OnCount, agg.OffCount)
	return agg
}
