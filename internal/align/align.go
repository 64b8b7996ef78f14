// Package align maps irregular per-source raw series onto one canonical
// bucket grid and rescales them into comparable [0,1] ranges.
//
// Alignment runs in three passes per source:
//
//  1. Aggregate: every observation inside a bucket is combined per the
//     source's rule — summation for count-like sources, mean for index-like
//     sources (an interest index sampled four times in a month is not four
//     times the interest).
//  2. Gap fill: buckets with no observations receive a value per the
//     source's gap policy, so downstream math never sees holes or NaN.
//  3. Normalize: min-max rescale over the full window. A source with no
//     variation at all normalizes to a constant 0.5, which signals "flat"
//     without fabricating a 0 or 1.
//
// Alignment is a pure function over already-materialized data; failures are
// always caller configuration errors, never transient.
package align

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// Aggregation selects how multiple observations within one bucket combine.
type Aggregation int

const (
	// Sum adds observations; correct for counts (publications, occurrences).
	Sum Aggregation = iota
	// Mean averages observations; correct for index-like values (interest).
	Mean
)

// GapPolicy selects the value assigned to a bucket with zero observations.
type GapPolicy int

const (
	// Carry repeats the previous bucket's aggregated value; leading gaps
	// with no previous value become zero.
	Carry GapPolicy = iota
	// Zero fills gaps with zero.
	Zero
	// Interpolate fills internal gaps linearly between the surrounding
	// observed buckets; leading gaps become zero and trailing gaps carry.
	Interpolate
)

// ParseGapPolicy maps a config string to a GapPolicy.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "carry", "":
		return Carry, nil
	case "zero":
		return Zero, nil
	case "interpolate":
		return Interpolate, nil
	}
	return Carry, fmt.Errorf("unknown gap policy %q", s)
}

// Rule is the per-source alignment configuration.
type Rule struct {
	Aggregate Aggregation
	Gap       GapPolicy
}

// Error marks an alignment failure. It always indicates a malformed query or
// configuration, so callers should treat it as fatal to the run rather than
// retrying.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "alignment error: " + e.Reason
}

// Align buckets and normalizes every raw series onto the query's grid.
// Sources with no observations at all are omitted from the result; the
// caller decides how to treat an entirely absent source. Every returned
// series has exactly N values, where N is the query's bucket count.
func Align(q models.Query, raw map[models.SourceID]models.RawSeries, rules map[models.SourceID]Rule) (map[models.SourceID]models.AlignedSeries, error) {
	spans, err := q.Spans()
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}

	out := make(map[models.SourceID]models.AlignedSeries, len(raw))
	for id, series := range raw {
		if len(series.Points) == 0 {
			continue
		}
		rule := rules[id]
		vals, observed := aggregate(spans, series.Points, rule.Aggregate)
		fillGaps(vals, observed, rule.Gap)
		normalize(vals)
		out[id] = models.AlignedSeries{Source: id, Values: vals}
	}
	return out, nil
}

// Bucketed aggregates and gap-fills one series onto the query's grid without
// normalizing, leaving the values in source-native units. Used for data
// exports where the absolute counts matter. An empty series returns nil.
func Bucketed(q models.Query, series models.RawSeries, rule Rule) ([]float64, error) {
	spans, err := q.Spans()
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}
	if len(series.Points) == 0 {
		return nil, nil
	}
	vals, observed := aggregate(spans, series.Points, rule.Aggregate)
	fillGaps(vals, observed, rule.Gap)
	return vals, nil
}

// aggregate combines the observations falling into each bucket. Observations
// outside the query window are dropped. The second return value marks which
// buckets had at least one observation.
func aggregate(spans []models.Span, points []models.TimePoint, agg Aggregation) ([]float64, []bool) {
	vals := make([]float64, len(spans))
	counts := make([]int, len(spans))

	for _, p := range points {
		// First span whose end is after the timestamp; spans are sorted
		// and contiguous, so this is the only candidate.
		i := sort.Search(len(spans), func(i int) bool {
			return spans[i].End.After(p.Timestamp)
		})
		if i >= len(spans) || !spans[i].Contains(p.Timestamp) {
			continue
		}
		vals[i] += p.Value
		counts[i]++
	}

	observed := make([]bool, len(spans))
	for i := range spans {
		if counts[i] == 0 {
			continue
		}
		observed[i] = true
		if agg == Mean {
			vals[i] /= float64(counts[i])
		}
	}
	return vals, observed
}

// fillGaps assigns values to unobserved buckets in place.
func fillGaps(vals []float64, observed []bool, gap GapPolicy) {
	switch gap {
	case Zero:
		for i := range vals {
			if !observed[i] {
				vals[i] = 0
			}
		}
	case Carry:
		prev := 0.0
		for i := range vals {
			if observed[i] {
				prev = vals[i]
			} else {
				vals[i] = prev
			}
		}
	case Interpolate:
		lastObserved := -1
		for i := range vals {
			if !observed[i] {
				continue
			}
			if lastObserved == -1 {
				// Leading gap: nothing to interpolate from.
				for j := 0; j < i; j++ {
					vals[j] = 0
				}
			} else {
				left, right := vals[lastObserved], vals[i]
				width := float64(i - lastObserved)
				for j := lastObserved + 1; j < i; j++ {
					frac := float64(j-lastObserved) / width
					vals[j] = left + (right-left)*frac
				}
			}
			lastObserved = i
		}
		if lastObserved == -1 {
			for i := range vals {
				vals[i] = 0
			}
		} else {
			// Trailing gap: carry the last observation forward.
			for j := lastObserved + 1; j < len(vals); j++ {
				vals[j] = vals[lastObserved]
			}
		}
	}
}

// normalize rescales vals into [0,1] in place via min-max over the window.
// A series with no variation becomes a constant 0.5 to avoid division by
// zero while still distinguishing "flat" from "low" or "high".
func normalize(vals []float64) {
	if len(vals) == 0 {
		return
	}
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range vals {
			vals[i] = 0.5
		}
		return
	}
	span := max - min
	for i := range vals {
		vals[i] = (vals[i] - min) / span
	}
}
