// Package sources contains the adapters that map vendor-specific payloads
// into the common RawSeries shape. Each adapter owns one upstream source,
// builds source-specific requests from the query, and applies that source's
// deduplication policy, so new sources plug in without touching alignment
// or correlation.
package sources

import (
	"context"
	"sort"
	"time"

	"github.com/rewired-gh/hypetrack/internal/align"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// Adapter is the capability every data source exposes to the pipeline.
type Adapter interface {
	// ID identifies the source.
	ID() models.SourceID
	// CacheKey returns the stable cache key for a query, incorporating any
	// source-local state; the corpus adapter appends its corpus fingerprint
	// so a changed corpus misses rather than serving a stale scan.
	CacheKey(q models.Query) (string, error)
	// Series fetches the source and maps its payload into observations.
	// Errors are *fetch.Error values (or wrap them) so callers can
	// distinguish transient from permanent failures.
	Series(ctx context.Context, q models.Query) (models.RawSeries, error)
	// Aggregation is the bucket-combination rule intrinsic to the source's
	// units: Sum for counts, Mean for index-like values.
	Aggregation() align.Aggregation
}

// dedupSum collapses observations sharing a native timestamp by summation
// and returns them sorted by time. Used by count sources, where two records
// for the same period are partial counts of the same total.
func dedupSum(src models.SourceID, points []models.TimePoint) []models.TimePoint {
	return dedup(src, points, func(old, new float64) float64 { return old + new })
}

// dedupLast collapses observations sharing a native timestamp by keeping the
// last one seen. Used by index sources, where a later record supersedes an
// earlier reading of the same index.
func dedupLast(src models.SourceID, points []models.TimePoint) []models.TimePoint {
	return dedup(src, points, func(_, new float64) float64 { return new })
}

func dedup(src models.SourceID, points []models.TimePoint, merge func(old, new float64) float64) []models.TimePoint {
	byTime := make(map[time.Time]float64, len(points))
	order := make([]time.Time, 0, len(points))
	for _, p := range points {
		ts := p.Timestamp.UTC()
		if v, seen := byTime[ts]; seen {
			byTime[ts] = merge(v, p.Value)
		} else {
			byTime[ts] = p.Value
			order = append(order, ts)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]models.TimePoint, 0, len(order))
	for _, ts := range order {
		out = append(out, models.TimePoint{Timestamp: ts, Value: byTime[ts], Source: src})
	}
	return out
}
