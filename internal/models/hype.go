package models

import (
	"errors"
	"math"
)

// HypePoint is the composite hype index for one bucket. Components holds the
// normalized per-source value contributing to the score; a source that failed
// for the whole run appears with a nil value rather than being dropped, so
// consumers can tell "no signal" apart from "source unavailable".
type HypePoint struct {
	Bucket     int                  `json:"bucket"`
	Span       Span                 `json:"span"`
	Composite  float64              `json:"composite_score"`
	Components map[SourceID]*float64 `json:"components"`
}

// Correlation is the Pearson correlation coefficient between two aligned
// component series over the full window.
type Correlation struct {
	A           SourceID `json:"a"`
	B           SourceID `json:"b"`
	Coefficient float64  `json:"coefficient"`
}

// HypeSeries is the derived artifact of one pipeline run: the per-bucket
// composite scores plus summary statistics. Its length always equals the
// query's bucket count regardless of source failures; missing sources are
// listed in Missing and excluded from the composite, never zero-filled.
type HypeSeries struct {
	Term         string        `json:"term"`
	Points       []HypePoint   `json:"points"`
	PeakBucket   int           `json:"peak_bucket"`
	Correlations []Correlation `json:"correlations"`
	Missing      []SourceID    `json:"missing,omitempty"`
	// WeakStats flags windows too short (fewer than 3 buckets) for the
	// correlation coefficients to carry statistical weight.
	WeakStats bool `json:"weak_stats,omitempty"`
}

// Validate checks the derived-series invariants.
func (h *HypeSeries) Validate() error {
	if h.Term == "" {
		return errors.New("hype series term must not be empty")
	}
	if len(h.Points) == 0 {
		return errors.New("hype series must have at least one point")
	}
	if h.PeakBucket < 0 || h.PeakBucket >= len(h.Points) {
		return errors.New("peak bucket index out of range")
	}
	for i := range h.Points {
		p := &h.Points[i]
		if p.Bucket != i {
			return errors.New("hype points must be indexed contiguously from 0")
		}
		if math.IsNaN(p.Composite) || math.IsInf(p.Composite, 0) {
			return errors.New("composite score must be finite")
		}
	}
	return nil
}
