package models

import (
	"errors"
	"math"
	"sort"
	"time"
)

// SourceID identifies one upstream data source.
type SourceID string

// Known sources. Corpus is local-only; the rest are network-backed.
const (
	SourceScholar SourceID = "scholar" // academic publication counts
	SourceTrends  SourceID = "trends"  // search interest index, 0–100
	SourceArxiv   SourceID = "arxiv"   // arXiv preprint counts
	SourceCorpus  SourceID = "corpus"  // occurrence counts in a local corpus
)

// AllSources lists the known sources in canonical order. Output columns,
// correlation pairs, and missing-source reports all follow this order.
var AllSources = []SourceID{SourceScholar, SourceTrends, SourceArxiv, SourceCorpus}

// TimePoint is one atomic observation in source-native units: a citation
// count, a 0–100 interest score, or a raw occurrence count.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Source    SourceID  `json:"source"`
}

// Validate checks that the observation is usable.
func (p *TimePoint) Validate() error {
	if p.Timestamp.IsZero() {
		return errors.New("time point timestamp must be set")
	}
	if p.Source == "" {
		return errors.New("time point source must not be empty")
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return errors.New("time point value must be finite")
	}
	return nil
}

// RawSeries is the ordered sequence of observations for one source as
// returned by an adapter, before alignment. Spacing may be irregular and
// gaps are allowed; duplicate timestamps have already been resolved by the
// adapter's dedup policy.
type RawSeries struct {
	Source SourceID    `json:"source"`
	Points []TimePoint `json:"points"`
}

// Sort orders the points by timestamp ascending.
func (s *RawSeries) Sort() {
	sort.Slice(s.Points, func(i, j int) bool {
		return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
	})
}

// Validate checks the series and every point in it.
func (s *RawSeries) Validate() error {
	if s.Source == "" {
		return errors.New("raw series source must not be empty")
	}
	for i := range s.Points {
		if err := s.Points[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AlignedSeries maps canonical bucket index 0..N-1 to a normalized value in
// [0,1] for one source. Every source's aligned series over the same query has
// identical length and bucket boundaries; values are always finite.
type AlignedSeries struct {
	Source SourceID  `json:"source"`
	Values []float64 `json:"values"`
}

// Validate checks the normalization invariants: finite values in [0,1].
func (s *AlignedSeries) Validate() error {
	if s.Source == "" {
		return errors.New("aligned series source must not be empty")
	}
	for _, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("aligned series values must be finite")
		}
		if v < 0 || v > 1 {
			return errors.New("aligned series values must be within [0,1]")
		}
	}
	return nil
}
