// Package hype derives the composite hype index from aligned source series.
//
// The composite for a bucket is the arithmetic mean of the normalized values
// of every source that produced data; sources that failed or returned nothing
// are excluded from the mean rather than zero-filled, so a missing source
// never drags the index down. Alongside the per-bucket scores the package
// reports the peak bucket and the pairwise Pearson correlation between
// component series, which shows whether, say, search interest and publication
// volume actually move together for the term.
package hype

import (
	"fmt"
	"math"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// minCorrelationBuckets is the window length below which Pearson coefficients
// are reported as 0 and the result is flagged as statistically weak.
const minCorrelationBuckets = 3

// Compute derives the hype series for the query from the aligned component
// series. requested names the sources the run attempted; any requested source
// absent from aligned is recorded in Missing and carried as a nil component
// in every point. At least one aligned series is required.
func Compute(q models.Query, aligned map[models.SourceID]models.AlignedSeries, requested []models.SourceID) (models.HypeSeries, error) {
	spans, err := q.Spans()
	if err != nil {
		return models.HypeSeries{}, err
	}
	if len(aligned) == 0 {
		return models.HypeSeries{}, fmt.Errorf("no aligned series for %q", q.Term)
	}

	// Canonical ordering keeps output columns and correlation pairs stable
	// across runs regardless of map iteration.
	var present, missing []models.SourceID
	for _, id := range models.AllSources {
		if !contains(requested, id) {
			continue
		}
		if s, ok := aligned[id]; ok {
			if len(s.Values) != len(spans) {
				return models.HypeSeries{}, fmt.Errorf(
					"aligned series for %s has %d values, query has %d buckets",
					id, len(s.Values), len(spans))
			}
			present = append(present, id)
		} else {
			missing = append(missing, id)
		}
	}
	if len(present) == 0 {
		return models.HypeSeries{}, fmt.Errorf("no aligned series for %q", q.Term)
	}

	points := make([]models.HypePoint, len(spans))
	peak := 0
	for i, span := range spans {
		components := make(map[models.SourceID]*float64, len(present)+len(missing))
		sum := 0.0
		for _, id := range present {
			v := aligned[id].Values[i]
			components[id] = &v
			sum += v
		}
		for _, id := range missing {
			components[id] = nil
		}
		points[i] = models.HypePoint{
			Bucket:     i,
			Span:       span,
			Composite:  sum / float64(len(present)),
			Components: components,
		}
		// Strict > keeps the earliest bucket on ties.
		if points[i].Composite > points[peak].Composite {
			peak = i
		}
	}

	weak := len(spans) < minCorrelationBuckets
	var correlations []models.Correlation
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			coeff := 0.0
			if !weak {
				coeff = Pearson(aligned[present[i]].Values, aligned[present[j]].Values)
			}
			correlations = append(correlations, models.Correlation{
				A:           present[i],
				B:           present[j],
				Coefficient: coeff,
			})
		}
	}

	return models.HypeSeries{
		Term:         q.Term,
		Points:       points,
		PeakBucket:   peak,
		Correlations: correlations,
		Missing:      missing,
		WeakStats:    weak,
	}, nil
}

// Pearson computes the sample Pearson correlation coefficient between two
// equal-length series: cov(x,y) / (σx·σy). Returns 0 when either series is
// constant (zero variance makes the coefficient undefined) or when the
// series are shorter than 2 points. The result is clamped to [-1, 1] to
// absorb floating-point drift.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0
	}

	meanX, meanY := mean(x), mean(y)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, cov/math.Sqrt(varX*varY)))
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func contains(ids []models.SourceID, id models.SourceID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
