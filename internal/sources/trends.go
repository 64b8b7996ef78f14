package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rewired-gh/hypetrack/internal/align"
	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// trendsPoint is one weekly reading from the search-interest API.
type trendsPoint struct {
	Week     string  `json:"week"` // YYYY-MM-DD, start of the week
	Interest float64 `json:"interest"`
}

type trendsResponse struct {
	Term   string        `json:"term"`
	Points []trendsPoint `json:"points"`
}

// Trends fetches weekly search-interest scores. Values arrive already
// normalized to 0–100 by the upstream source and are passed through
// unchanged; duplicates for the same week resolve latest-wins, since a
// later reading of an index supersedes rather than adds.
type Trends struct {
	client  *fetch.Client
	baseURL string
}

// NewTrends creates the search-interest adapter.
func NewTrends(client *fetch.Client, baseURL string) *Trends {
	return &Trends{client: client, baseURL: baseURL}
}

func (t *Trends) ID() models.SourceID {
	return models.SourceTrends
}

func (t *Trends) Aggregation() align.Aggregation {
	return align.Mean
}

func (t *Trends) CacheKey(q models.Query) (string, error) {
	return q.Key(), nil
}

// Series fetches weekly interest for the query window.
func (t *Trends) Series(ctx context.Context, q models.Query) (models.RawSeries, error) {
	params := url.Values{}
	params.Set("term", q.Term)
	params.Set("start", q.Start.UTC().Format("2006-01-02"))
	params.Set("end", q.End.UTC().Format("2006-01-02"))
	endpoint := t.baseURL + "/v1/interest?" + params.Encode()

	var resp trendsResponse
	if err := t.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return models.RawSeries{}, err
	}

	points := make([]models.TimePoint, 0, len(resp.Points))
	for _, p := range resp.Points {
		week, err := time.ParseInLocation("2006-01-02", p.Week, time.UTC)
		if err != nil {
			return models.RawSeries{}, fetch.NewPermanent(models.SourceTrends, endpoint,
				fmt.Errorf("unparseable week %q: %w", p.Week, err))
		}
		if p.Interest < 0 || p.Interest > 100 {
			return models.RawSeries{}, fetch.NewPermanent(models.SourceTrends, endpoint,
				fmt.Errorf("interest %v for week %s outside the 0-100 index range", p.Interest, p.Week))
		}
		points = append(points, models.TimePoint{
			Timestamp: week,
			Value:     p.Interest,
			Source:    models.SourceTrends,
		})
	}

	return models.RawSeries{
		Source: models.SourceTrends,
		Points: dedupLast(models.SourceTrends, points),
	}, nil
}
