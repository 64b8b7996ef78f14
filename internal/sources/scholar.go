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

// scholarRow is one (year, count) pair from the publication-count API.
type scholarRow struct {
	Year    int     `json:"year"`
	Results float64 `json:"results"`
}

// scholarResponse is the publication-count API payload: absolute yearly
// publication counts for a search term.
type scholarResponse struct {
	Term string       `json:"term"`
	Rows []scholarRow `json:"rows"`
}

// Scholar fetches yearly academic publication counts. Values are absolute
// counts with no upper bound; duplicates for the same year are summed.
type Scholar struct {
	client  *fetch.Client
	baseURL string
}

// NewScholar creates the publication-count adapter.
func NewScholar(client *fetch.Client, baseURL string) *Scholar {
	return &Scholar{client: client, baseURL: baseURL}
}

func (s *Scholar) ID() models.SourceID {
	return models.SourceScholar
}

func (s *Scholar) Aggregation() align.Aggregation {
	return align.Sum
}

func (s *Scholar) CacheKey(q models.Query) (string, error) {
	return q.Key(), nil
}

// Series fetches publication counts for every year overlapping the query
// window. Yearly counts are anchored to January 1 of their year; alignment
// drops anchors outside the window.
func (s *Scholar) Series(ctx context.Context, q models.Query) (models.RawSeries, error) {
	params := url.Values{}
	params.Set("term", q.Term)
	params.Set("start_year", fmt.Sprintf("%d", q.Start.Year()))
	params.Set("end_year", fmt.Sprintf("%d", q.End.Year()))
	endpoint := s.baseURL + "/v1/publications?" + params.Encode()

	var resp scholarResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return models.RawSeries{}, err
	}

	points := make([]models.TimePoint, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if row.Results < 0 {
			return models.RawSeries{}, fetch.NewPermanent(models.SourceScholar, endpoint,
				fmt.Errorf("negative publication count %v for year %d", row.Results, row.Year))
		}
		points = append(points, models.TimePoint{
			Timestamp: time.Date(row.Year, time.January, 1, 0, 0, 0, 0, time.UTC),
			Value:     row.Results,
			Source:    models.SourceScholar,
		})
	}

	return models.RawSeries{
		Source: models.SourceScholar,
		Points: dedupSum(models.SourceScholar, points),
	}, nil
}
