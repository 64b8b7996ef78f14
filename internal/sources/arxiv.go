package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/rewired-gh/hypetrack/internal/align"
	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/logger"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// arxivFeed is the subset of the arXiv Atom response we read.
type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Published string `xml:"published"`
}

// arxivMaxResults bounds each query. The arXiv API has no date filter, so we
// fetch the most recent submissions matching the term and count those whose
// published date falls inside the bucket; for very popular terms the count
// is an approximation, which Series logs at debug level.
const arxivMaxResults = 500

// Arxiv counts preprints matching the term per bucket. It issues one API
// request per bucket; the fetch client's minimum inter-call spacing keeps
// the sequence inside arXiv's 1-request-per-3-seconds budget.
type Arxiv struct {
	client  *fetch.Client
	baseURL string
}

// NewArxiv creates the arXiv preprint-count adapter.
func NewArxiv(client *fetch.Client, baseURL string) *Arxiv {
	return &Arxiv{client: client, baseURL: baseURL}
}

func (a *Arxiv) ID() models.SourceID {
	return models.SourceArxiv
}

func (a *Arxiv) Aggregation() align.Aggregation {
	return align.Sum
}

func (a *Arxiv) CacheKey(q models.Query) (string, error) {
	return q.Key(), nil
}

// Series counts in-window preprints bucket by bucket. Each count is anchored
// to its bucket start.
func (a *Arxiv) Series(ctx context.Context, q models.Query) (models.RawSeries, error) {
	spans, err := q.Spans()
	if err != nil {
		return models.RawSeries{}, fetch.NewPermanent(models.SourceArxiv, "query", err)
	}

	params := url.Values{}
	params.Set("search_query", "all:"+q.Term)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", arxivMaxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	endpoint := a.baseURL + "/api/query?" + params.Encode()

	points := make([]models.TimePoint, 0, len(spans))
	for _, span := range spans {
		count, err := a.countSpan(ctx, endpoint, span)
		if err != nil {
			return models.RawSeries{}, err
		}
		points = append(points, models.TimePoint{
			Timestamp: span.Start,
			Value:     float64(count),
			Source:    models.SourceArxiv,
		})
	}

	return models.RawSeries{
		Source: models.SourceArxiv,
		Points: dedupSum(models.SourceArxiv, points),
	}, nil
}

func (a *Arxiv) countSpan(ctx context.Context, endpoint string, span models.Span) (int, error) {
	body, err := a.client.Get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return 0, fetch.NewPermanent(models.SourceArxiv, endpoint,
			fmt.Errorf("failed to decode Atom feed: %w", err))
	}

	count := 0
	var oldest time.Time
	for _, entry := range feed.Entries {
		published, err := time.Parse(time.RFC3339, entry.Published)
		if err != nil {
			// One malformed entry should not sink the bucket.
			logger.Debug("arxiv: skipping entry with unparseable published date %q", entry.Published)
			continue
		}
		published = published.UTC()
		if oldest.IsZero() || published.Before(oldest) {
			oldest = published
		}
		if span.Contains(published) {
			count++
		}
	}
	if !oldest.IsZero() && oldest.After(span.Start) && len(feed.Entries) == arxivMaxResults {
		logger.Debug("arxiv: result window only reaches back to %s; counts for bucket %s may be low",
			oldest.Format("2006-01"), span.Start.Format("2006-01"))
	}
	return count, nil
}
