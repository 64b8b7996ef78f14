// Package models defines the core domain entities for the hypetrack application.
// These models represent the immutable analysis query, raw per-source time series,
// aligned (normalized) series, and the derived hype index.
//
// Terminology:
//   - Bucket: one fixed-width time interval within the query window, the atomic
//     unit of alignment. Bucket widths are calendar-aware, so "monthly" buckets
//     follow real month boundaries rather than a fixed number of hours.
//   - Source: one upstream data provider (scholar, trends, arxiv, corpus).
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BucketWidth is a calendar-aware bucket size. Exactly one of Months or Days
// is non-zero. Month-based widths advance along real calendar boundaries so a
// monthly bucket starting on Jan 1 ends on Feb 1 regardless of month length.
type BucketWidth struct {
	Months int `json:"months,omitempty"`
	Days   int `json:"days,omitempty"`
}

// Named widths matching the original CLI bucket grammar.
var (
	Yearly    = BucketWidth{Months: 12}
	Quarterly = BucketWidth{Months: 3}
	Monthly   = BucketWidth{Months: 1}
)

// DaysWidth returns a bucket width of n days.
func DaysWidth(n int) BucketWidth {
	return BucketWidth{Days: n}
}

// ParseBucketWidth parses the bucket grammar: "yearly", "monthly", "quarterly",
// or "days:N" for a custom day count.
func ParseBucketWidth(s string) (BucketWidth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yearly":
		return Yearly, nil
	case "monthly":
		return Monthly, nil
	case "quarterly":
		return Quarterly, nil
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(s)), "days:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return BucketWidth{}, fmt.Errorf("invalid bucket %q: day count must be a positive integer", s)
		}
		return DaysWidth(n), nil
	}
	return BucketWidth{}, fmt.Errorf("invalid bucket %q: use yearly, monthly, quarterly, or days:N", s)
}

// IsZero reports whether the width is unset.
func (b BucketWidth) IsZero() bool {
	return b.Months == 0 && b.Days == 0
}

// Advance returns the start of the next bucket after a bucket starting at t.
func (b BucketWidth) Advance(t time.Time) time.Time {
	if b.Months > 0 {
		return t.AddDate(0, b.Months, 0)
	}
	return t.AddDate(0, 0, b.Days)
}

func (b BucketWidth) String() string {
	switch b {
	case Yearly:
		return "yearly"
	case Monthly:
		return "monthly"
	case Quarterly:
		return "quarterly"
	}
	if b.Months > 0 {
		return fmt.Sprintf("months:%d", b.Months)
	}
	return fmt.Sprintf("days:%d", b.Days)
}

// Span is one bucket interval: [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Label formats the span the way the exported CSVs name periods: the year for
// yearly buckets, YYYY-MM for monthly, YYYY-Q# for quarterly, and the start
// date otherwise.
func (s Span) Label(b BucketWidth) string {
	switch b {
	case Yearly:
		return strconv.Itoa(s.Start.Year())
	case Monthly:
		return s.Start.Format("2006-01")
	case Quarterly:
		q := (int(s.Start.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", s.Start.Year(), q)
	}
	return s.Start.Format("2006-01-02")
}

// maxBuckets caps the bucket walk so a degenerate width cannot loop unbounded.
const maxBuckets = 10000

// Query identifies what is being measured and over what granularity. It is
// immutable once constructed; its Key is used as a stable cache key component.
// The window is [Start, End), and Bucket must partition it exactly.
type Query struct {
	Term   string      `json:"term"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Bucket BucketWidth `json:"bucket"`
}

// Validate checks that the query describes a well-formed analysis window.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Term) == "" {
		return errors.New("query term must not be empty")
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return errors.New("query window must have both start and end")
	}
	if !q.End.After(q.Start) {
		return errors.New("query end must be after start")
	}
	if q.Bucket.IsZero() {
		return errors.New("query bucket width must be set")
	}
	if _, err := q.Spans(); err != nil {
		return err
	}
	return nil
}

// Spans partitions [Start, End) into bucket intervals. It fails when the
// bucket width does not land exactly on End, which is a caller configuration
// error rather than anything transient.
func (q Query) Spans() ([]Span, error) {
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("query end %s must be after start %s", q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}
	var spans []Span
	cur := q.Start
	for cur.Before(q.End) {
		if len(spans) >= maxBuckets {
			return nil, fmt.Errorf("query would produce more than %d buckets", maxBuckets)
		}
		next := q.Bucket.Advance(cur)
		if !next.After(cur) {
			return nil, fmt.Errorf("bucket width %s does not advance time", q.Bucket)
		}
		spans = append(spans, Span{Start: cur, End: next})
		cur = next
	}
	if !cur.Equal(q.End) {
		return nil, fmt.Errorf("bucket width %s does not evenly divide window %s..%s",
			q.Bucket, q.Start.Format("2006-01-02"), q.End.Format("2006-01-02"))
	}
	return spans, nil
}

// BucketCount returns N, the number of buckets in the window.
func (q Query) BucketCount() (int, error) {
	spans, err := q.Spans()
	if err != nil {
		return 0, err
	}
	return len(spans), nil
}

// Key returns a stable serialization of the query for use as a cache key
// component. Two queries with the same term, window, and bucket width always
// produce the same key.
func (q Query) Key() string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(q.Term)),
		q.Start.UTC().Format(time.RFC3339),
		q.End.UTC().Format(time.RFC3339),
		q.Bucket.String(),
	}, "|")
}
