package sources

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rewired-gh/hypetrack/internal/align"
	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// Document is one dated text from the corpus collaborator.
type Document struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentSource supplies sequential read access to a corpus. Implementations
// must be deterministic: the same corpus contents yield the same walk order
// and the same fingerprint.
type DocumentSource interface {
	// Walk calls fn for every document. It stops early when fn or the
	// context reports an error.
	Walk(ctx context.Context, fn func(Document) error) error
	// Fingerprint identifies the corpus contents for cache keying.
	Fingerprint() (string, error)
}

// Corpus counts case-insensitive, word-boundary occurrences of the query
// term across a local document corpus. There is no network involved — the
// "fetch" is a deterministic scan — but scanning a large corpus is costly,
// so results still flow through the cache keyed by (query, corpus version).
type Corpus struct {
	docs DocumentSource
}

// NewCorpus creates the occurrence-count adapter over docs.
func NewCorpus(docs DocumentSource) *Corpus {
	return &Corpus{docs: docs}
}

func (c *Corpus) ID() models.SourceID {
	return models.SourceCorpus
}

func (c *Corpus) Aggregation() align.Aggregation {
	return align.Sum
}

// CacheKey appends the corpus fingerprint to the query key so edits to the
// corpus invalidate cached scans instead of serving stale counts.
func (c *Corpus) CacheKey(q models.Query) (string, error) {
	fp, err := c.docs.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint corpus: %w", err)
	}
	return q.Key() + "|corpus:" + fp, nil
}

// Series scans the corpus and emits one observation per document that
// contains the term, valued at the occurrence count. Duplicate timestamps
// sum, matching the count semantics of the other sources.
func (c *Corpus) Series(ctx context.Context, q models.Query) (models.RawSeries, error) {
	re, err := termPattern(q.Term)
	if err != nil {
		return models.RawSeries{}, fetch.NewPermanent(models.SourceCorpus, "scan",
			fmt.Errorf("term %q does not compile to a match pattern: %w", q.Term, err))
	}

	var points []models.TimePoint
	walkErr := c.docs.Walk(ctx, func(doc Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(re.FindAllStringIndex(doc.Text, -1))
		if n == 0 {
			return nil
		}
		points = append(points, models.TimePoint{
			Timestamp: doc.Timestamp.UTC(),
			Value:     float64(n),
			Source:    models.SourceCorpus,
		})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return models.RawSeries{}, fetch.NewTransient(models.SourceCorpus, "scan", walkErr)
		}
		return models.RawSeries{}, fetch.NewPermanent(models.SourceCorpus, "scan", walkErr)
	}

	return models.RawSeries{
		Source: models.SourceCorpus,
		Points: dedupSum(models.SourceCorpus, points),
	}, nil
}

// termPattern compiles a case-insensitive, word-boundary match for the term.
// Word boundaries are only asserted next to word characters, so terms like
// "C++" still match.
func termPattern(term string) (*regexp.Regexp, error) {
	if term == "" {
		return nil, fmt.Errorf("empty term")
	}
	quoted := regexp.QuoteMeta(term)
	pattern := "(?i)"
	if isWordChar(term[0]) {
		pattern += `\b`
	}
	pattern += quoted
	if isWordChar(term[len(term)-1]) {
		pattern += `\b`
	}
	return regexp.Compile(pattern)
}

func isWordChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// DirCorpus reads documents from JSON files in a directory. Each file holds
// either a single document or an array of documents with "text" and
// "timestamp" fields.
type DirCorpus struct {
	Dir  string
	Glob string
}

// jsonDocument tolerates both RFC3339 and bare-date timestamps.
type jsonDocument struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func (d jsonDocument) toDocument(path string) (Document, error) {
	ts, err := time.Parse(time.RFC3339, d.Timestamp)
	if err != nil {
		ts, err = time.ParseInLocation("2006-01-02", d.Timestamp, time.UTC)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%s: unparseable timestamp %q", path, d.Timestamp)
	}
	return Document{Text: d.Text, Timestamp: ts}, nil
}

func (d *DirCorpus) files() ([]string, error) {
	glob := d.Glob
	if glob == "" {
		glob = "*.json"
	}
	paths, err := filepath.Glob(filepath.Join(d.Dir, glob))
	if err != nil {
		return nil, fmt.Errorf("bad corpus glob %q: %w", glob, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Walk reads every matching file in lexical order.
func (d *DirCorpus) Walk(ctx context.Context, fn func(Document) error) error {
	paths, err := d.files()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read corpus file: %w", err)
		}
		var many []jsonDocument
		if err := json.Unmarshal(raw, &many); err != nil {
			var one jsonDocument
			if err := json.Unmarshal(raw, &one); err != nil {
				return fmt.Errorf("%s: not a document or document array: %w", path, err)
			}
			many = []jsonDocument{one}
		}
		for _, jd := range many {
			doc, err := jd.toDocument(path)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fingerprint hashes file names, sizes, and modification times. Content
// hashing would be exact but defeats the point of caching large corpora.
func (d *DirCorpus) Fingerprint() (string, error) {
	paths, err := d.files()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat corpus file: %w", err)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", filepath.Base(path), info.Size(), info.ModTime().UnixNano())
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16]), nil
}
