package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/hypetrack/internal/cache"
	"github.com/rewired-gh/hypetrack/internal/config"
	"github.com/rewired-gh/hypetrack/internal/models"
)

func testQuery() models.Query {
	return models.Query{
		Term:   "FHIR",
		Start:  time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
		Bucket: models.Yearly,
	}
}

// testConfig enables only the scholar and corpus sources, pointing scholar at
// the given server and corpus at a populated temp directory.
func testConfig(t *testing.T, scholarURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sources.Scholar.BaseURL = scholarURL
	cfg.Sources.Scholar.MaxRetries = 0
	cfg.Sources.Scholar.RetryDelayBase = time.Millisecond
	cfg.Sources.Scholar.MinInterval = 0
	cfg.Sources.Trends.Enabled = false
	cfg.Sources.Arxiv.Enabled = false

	dir := t.TempDir()
	docs := `[
		{"text":"FHIR mentioned once","timestamp":"2019-06-01"},
		{"text":"FHIR and FHIR again","timestamp":"2020-06-01"},
		{"text":"FHIR FHIR FHIR FHIR","timestamp":"2021-06-01"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "docs.json"), []byte(docs), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Corpus.Dir = dir

	cfg.Cache.DBPath = filepath.Join(t.TempDir(), "cache.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) *cache.Store {
	t.Helper()
	store, err := cache.Open(cfg.Cache.DBPath)
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const scholarPayload = `{"term":"FHIR","rows":[
	{"year":2019,"results":10},
	{"year":2020,"results":40},
	{"year":2021,"results":90}
]}`

func TestRunCombinesSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(scholarPayload))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	p := New(cfg, openStore(t, cfg))

	res, err := p.Run(context.Background(), testQuery(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.RunID == "" {
		t.Error("run ID must be set")
	}
	if len(res.Hype.Points) != 3 {
		t.Fatalf("got %d points, want 3 yearly buckets", len(res.Hype.Points))
	}
	if len(res.Hype.Missing) != 0 {
		t.Errorf("unexpected missing sources: %v", res.Hype.Missing)
	}
	// Both sources rise monotonically, so the composite peaks in the last
	// bucket and the pair correlates positively.
	if res.Hype.PeakBucket != 2 {
		t.Errorf("peak bucket = %d, want 2", res.Hype.PeakBucket)
	}
	if len(res.Hype.Correlations) != 1 || res.Hype.Correlations[0].Coefficient <= 0.9 {
		t.Errorf("expected strong positive correlation, got %v", res.Hype.Correlations)
	}
	if got := res.Bucketed[models.SourceScholar]; len(got) != 3 || got[2] != 90 {
		t.Errorf("scholar native buckets = %v, want [10 40 90]", got)
	}
}

func TestRunToleratesSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	p := New(cfg, openStore(t, cfg))

	res, err := p.Run(context.Background(), testQuery(), false)
	if err != nil {
		t.Fatalf("Run should survive a single source failure, got: %v", err)
	}
	if res.Errors[models.SourceScholar] == nil {
		t.Error("scholar failure should be recorded in Errors")
	}
	if len(res.Hype.Missing) != 1 || res.Hype.Missing[0] != models.SourceScholar {
		t.Errorf("missing = %v, want [scholar]", res.Hype.Missing)
	}
	for i, p := range res.Hype.Points {
		if p.Components[models.SourceScholar] != nil {
			t.Errorf("bucket %d: failed source should carry a nil component", i)
		}
	}
}

func TestRunFailsWhenAllSourcesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Sources.Corpus.Enabled = false
	p := New(cfg, openStore(t, cfg))

	if _, err := p.Run(context.Background(), testQuery(), false); err == nil {
		t.Fatal("run with zero surviving sources must fail")
	}
}

func TestRunInvalidQueryFails(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	p := New(cfg, openStore(t, cfg))

	q := testQuery()
	q.Start, q.End = q.End, q.Start
	if _, err := p.Run(context.Background(), q, false); err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestRunUsesCacheAndRefreshBypassesIt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(scholarPayload))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Sources.Corpus.Enabled = false
	p := New(cfg, openStore(t, cfg))

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), testQuery(), false); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (second run served from cache)", got)
	}

	if _, err := p.Run(context.Background(), testQuery(), true); err != nil {
		t.Fatalf("refresh run failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2 after refresh bypass", got)
	}
}
