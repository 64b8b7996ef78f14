package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/models"
)

func testSeries(value float64) models.RawSeries {
	return models.RawSeries{
		Source: models.SourceScholar,
		Points: []models.TimePoint{{
			Timestamp: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
			Value:     value,
			Source:    models.SourceScholar,
		}},
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrFetchCachesResult(t *testing.T) {
	s := openStore(t)
	var calls int32
	fn := func(ctx context.Context) (models.RawSeries, error) {
		atomic.AddInt32(&calls, 1)
		return testSeries(42), nil
	}

	for i := 0; i < 3; i++ {
		got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn)
		if err != nil {
			t.Fatalf("GetOrFetch failed: %v", err)
		}
		if got.Points[0].Value != 42 {
			t.Errorf("value = %v, want 42", got.Points[0].Value)
		}
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (later reads served from cache)", calls)
	}
}

func TestGetOrFetchExpiredEntryRefetches(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	var calls int32
	fn := func(ctx context.Context) (models.RawSeries, error) {
		n := atomic.AddInt32(&calls, 1)
		return testSeries(float64(n)), nil
	}

	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after expiry", calls)
	}
	if got.Points[0].Value != 2 {
		t.Errorf("value = %v, want the refetched 2", got.Points[0].Value)
	}
}

func TestGetOrFetchServesStaleOnTransientFailure(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	ok := func(ctx context.Context) (models.RawSeries, error) { return testSeries(7), nil }
	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, ok); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	transient := func(ctx context.Context) (models.RawSeries, error) {
		return models.RawSeries{}, fetch.NewTransient(models.SourceScholar, "upstream", errors.New("timeout"))
	}
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, transient)
	if err != nil {
		t.Fatalf("expected stale serve, got error: %v", err)
	}
	if got.Points[0].Value != 7 {
		t.Errorf("value = %v, want the stale 7", got.Points[0].Value)
	}
}

func TestGetOrFetchPermanentFailurePropagates(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	ok := func(ctx context.Context) (models.RawSeries, error) { return testSeries(7), nil }
	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, ok); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	permanent := func(ctx context.Context) (models.RawSeries, error) {
		return models.RawSeries{}, fetch.NewPermanent(models.SourceScholar, "upstream", errors.New("bad request"))
	}
	_, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, permanent)
	if err == nil {
		t.Fatal("permanent failure must not fall back to stale data")
	}
	if !fetch.IsPermanent(err) {
		t.Errorf("expected permanent error, got: %v", err)
	}
}

func TestGetOrFetchBypassForcesFetch(t *testing.T) {
	s := openStore(t)
	var calls int32
	fn := func(ctx context.Context) (models.RawSeries, error) {
		n := atomic.AddInt32(&calls, 1)
		return testSeries(float64(n)), nil
	}

	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, true, fn)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 (bypass ignores the fresh entry)", calls)
	}
	if got.Points[0].Value != 2 {
		t.Errorf("value = %v, want the refetched 2", got.Points[0].Value)
	}
}

func TestGetOrFetchBypassStillServesStaleOnTransientFailure(t *testing.T) {
	s := openStore(t)
	ok := func(ctx context.Context) (models.RawSeries, error) { return testSeries(3), nil }
	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, ok); err != nil {
		t.Fatal(err)
	}

	transient := func(ctx context.Context) (models.RawSeries, error) {
		return models.RawSeries{}, fetch.NewTransient(models.SourceScholar, "upstream", errors.New("timeout"))
	}
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, true, transient)
	if err != nil {
		t.Fatalf("bypass treats the entry as expired, not absent; got error: %v", err)
	}
	if got.Points[0].Value != 3 {
		t.Errorf("value = %v, want the stored 3", got.Points[0].Value)
	}
}

func TestGetOrFetchCorruptPayloadIsMiss(t *testing.T) {
	s := openStore(t)
	if _, err := s.writeDB.Exec(`
		INSERT INTO series (source, query_key, fetched_at, ttl_seconds, payload)
		VALUES (?, ?, ?, ?, ?)
	`, string(models.SourceScholar), "k", time.Now().UTC(), 3600, `{not json`); err != nil {
		t.Fatal(err)
	}

	var calls int32
	fn := func(ctx context.Context) (models.RawSeries, error) {
		atomic.AddInt32(&calls, 1)
		return testSeries(5), nil
	}
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (corrupt entry treated as miss)", calls)
	}
	if got.Points[0].Value != 5 {
		t.Errorf("value = %v, want the refetched 5", got.Points[0].Value)
	}
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	s := openStore(t)
	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (models.RawSeries, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return testSeries(1), nil
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn)
		}(i)
	}
	// Give all workers time to coalesce on the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1 shared across %d workers", got, workers)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	fn := func(ctx context.Context) (models.RawSeries, error) { return testSeries(9), nil }
	if _, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, fn); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	failing := func(ctx context.Context) (models.RawSeries, error) {
		return models.RawSeries{}, fmt.Errorf("should not be called")
	}
	got, err := s.GetOrFetch(context.Background(), models.SourceScholar, "k", time.Hour, false, failing)
	if err != nil {
		t.Fatalf("GetOrFetch after reopen failed: %v", err)
	}
	if got.Points[0].Value != 9 {
		t.Errorf("value = %v, want the persisted 9", got.Points[0].Value)
	}
}
