// Package cache persists fetched source series in SQLite so repeated runs
// over the same query window do not re-hit upstream APIs. Entries carry
// their own TTL; expired entries are refetched but kept around so a
// transient upstream failure can be answered from stale data.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/logger"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// FetchFunc produces a fresh series when the cache cannot answer.
type FetchFunc func(ctx context.Context) (models.RawSeries, error)

// Store is a persistent series cache backed by a single SQLite file.
// Concurrent lookups of the same key share one upstream fetch.
type Store struct {
	readDB  *sql.DB
	writeDB *sql.DB
	flight  singleflight.Group
	now     func() time.Time
}

// Open creates or opens the cache database at dbPath, creating parent
// directories as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	s := &Store{readDB: readDB, writeDB: writeDB, now: time.Now}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS series (
			source      TEXT NOT NULL,
			query_key   TEXT NOT NULL,
			fetched_at  DATETIME NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			payload     TEXT NOT NULL,
			PRIMARY KEY (source, query_key)
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// entry is a cached row, decoded lazily.
type entry struct {
	fetchedAt time.Time
	ttl       time.Duration
	payload   []byte
}

func (e *entry) fresh(now time.Time) bool {
	return now.Before(e.fetchedAt.Add(e.ttl))
}

// GetOrFetch returns the series for (source, key). A fresh cached entry is
// returned as is. On a miss, an expired entry, or when bypass is set, fn is
// called once even under concurrent callers; its result replaces the entry.
// When fn fails transiently and a stored entry still decodes, the stale
// series is served instead of the error. Permanent failures always
// propagate. Undecodable cached payloads count as misses.
func (s *Store) GetOrFetch(ctx context.Context, source models.SourceID, key string, ttl time.Duration, bypass bool, fn FetchFunc) (models.RawSeries, error) {
	var (
		stale    models.RawSeries
		hasStale bool
		staleAt  time.Time
	)
	ent, err := s.lookup(source, key)
	if err != nil {
		return models.RawSeries{}, err
	}
	if ent != nil {
		series, ok := s.decode(source, key, ent)
		// bypass treats every entry as expired: it can still back a
		// stale serve, but never satisfies the read directly.
		if ok && !bypass && ent.fresh(s.now()) {
			return series, nil
		}
		if ok {
			stale, hasStale, staleAt = series, true, ent.fetchedAt
		}
	}

	result, err, _ := s.flight.Do(string(source)+"|"+key, func() (any, error) {
		series, err := fn(ctx)
		if err != nil {
			return models.RawSeries{}, err
		}
		if err := s.put(source, key, ttl, series); err != nil {
			// A write failure degrades to uncached operation.
			logger.Warn("cache: failed to store %s entry: %v", source, err)
		}
		return series, nil
	})
	if err != nil {
		if hasStale && fetch.IsTransient(err) {
			logger.Warn("cache: serving stale %s data from %s after fetch failure: %v",
				source, staleAt.Format(time.RFC3339), err)
			return stale, nil
		}
		return models.RawSeries{}, err
	}
	return result.(models.RawSeries), nil
}

func (s *Store) lookup(source models.SourceID, key string) (*entry, error) {
	var (
		fetchedAt  time.Time
		ttlSeconds int64
		payload    []byte
	)
	err := s.readDB.QueryRow(
		"SELECT fetched_at, ttl_seconds, payload FROM series WHERE source = ? AND query_key = ?",
		string(source), key,
	).Scan(&fetchedAt, &ttlSeconds, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	return &entry{
		fetchedAt: fetchedAt,
		ttl:       time.Duration(ttlSeconds) * time.Second,
		payload:   payload,
	}, nil
}

// decode unmarshals and validates a cached payload. A payload that fails
// either check is logged and treated as absent.
func (s *Store) decode(source models.SourceID, key string, ent *entry) (models.RawSeries, bool) {
	var series models.RawSeries
	if err := json.Unmarshal(ent.payload, &series); err != nil {
		logger.Warn("cache: discarding corrupt %s entry for %q: %v", source, key, err)
		return models.RawSeries{}, false
	}
	if err := series.Validate(); err != nil {
		logger.Warn("cache: discarding invalid %s entry for %q: %v", source, key, err)
		return models.RawSeries{}, false
	}
	return series, true
}

func (s *Store) put(source models.SourceID, key string, ttl time.Duration, series models.RawSeries) error {
	payload, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encoding series: %w", err)
	}
	_, err = s.writeDB.Exec(`
		INSERT INTO series (source, query_key, fetched_at, ttl_seconds, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, query_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			ttl_seconds = excluded.ttl_seconds,
			payload = excluded.payload
	`, string(source), key, s.now().UTC(), int64(ttl/time.Second), payload)
	if err != nil {
		return fmt.Errorf("storing entry: %w", err)
	}
	return nil
}
