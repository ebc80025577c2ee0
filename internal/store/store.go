// Package store persists result tables in SQLite under logical keys, with the
// producing configuration, seed and worker count attached to each table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/scanlha/internal/monitoring"
	"github.com/banshee-data/scanlha/internal/results"
	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/space"
	"github.com/banshee-data/scanlha/internal/timeutil"
)

var (
	// ErrKeyExists is returned when saving to an occupied key without
	// overwrite.
	ErrKeyExists = errors.New("key already exists")
	// ErrKeyNotFound is returned when loading a key that was never saved.
	ErrKeyNotFound = errors.New("key not found")
	// ErrReservedKey is returned when saving under a reserved key.
	ErrReservedKey = errors.New("key is reserved")
)

// DefaultKey is the key tables are saved under when none is given.
const DefaultKey = "results"

const (
	kindParam = "param"
	kindField = "field"
)

// Store is a SQLite-backed table store. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	path  string
	log   monitoring.Logger
	clock timeutil.Clock
}

// Open opens or creates the store at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// A single connection keeps the pragmas below in effect for every query.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, log: monitoring.New("store"), clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetClock replaces the clock used for timestamps and retry backoff.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reserved reports whether key names store internals and cannot hold a table.
func (s *Store) Reserved(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return k == "" || k == "schema_migrations" || strings.HasPrefix(k, "sqlite_")
}

// Put saves t under key. An existing table under key is replaced only when
// overwrite is set; otherwise ErrKeyExists is returned.
func (s *Store) Put(ctx context.Context, key string, t *results.Table, overwrite bool) error {
	if s.Reserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	if t == nil {
		t = &results.Table{}
	}

	meta := t.Meta
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.clock.Now().UTC()
	}

	err := retryOnBusy(ctx, s.clock, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var existing string
		err = tx.QueryRowContext(ctx, `SELECT scan_id FROM scans WHERE key = ?`, key).Scan(&existing)
		switch {
		case err == nil && !overwrite:
			return fmt.Errorf("%w: %q in %s", ErrKeyExists, key, s.path)
		case err == nil:
			if err := deleteScan(ctx, tx, existing); err != nil {
				return err
			}
			s.log.Printf("Overwriting table %q in %s", key, s.path)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := insertTable(ctx, tx, key, meta, t.Rows); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}
	s.log.Printf("Saved %d rows under %q in %s", len(t.Rows), key, s.path)
	return nil
}

func deleteScan(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM scan_values WHERE scan_id = ?`,
		`DELETE FROM scan_points WHERE scan_id = ?`,
		`DELETE FROM scans WHERE scan_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func insertTable(ctx context.Context, tx *sql.Tx, key string, meta results.Meta, rows []results.Row) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO scans (scan_id, key, mode, seed, parallel, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, key, meta.Mode,
		strconv.FormatUint(meta.Seed, 10),
		meta.Parallel, meta.Config,
		meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_points (scan_id, idx, outcome, log, detail) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer pointStmt.Close()

	valueStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_values (scan_id, idx, kind, name, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer valueStmt.Close()

	for i, r := range rows {
		if _, err := pointStmt.ExecContext(ctx, meta.ID, i, string(r.Outcome), r.Log, r.Detail); err != nil {
			return fmt.Errorf("inserting point %d: %w", i, err)
		}
		for _, kv := range []struct {
			kind   string
			values map[string]float64
		}{{kindParam, r.Params}, {kindField, r.Fields}} {
			for name, v := range kv.values {
				if _, err := valueStmt.ExecContext(ctx, meta.ID, i, kv.kind, name, nullFloat(v)); err != nil {
					return fmt.Errorf("inserting %s %s of point %d: %w", kv.kind, name, i, err)
				}
			}
		}
	}
	return nil
}

// nullFloat stores NaN as NULL; SQLite has no NaN.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// Load reads the table saved under key.
func (s *Store) Load(ctx context.Context, key string) (*results.Table, error) {
	t := &results.Table{}

	var seed, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT scan_id, mode, seed, parallel, config, created_at FROM scans WHERE key = ?`, key,
	).Scan(&t.Meta.ID, &t.Meta.Mode, &seed, &t.Meta.Parallel, &t.Meta.Config, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q in %s", ErrKeyNotFound, key, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", key, err)
	}
	if t.Meta.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("loading %q: bad seed %q: %w", key, seed, err)
	}
	if t.Meta.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("loading %q: bad timestamp %q: %w", key, created, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, outcome, log, detail FROM scan_points WHERE scan_id = ? ORDER BY idx`, t.Meta.ID)
	if err != nil {
		return nil, fmt.Errorf("loading points of %q: %w", key, err)
	}
	for rows.Next() {
		var r results.Row
		var outcome string
		if err := rows.Scan(&r.Index, &outcome, &r.Log, &r.Detail); err != nil {
			rows.Close()
			return nil, err
		}
		r.Outcome = runner.Outcome(outcome)
		r.Params = space.Assignment{}
		t.Rows = append(t.Rows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vals, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, name, value FROM scan_values WHERE scan_id = ?`, t.Meta.ID)
	if err != nil {
		return nil, fmt.Errorf("loading values of %q: %w", key, err)
	}
	defer vals.Close()
	for vals.Next() {
		var idx int
		var kind, name string
		var v sql.NullFloat64
		if err := vals.Scan(&idx, &kind, &name, &v); err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(t.Rows) {
			return nil, fmt.Errorf("loading %q: value for unknown point %d", key, idx)
		}
		f := math.NaN()
		if v.Valid {
			f = v.Float64
		}
		r := &t.Rows[idx]
		if kind == kindParam {
			r.Params[name] = f
			continue
		}
		if r.Fields == nil {
			r.Fields = map[string]float64{}
		}
		r.Fields[name] = f
	}
	return t, vals.Err()
}

// Has reports whether a table is saved under key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans WHERE key = ?`, key).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys returns the keys of all saved tables in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM scans`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

// Merge concatenates the tables saved under key in every source and saves
// the result under key in dst. Differing configurations are merged with a
// warning; the first table's configuration is kept.
func Merge(ctx context.Context, dst *Store, key string, sources []*Store, overwrite bool) ([]string, error) {
	tables := make([]*results.Table, 0, len(sources))
	for _, src := range sources {
		t, err := src.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		dst.log.Printf("Read %d rows from %s", t.Len(), src.Path())
		tables = append(tables, t)
	}

	merged, warnings := results.Merge(tables...)
	for _, w := range warnings {
		dst.log.Warnf("%s", w)
	}
	if err := dst.Put(ctx, key, merged, overwrite); err != nil {
		return warnings, err
	}
	return warnings, nil
}
