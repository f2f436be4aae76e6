// Package gcstats persists collection statistics to a SQLite database.
package gcstats

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/marrow/gc"
)

var log = commonlog.GetLogger("marrow.stats")

// ErrNotFound indicates the requested collection was never recorded.
var ErrNotFound = errors.New("gcstats: collection not found")

const schema = `CREATE TABLE IF NOT EXISTS collections (
	id               TEXT PRIMARY KEY,
	reason           TEXT NOT NULL,
	incremental      INTEGER NOT NULL,
	aborted          INTEGER NOT NULL,
	compartments     TEXT NOT NULL,
	slices           INTEGER NOT NULL,
	objects_scanned  INTEGER NOT NULL,
	delayed_arenas   INTEGER NOT NULL,
	saved_ranges     INTEGER NOT NULL,
	barriers         INTEGER NOT NULL,
	cells_before     INTEGER NOT NULL,
	cells_marked     INTEGER NOT NULL,
	cells_freed      INTEGER NOT NULL,
	objects_freed    INTEGER NOT NULL,
	arenas_released  INTEGER NOT NULL,
	atoms_swept      INTEGER NOT NULL,
	weakrefs_cleared INTEGER NOT NULL,
	started_at       INTEGER NOT NULL,
	mark_ns          INTEGER NOT NULL,
	sweep_ns         INTEGER NOT NULL,
	total_ns         INTEGER NOT NULL
)`

const columns = `id, reason, incremental, aborted, compartments, slices,
	objects_scanned, delayed_arenas, saved_ranges, barriers, cells_before,
	cells_marked, cells_freed, objects_freed, arenas_released, atoms_swept,
	weakrefs_cleared, started_at, mark_ns, sweep_ns, total_ns`

// Recorder stores one row per collection.
type Recorder struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	failed int
}

// Open opens or creates the statistics database at dbPath. ":memory:"
// keeps the statistics in memory.
func Open(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Recorder{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Path returns the database path.
func (r *Recorder) Path() string { return r.dbPath }

// Attach records every collection rt finishes or aborts from now on.
// Failures are logged and counted, not returned to the collector.
func (r *Recorder) Attach(rt *gc.Runtime) {
	rt.OnCollectionEnd(func(st *gc.CollectionStats) {
		if err := r.Record(st); err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			log.Warningf("recording collection %s: %s", st.ID, err)
		}
	})
}

// Failed returns the number of collections Attach could not record.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Record stores st, replacing any row with the same id.
func (r *Recorder) Record(st *gc.CollectionStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO collections ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		st.ID.String(), st.Reason, st.Incremental, st.Aborted, strings.Join(st.Compartments, ","),
		st.Slices, st.ObjectsScanned, st.DelayedArenas, st.SavedRanges, st.Barriers,
		st.CellsBefore, st.CellsMarked, st.CellsFreed, st.ObjectsFreed, st.ArenasReleased,
		st.AtomsSwept, st.WeakRefsCleared, st.Timestamp.UnixNano(),
		int64(st.MarkDuration), int64(st.SweepDuration), int64(st.TotalDuration),
	)
	if err != nil {
		return fmt.Errorf("saving collection: %w", err)
	}
	log.Debugf("recorded collection %s (%s)", st.ID, st.Reason)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStats(row scanner) (*gc.CollectionStats, error) {
	var (
		st                          gc.CollectionStats
		id, comps                   string
		startedAt, mark, sweep, tot int64
	)
	err := row.Scan(
		&id, &st.Reason, &st.Incremental, &st.Aborted, &comps,
		&st.Slices, &st.ObjectsScanned, &st.DelayedArenas, &st.SavedRanges, &st.Barriers,
		&st.CellsBefore, &st.CellsMarked, &st.CellsFreed, &st.ObjectsFreed, &st.ArenasReleased,
		&st.AtomsSwept, &st.WeakRefsCleared, &startedAt, &mark, &sweep, &tot,
	)
	if err != nil {
		return nil, err
	}
	if st.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing collection id %q: %w", id, err)
	}
	if comps != "" {
		st.Compartments = strings.Split(comps, ",")
	}
	st.Timestamp = time.Unix(0, startedAt)
	st.MarkDuration = time.Duration(mark)
	st.SweepDuration = time.Duration(sweep)
	st.TotalDuration = time.Duration(tot)
	return &st, nil
}

// Get returns the recorded collection with the given id.
func (r *Recorder) Get(id uuid.UUID) (*gc.CollectionStats, error) {
	row := r.db.QueryRow("SELECT "+columns+" FROM collections WHERE id = ?", id.String())
	st, err := scanStats(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	return st, nil
}

// Recent returns up to n collections, the latest first.
func (r *Recorder) Recent(n int) ([]*gc.CollectionStats, error) {
	rows, err := r.db.Query("SELECT "+columns+" FROM collections ORDER BY started_at DESC, rowid DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var out []*gc.CollectionStats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("reading collection: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Summary aggregates every recorded collection.
type Summary struct {
	Collections int
	Aborted     int
	Incremental int
	CellsFreed  int64
	MeanTotal   time.Duration
	MaxTotal    time.Duration
}

// Summarize aggregates the recorded collections.
func (r *Recorder) Summarize() (Summary, error) {
	var (
		s        Summary
		mean     sql.NullFloat64
		maxTotal sql.NullInt64
	)
	err := r.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(aborted), 0), COALESCE(SUM(incremental), 0),
		COALESCE(SUM(cells_freed), 0), AVG(total_ns), MAX(total_ns) FROM collections`).
		Scan(&s.Collections, &s.Aborted, &s.Incremental, &s.CellsFreed, &mean, &maxTotal)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing collections: %w", err)
	}
	s.MeanTotal = time.Duration(mean.Float64)
	s.MaxTotal = time.Duration(maxTotal.Int64)
	return s, nil
}
