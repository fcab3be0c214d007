// Package heaplog records garbage collection statistics in a SQLite
// database. Every VM run gets a row in the runs table keyed by a random
// run ID, and every collection of that run a row in the cycles table.
package heaplog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/snap/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("snap.heaplog")

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	program    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	stress_gc  INTEGER NOT NULL,
	max_heap   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	cycle          INTEGER NOT NULL,
	freed          INTEGER NOT NULL,
	live           INTEGER NOT NULL,
	bytes_before   INTEGER NOT NULL,
	bytes_after    INTEGER NOT NULL,
	next_threshold INTEGER NOT NULL,
	duration_ns    INTEGER NOT NULL,
	at             INTEGER NOT NULL,
	PRIMARY KEY (run_id, cycle)
);`

// Log is an open heap log database.
type Log struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Run describes one recorded VM run.
type Run struct {
	ID        string
	Program   string
	StartedAt time.Time
	StressGC  bool
	MaxHeap   int
}

// Summary aggregates the cycles of one run.
type Summary struct {
	Cycles        int
	Freed         int
	PeakBytes     int
	TotalDuration time.Duration
}

// Open opens or creates the database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened heap log %s", path)
	return &Log{db: db, path: path}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// StartRun records a new run and returns its ID.
func (l *Log) StartRun(program string, opts vm.Options) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	_, err := l.db.Exec(
		"INSERT INTO runs (id, program, started_at, stress_gc, max_heap) VALUES (?, ?, ?, ?, ?)",
		id, program, time.Now().UnixNano(), opts.StressGC, opts.MaxHeapBytes,
	)
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

// Record stores the statistics of one collection.
func (l *Log) Record(runID string, s *vm.GCStats) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		`INSERT INTO cycles (run_id, cycle, freed, live, bytes_before, bytes_after,
			next_threshold, duration_ns, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Cycle, s.Freed, s.Live, s.BytesBefore, s.BytesAfter,
		s.NextThreshold, s.Duration.Nanoseconds(), s.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording cycle %d: %w", s.Cycle, err)
	}
	return nil
}

// Attach makes v record every collection under runID, after any
// OnCollect hook already installed. Write failures are logged rather than
// surfaced, since a collection cannot fail.
func (l *Log) Attach(v *vm.VM, runID string) {
	prev := v.OnCollect
	v.OnCollect = func(s *vm.GCStats) {
		if prev != nil {
			prev(s)
		}
		if err := l.Record(runID, s); err != nil {
			log.Errorf("heap log: %s", err)
		}
	}
}

// Runs returns every recorded run, oldest first.
func (l *Log) Runs() ([]Run, error) {
	rows, err := l.db.Query("SELECT id, program, started_at, stress_gc, max_heap FROM runs ORDER BY started_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &r.Program, &started, &r.StressGC, &r.MaxHeap); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Cycles returns the collections recorded for runID in cycle order.
func (l *Log) Cycles(runID string) ([]vm.GCStats, error) {
	if err := l.checkRun(runID); err != nil {
		return nil, err
	}
	rows, err := l.db.Query(
		`SELECT cycle, freed, live, bytes_before, bytes_after, next_threshold, duration_ns, at
			FROM cycles WHERE run_id = ? ORDER BY cycle`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []vm.GCStats
	for rows.Next() {
		var s vm.GCStats
		var dur, at int64
		if err := rows.Scan(&s.Cycle, &s.Freed, &s.Live, &s.BytesBefore, &s.BytesAfter,
			&s.NextThreshold, &dur, &at); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		s.Duration = time.Duration(dur)
		s.Timestamp = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summarize aggregates the cycles of runID.
func (l *Log) Summarize(runID string) (Summary, error) {
	if err := l.checkRun(runID); err != nil {
		return Summary{}, err
	}
	var s Summary
	var dur int64
	err := l.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(freed), 0), COALESCE(MAX(bytes_before), 0),
			COALESCE(SUM(duration_ns), 0) FROM cycles WHERE run_id = ?`, runID,
	).Scan(&s.Cycles, &s.Freed, &s.PeakBytes, &dur)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing run: %w", err)
	}
	s.TotalDuration = time.Duration(dur)
	return s, nil
}

func (l *Log) checkRun(runID string) error {
	var id string
	err := l.db.QueryRow("SELECT id FROM runs WHERE id = ?", runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("querying run: %w", err)
	}
	return nil
}
