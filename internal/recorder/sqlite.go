package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the sync journal to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets external readers query the journal while cycles write to it.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_cycles (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			symbols     INTEGER,
			failed      INTEGER,
			next_run    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON sync_cycles(started_at)`,

		`CREATE TABLE IF NOT EXISTS symbol_syncs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			cycle_id   TEXT,
			symbol     TEXT NOT NULL,
			period     INTEGER,
			from_date  INTEGER,
			to_date    INTEGER,
			fetched    INTEGER,
			stored     INTEGER,
			added      INTEGER,
			updated    INTEGER,
			gaps       INTEGER,
			outcome    TEXT,
			err_kind   TEXT,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_syncs_symbol_ts ON symbol_syncs(symbol, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (r *SQLiteRecorder) RecordSymbol(evt *SymbolEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO symbol_syncs
		(timestamp, cycle_id, symbol, period, from_date, to_date,
		 fetched, stored, added, updated, gaps, outcome, err_kind, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, evt.Symbol, evt.Period,
		unixOrZero(evt.From), unixOrZero(evt.To),
		evt.Fetched, evt.Stored, evt.Added, evt.Updated, evt.Gaps,
		evt.Outcome, evt.ErrKind, evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordCycle(evt *CycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO sync_cycles
		(id, started_at, finished_at, symbols, failed, next_run)
		VALUES (?,?,?,?,?,?)`,
		evt.ID, evt.StartedAt.Unix(), evt.FinishedAt.Unix(),
		evt.Symbols, evt.Failed, unixOrZero(evt.NextRun),
	)
	return err
}

// LastSymbolEvent returns the most recent journal row of symbol at period, nil if none.
func (r *SQLiteRecorder) LastSymbolEvent(symbol string, period int) (*SymbolEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evt SymbolEvent
	var from, to int64
	err := r.db.QueryRow(`SELECT cycle_id, symbol, period, from_date, to_date,
		fetched, stored, added, updated, gaps, outcome, err_kind, error
		FROM symbol_syncs WHERE symbol = ? AND period = ? ORDER BY id DESC LIMIT 1`, symbol, period).
		Scan(&evt.CycleID, &evt.Symbol, &evt.Period, &from, &to,
			&evt.Fetched, &evt.Stored, &evt.Added, &evt.Updated, &evt.Gaps,
			&evt.Outcome, &evt.ErrKind, &evt.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if from != 0 {
		evt.From = time.Unix(from, 0).UTC()
	}
	if to != 0 {
		evt.To = time.Unix(to, 0).UTC()
	}
	return &evt, nil
}

func (r *SQLiteRecorder) Close() error {
	log.Info("closing sqlite recorder")
	return r.db.Close()
}
