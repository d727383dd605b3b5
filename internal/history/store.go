package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MaxEntries caps the history; the oldest entries are evicted first.
const MaxEntries = 100

// Entry is one completed translation.
type Entry struct {
	Original     string `json:"original"`
	Translated   string `json:"translated"`
	Reasoning    string `json:"reasoning"`
	Timestamp    int64  `json:"timestamp"`
	HasReasoning bool   `json:"hasReasoning"`
}

const schema = `
CREATE TABLE IF NOT EXISTS history (
	original      TEXT PRIMARY KEY,
	translated    TEXT NOT NULL,
	reasoning     TEXT NOT NULL DEFAULT '',
	has_reasoning INTEGER NOT NULL DEFAULT 0,
	timestamp     INTEGER NOT NULL,
	seq           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS history_seq ON history(seq DESC);
`

// Store persists history in SQLite. Ordering uses a monotonically increasing
// sequence so that the most recently saved entry is always first even when
// timestamps collide.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps the
	// read-modify-write of upsert + trim serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts e by its original text, moves it to the front and trims the
// history to MaxEntries. A zero timestamp is set to now.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if e.Timestamp == 0 {
		e.Timestamp = s.now().UnixMilli()
	}
	e.HasReasoning = e.HasReasoning || e.Reasoning != ""
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsert(ctx, tx, e); err != nil {
			return err
		}
		return trim(ctx, tx)
	})
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original, translated, reasoning, has_reasoning, timestamp FROM history ORDER BY seq DESC LIMIT ?`, MaxEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entry, 0, MaxEntries)
	for rows.Next() {
		var e Entry
		var hasReasoning int
		if err := rows.Scan(&e.Original, &e.Translated, &e.Reasoning, &hasReasoning, &e.Timestamp); err != nil {
			return nil, err
		}
		e.HasReasoning = hasReasoning != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, original string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE original = ?`, original)
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}

// Import merges entries, given newest first, into the history with
// upsert-by-original semantics. Afterwards the imported entries lead the
// list in their given order. Entries without original text are skipped.
func (s *Store) Import(ctx context.Context, entries []Entry) (int, error) {
	imported := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if strings.TrimSpace(e.Original) == "" {
				continue
			}
			if e.Timestamp == 0 {
				e.Timestamp = s.now().UnixMilli()
			}
			e.HasReasoning = e.HasReasoning || e.Reasoning != ""
			if err := upsert(ctx, tx, e); err != nil {
				return err
			}
			imported++
		}
		return trim(ctx, tx)
	})
	return imported, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsert(ctx context.Context, tx *sql.Tx, e Entry) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO history (original, translated, reasoning, has_reasoning, timestamp, seq)
VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM history))
ON CONFLICT(original) DO UPDATE SET
	translated = excluded.translated,
	reasoning = excluded.reasoning,
	has_reasoning = excluded.has_reasoning,
	timestamp = excluded.timestamp,
	seq = excluded.seq`,
		e.Original, e.Translated, e.Reasoning, boolInt(e.HasReasoning), e.Timestamp)
	return err
}

func trim(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
DELETE FROM history WHERE original NOT IN (
	SELECT original FROM history ORDER BY seq DESC LIMIT ?
)`, MaxEntries)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
