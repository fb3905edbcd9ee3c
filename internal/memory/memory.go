// Package memory implements the optional Shared Memory store (C10): a
// key/value store with fixed schemas, updated synchronously at
// well-known lifecycle points and read by subsequent agent invocations.
// There are no retrieval heuristics — every lookup is a plain keyed
// read, matching the teacher's preference for an explicit SQL schema
// over an embedding index for structured, small-cardinality state.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// FailurePatternCap and BugPatternCap bound the FIFO registers so a long
// run's memory footprint stays flat.
const (
	FailurePatternCap = 10
	BugPatternCap     = 20
)

// Store is the Shared Memory store backed by a single SQLite file. All
// writes happen synchronously at lifecycle points called out in the
// gate sequence; the store performs no background compaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS fifo_entries (
			list_key   TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			value      TEXT NOT NULL,
			PRIMARY KEY (list_key, seq)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate memory store: %w", err)
	}
	return nil
}

// CodebaseConventions is written once, by the first COMPLETED coder, and
// read by every subsequent coder.
type CodebaseConventions struct {
	Summary     string   `json:"summary"`
	Examples    []string `json:"examples"`
	WrittenByIssue string `json:"written_by_issue"`
}

// SetCodebaseConventions writes the conventions entry if one is not
// already present (first-writer-wins, per spec §4.9).
func (s *Store) SetCodebaseConventions(ctx context.Context, c CodebaseConventions) error {
	existing, err := s.CodebaseConventions(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.putJSON(ctx, "codebase_conventions", c)
}

// CodebaseConventions returns the stored conventions, or nil if unset.
func (s *Store) CodebaseConventions(ctx context.Context) (*CodebaseConventions, error) {
	var c CodebaseConventions
	ok, err := s.getJSON(ctx, "codebase_conventions", &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// FailurePattern is one inner-loop failure recorded for later coders and
// advisors to avoid repeating.
type FailurePattern struct {
	IssueName string `json:"issue_name"`
	Summary   string `json:"summary"`
}

// AddFailurePattern appends to the capped FIFO, evicting the oldest
// entry once the cap is exceeded.
func (s *Store) AddFailurePattern(ctx context.Context, p FailurePattern) error {
	return s.pushFIFO(ctx, "failure_patterns", p, FailurePatternCap)
}

// FailurePatterns returns the current FIFO contents, oldest first.
func (s *Store) FailurePatterns(ctx context.Context) ([]FailurePattern, error) {
	var out []FailurePattern
	err := s.readFIFO(ctx, "failure_patterns", func(raw string) error {
		var p FailurePattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// BugPattern is a recurring bug shape recorded across issues.
type BugPattern struct {
	IssueName   string `json:"issue_name"`
	Description string `json:"description"`
}

// AddBugPattern appends to the capped FIFO, evicting the oldest entry
// once the cap is exceeded.
func (s *Store) AddBugPattern(ctx context.Context, p BugPattern) error {
	return s.pushFIFO(ctx, "bug_patterns", p, BugPatternCap)
}

// BugPatterns returns the current FIFO contents, oldest first.
func (s *Store) BugPatterns(ctx context.Context) ([]BugPattern, error) {
	var out []BugPattern
	err := s.readFIFO(ctx, "bug_patterns", func(raw string) error {
		var p BugPattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// InterfaceExport describes what an issue exposed for its dependents,
// written on COMPLETED or COMPLETED_WITH_DEBT.
type InterfaceExport struct {
	IssueName string   `json:"issue_name"`
	Exports   []string `json:"exports"`
	Notes     string   `json:"notes"`
}

// SetInterfaceExport writes the `interfaces/<issue>` entry.
func (s *Store) SetInterfaceExport(ctx context.Context, e InterfaceExport) error {
	return s.putJSON(ctx, interfaceKey(e.IssueName), e)
}

// InterfaceExport reads the `interfaces/<issue>` entry, or nil if unset.
func (s *Store) InterfaceExport(ctx context.Context, issueName string) (*InterfaceExport, error) {
	var e InterfaceExport
	ok, err := s.getJSON(ctx, interfaceKey(issueName), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func interfaceKey(issueName string) string { return "interfaces/" + issueName }

// BuildHealth is updated continuously on gate completion and read by
// advisors and the replanner.
type BuildHealth struct {
	LevelsCompleted  int `json:"levels_completed"`
	IssuesCompleted  int `json:"issues_completed"`
	IssuesFailed     int `json:"issues_failed"`
	ConsecutiveFails int `json:"consecutive_fails"`
}

// SetBuildHealth overwrites the current build_health snapshot.
func (s *Store) SetBuildHealth(ctx context.Context, h BuildHealth) error {
	return s.putJSON(ctx, "build_health", h)
}

// BuildHealth reads the current build_health snapshot, or the zero
// value if unset.
func (s *Store) BuildHealth(ctx context.Context) (BuildHealth, error) {
	var h BuildHealth
	_, err := s.getJSON(ctx, "build_health", &h)
	return h, err
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(body))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) pushFIFO(ctx context.Context, listKey string, v any, cap int) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", listKey, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", listKey, err)
	}
	defer tx.Rollback()

	var nextSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM fifo_entries WHERE list_key = ?`, listKey).Scan(&nextSeq); err != nil {
		return fmt.Errorf("next seq for %s: %w", listKey, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO fifo_entries (list_key, seq, value) VALUES (?, ?, ?)`, listKey, nextSeq, string(body)); err != nil {
		return fmt.Errorf("insert %s entry: %w", listKey, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM fifo_entries
		WHERE list_key = ? AND seq NOT IN (
			SELECT seq FROM fifo_entries WHERE list_key = ? ORDER BY seq DESC LIMIT ?
		)
	`, listKey, listKey, cap); err != nil {
		return fmt.Errorf("evict %s entries: %w", listKey, err)
	}

	return tx.Commit()
}

func (s *Store) readFIFO(ctx context.Context, listKey string, visit func(raw string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM fifo_entries WHERE list_key = ? ORDER BY seq ASC`, listKey)
	if err != nil {
		return fmt.Errorf("read %s: %w", listKey, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s entry: %w", listKey, err)
		}
		if err := visit(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}
