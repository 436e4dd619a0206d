package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
)

const (
	// IndexDirName holds per-project index data under the project root.
	IndexDirName  = ".p2tas"
	IndexFileName = "index.sqlite"

	schemaVersion = 1
	appName       = "p2tas-dev-tools"
)

// IndexPath returns the path of the project's index database.
func IndexPath(projectRoot string) string {
	return filepath.Join(projectRoot, IndexDirName, IndexFileName)
}

// Store persists script summaries in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore creates or opens the index database of projectRoot.
func OpenStore(ctx context.Context, projectRoot string) (*Store, error) {
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, IndexDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(projectRoot)
	db, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(path)+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debugf("index ready: %s", path)
	return &Store{db: db, path: path}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scripts (
			path        TEXT PRIMARY KEY,
			lines       INTEGER NOT NULL,
			framebulks  INTEGER NOT NULL,
			total_ticks INTEGER NOT NULL,
			loops       INTEGER NOT NULL,
			tools       TEXT NOT NULL,
			errors      INTEGER NOT NULL,
			warnings    INTEGER NOT NULL,
			indexed_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appName, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	case cur > schemaVersion:
		return fmt.Errorf("index schema %d is newer than supported %d", cur, schemaVersion)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET updated_at=? WHERE id=1`, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Replace stores summaries as the complete content of the index.
func (s *Store) Replace(ctx context.Context, summaries []ScriptSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scripts`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear scripts: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scripts
		(path, lines, framebulks, total_ticks, loops, tools, errors, warnings, indexed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, sum := range summaries {
		if _, err := stmt.ExecContext(ctx, sum.Path, sum.Lines, sum.Framebulks, sum.TotalTicks,
			sum.Loops, strings.Join(sum.Tools, ","), sum.Errors, sum.Warnings, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", sum.Path, err)
		}
	}
	return tx.Commit()
}

const selectScripts = `SELECT path, lines, framebulks, total_ticks, loops, tools, errors, warnings FROM scripts`

// List returns every stored summary ordered by path.
func (s *Store) List(ctx context.Context) ([]ScriptSummary, error) {
	rows, err := s.db.QueryContext(ctx, selectScripts+` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var res []ScriptSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, rows.Err()
}

// Get returns the summary stored for path.
func (s *Store) Get(ctx context.Context, path string) (ScriptSummary, bool, error) {
	row := s.db.QueryRowContext(ctx, selectScripts+` WHERE path=?`, path)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScriptSummary{}, false, nil
	}
	if err != nil {
		return ScriptSummary{}, false, err
	}
	return sum, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (ScriptSummary, error) {
	var sum ScriptSummary
	var tools string
	if err := row.Scan(&sum.Path, &sum.Lines, &sum.Framebulks, &sum.TotalTicks,
		&sum.Loops, &tools, &sum.Errors, &sum.Warnings); err != nil {
		return sum, err
	}
	if tools != "" {
		sum.Tools = strings.Split(tools, ",")
	}
	return sum, nil
}
