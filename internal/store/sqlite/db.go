// Package sqlite is the transactional store behind the license core.
//
// WRITE CONCURRENCY MODEL:
//
// Single writer connection with a read-only reader pool:
//   - writerConn: one connection (SetMaxOpenConns=1) for every write
//   - readerPool: read-only connections (mode=ro) for View
//   - WithTx holds writerMu from BEGIN to COMMIT/ROLLBACK, so write
//     transactions run one at a time and the device quota check-then-insert
//     in a bind cannot interleave with another bind
//   - WAL mode lets readers proceed while a write transaction is open
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	lib "modernc.org/sqlite/lib"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectionSetupTimeout   = 10 * time.Second
	defaultBusyTimeoutMillis = 5000
)

// DB is the SQLite store
type DB struct {
	writerConn *sql.DB
	readerPool *sql.DB
	logger     *slog.Logger

	writerMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ license.Store = (*DB)(nil)

var driverInit sync.Once

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			readOnly := isReadOnlyDSN(dsn)
			for _, pragma := range connectionPragmas {
				if readOnly && !pragma.allowReadOnly {
					continue
				}
				if _, err := conn.ExecContext(ctx, pragma.stmt, nil); err != nil {
					return fmt.Errorf("connection hook exec %q: %w", pragma.stmt, err)
				}
			}
			return nil
		})
	})
}

func isReadOnlyDSN(dsn string) bool {
	queryStart := strings.IndexByte(dsn, '?')
	if queryStart == -1 {
		return false
	}
	for _, segment := range strings.Split(dsn[queryStart+1:], "&") {
		if segment == "mode=ro" {
			return true
		}
	}
	return false
}

type pragmaDirective struct {
	stmt          string
	allowReadOnly bool
}

var connectionPragmas = []pragmaDirective{
	{stmt: "PRAGMA journal_mode = WAL", allowReadOnly: false},
	{stmt: "PRAGMA synchronous = NORMAL", allowReadOnly: false},
	{stmt: "PRAGMA foreign_keys = ON", allowReadOnly: true},
	{stmt: fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis), allowReadOnly: true},
}

// Open opens (creating if needed) the database at path and applies pending migrations
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "store"))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	registerConnectionHook()

	writerConn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer connection at %s: %w", path, err)
	}
	writerConn.SetMaxOpenConns(1)
	writerConn.SetMaxIdleConns(1)
	writerConn.SetConnMaxLifetime(0)

	db := &DB{writerConn: writerConn, logger: logger}

	// The file must exist before a read-only connection can open it.
	if err := db.migrate(); err != nil {
		writerConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	readerPool, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		writerConn.Close()
		return nil, fmt.Errorf("failed to open reader pool at %s: %w", path, err)
	}
	readerPool.SetMaxIdleConns(4)
	readerPool.SetConnMaxLifetime(0)
	db.readerPool = readerPool

	logger.Info("database ready", slog.String("path", path))
	return db, nil
}

// Close runs PRAGMA optimize and closes both pools
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
		defer cancel()
		if _, err := db.writerConn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			db.logger.Warn("failed to run PRAGMA optimize during close", slog.Any("error", err))
		}
		if err := db.writerConn.Close(); err != nil {
			db.closeErr = err
		}
		if db.readerPool != nil {
			if err := db.readerPool.Close(); err != nil && db.closeErr == nil {
				db.closeErr = err
			}
		}
	})
	return db.closeErr
}

// Ping checks both pools
func (db *DB) Ping(ctx context.Context) error {
	if err := db.writerConn.PingContext(ctx); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if err := db.readerPool.PingContext(ctx); err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	return nil
}

// WithTx runs fn inside one write transaction, serialized with every other writer
func (db *DB) WithTx(ctx context.Context, fn func(tx license.Tx) error) (err error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	sqlTx, err := db.writerConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txQueries{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			db.logger.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only transaction on the reader pool
func (db *DB) View(ctx context.Context, fn func(q license.Queries) error) error {
	sqlTx, err := db.readerPool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(queries{q: sqlTx})
}

// execWrite runs a single statement on the writer connection
func (db *DB) execWrite(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.writerConn.ExecContext(ctx, query, args...)
}

func (db *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()

	if _, err := db.writerConn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var pending []string
	for _, filename := range files {
		var count int
		if err := db.writerConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", filename).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", filename, err)
		}
		if count == 0 {
			pending = append(pending, filename)
		}
	}
	if len(pending) == 0 {
		db.logger.Debug("no pending migrations")
		return nil
	}

	tx, err := db.writerConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, filename := range pending {
		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", filename); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	db.logger.Info("applied migrations", slog.Int("count", len(pending)))
	return nil
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE || sqlErr.Code() == lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
