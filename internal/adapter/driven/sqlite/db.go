// Package sqlite persists the credential vault in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4/database"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// filePragmas tune an on-disk database: WAL, busy timeout, NORMAL sync and a
// 64MB page cache.
const filePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)"

// DB holds separate writer and reader pools. The writer is limited to one
// connection so concurrent saves never see "database is locked".
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// Open opens the database file at path and applies pending migrations. A
// file that is not a readable database is moved aside to
// "<path>.corrupt-<unix>" and replaced by a fresh, empty vault.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := openFile(ctx, path)
	if err == nil || !isCorrupt(err) {
		return db, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if rerr := os.Rename(path, aside); rerr != nil {
		return nil, fmt.Errorf("move corrupt database aside: %w (open: %v)", rerr, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if rerr := os.Rename(path+suffix, aside+suffix); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.Warn("could not move database side file", "path", path+suffix, "error", rerr)
		}
	}
	slog.Warn("vault database unreadable, starting empty", "path", path, "moved_to", aside, "error", err)

	return openFile(ctx, path)
}

func openFile(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, filePragmas)

	db, err := openPair(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// isCorrupt reports whether err comes from SQLite rejecting the file itself.
func isCorrupt(err error) bool {
	var dbErr *database.Error
	if errors.As(err, &dbErr) && dbErr.OrigErr != nil {
		err = dbErr.OrigErr
	}

	var sqlErr *moderncsqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// openPair opens and pings the writer (1 conn) and reader (4 conns) pools.
func openPair(ctx context.Context, dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

// Close closes both pools and returns the first error.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
