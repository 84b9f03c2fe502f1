// Package archive keeps execution records of past runs in a SQLite or libsql
// database so reports can be produced without the original record files.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config locates the archive. URL wins over Path when both are set.
type Config struct {
	// Path is a local database file, or ":memory:".
	Path string
	// URL addresses a remote libsql server, e.g. libsql://runs.turso.io.
	URL string
	// AuthToken is added to URL unless it already carries one.
	AuthToken string
}

const memoryPath = ":memory:"

// dataSource returns the driver DSN for cfg and whether it is remote.
// Parent directories of a local file are created.
func dataSource(cfg Config) (string, bool, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("invalid archive url: %w", err)
		}
		switch u.Scheme {
		case "libsql", "https", "http":
		default:
			return "", false, fmt.Errorf("unsupported archive url scheme %q", u.Scheme)
		}
		if token := strings.TrimSpace(cfg.AuthToken); token != "" {
			q := u.Query()
			if q.Get("authToken") == "" {
				q.Set("authToken", token)
				u.RawQuery = q.Encode()
			}
		}
		return u.String(), true, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch path {
	case "":
		return "", false, errors.New("archive path or url is required")
	case memoryPath:
		return path, false, nil
	}
	path = filepath.Clean(path)
	// #nosec G301 -- archive directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("create archive directory: %w", err)
	}
	return "file:" + path, false, nil
}

// Open connects to the archive described by cfg. Local files are created
// when missing and run in WAL mode behind a single connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, remote, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}
	if remote && !remoteSupported {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if remote {
		return db, nil
	}

	// Every connection to :memory: is a separate database, and the CLI is
	// the only writer of a local file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if dsn == memoryPath {
		return db, nil
	}
	if err := tuneLocal(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func tuneLocal(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
