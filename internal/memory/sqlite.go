package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SnapshotStore on a single key/value table.
// It also holds the instance leases used by the duplicate-instance guard.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load decodes the snapshot stored under key into v. It reports false when
// the key is absent.
func (s *SQLiteStore) Load(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM snapshots WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// Save replaces the snapshot stored under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes a snapshot. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	return err
}

// Keys lists stored snapshot keys.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM snapshots ORDER BY key`)
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
	return keys, rows.Err()
}

// AcquireLease claims the lease for ownerID on behalf of holder. It fails
// when another holder refreshed the lease within ttl.
func (s *SQLiteStore) AcquireLease(ctx context.Context, ownerID, holder string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin lease tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var (
		current   string
		heartbeat time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT holder, heartbeat_at FROM instance_leases WHERE owner_id = ?`, ownerID,
	).Scan(&current, &heartbeat)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("query lease: %w", err)
	case current != holder && now.Sub(heartbeat) < ttl:
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instance_leases (owner_id, holder, pid, acquired_at, heartbeat_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET holder = excluded.holder, pid = excluded.pid,
		 acquired_at = excluded.acquired_at, heartbeat_at = excluded.heartbeat_at`,
		ownerID, holder, os.Getpid(), now, now,
	); err != nil {
		return false, fmt.Errorf("write lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit lease: %w", err)
	}
	return true, nil
}

// RenewLease refreshes the heartbeat of a lease held by holder.
func (s *SQLiteStore) RenewLease(ctx context.Context, ownerID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instance_leases SET heartbeat_at = ? WHERE owner_id = ? AND holder = ?`,
		time.Now().UTC(), ownerID, holder,
	)
	return err
}

// ReleaseLease drops the lease if holder still owns it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, ownerID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instance_leases WHERE owner_id = ? AND holder = ?`, ownerID, holder,
	)
	return err
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
