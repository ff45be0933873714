// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chainpass/chainpass/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore is the single-node durable backend. All five logical tables
// share one entities table; the version column provides CAS via
// affected-row counting on a guarded UPDATE.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLite opens the database file and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		tbl TEXT NOT NULL,
		pk TEXT NOT NULL,
		rk TEXT NOT NULL,
		value BLOB NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (tbl, pk, rk)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_partition ON entities(tbl, pk);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Insert(ctx context.Context, table string, e Entity) (string, error) {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO entities (tbl, pk, rk, value, version) VALUES (?, ?, ?, ?, 1)",
		table, e.PartitionKey, e.RowKey, e.Value)
	if err != nil {
		if isSQLiteConstraint(err) {
			return "", ErrAlreadyExists
		}
		return "", err
	}
	return "1", nil
}

func (s *SQLiteStore) Get(ctx context.Context, table, pk, rk string) (*Entity, error) {
	var value []byte
	var version int64
	err := s.DB.QueryRowContext(ctx,
		"SELECT value, version FROM entities WHERE tbl = ? AND pk = ? AND rk = ?",
		table, pk, rk).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Entity{
		PartitionKey: pk,
		RowKey:       rk,
		Value:        value,
		Version:      strconv.FormatInt(version, 10),
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, table string, e Entity) (string, error) {
	var version int64
	err := s.DB.QueryRowContext(ctx, `
	INSERT INTO entities (tbl, pk, rk, value, version) VALUES (?, ?, ?, ?, 1)
	ON CONFLICT(tbl, pk, rk) DO UPDATE SET
		value = excluded.value,
		version = entities.version + 1
	RETURNING version`,
		table, e.PartitionKey, e.RowKey, e.Value).Scan(&version)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(version, 10), nil
}

func (s *SQLiteStore) Update(ctx context.Context, table string, e Entity) (string, error) {
	want, err := strconv.ParseInt(e.Version, 10, 64)
	if err != nil {
		return "", ErrPreconditionFailed
	}
	res, err := s.DB.ExecContext(ctx,
		"UPDATE entities SET value = ?, version = version + 1 WHERE tbl = ? AND pk = ? AND rk = ? AND version = ?",
		e.Value, table, e.PartitionKey, e.RowKey, want)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		// Distinguish a vanished row from a lost race.
		var exists int
		err := s.DB.QueryRowContext(ctx,
			"SELECT 1 FROM entities WHERE tbl = ? AND pk = ? AND rk = ?",
			table, e.PartitionKey, e.RowKey).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", err
		}
		return "", ErrPreconditionFailed
	}
	return strconv.FormatInt(want+1, 10), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, table, pk, rk string) error {
	_, err := s.DB.ExecContext(ctx,
		"DELETE FROM entities WHERE tbl = ? AND pk = ? AND rk = ?", table, pk, rk)
	return err
}

func (s *SQLiteStore) DeletePartition(ctx context.Context, table, pk string) (int, error) {
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM entities WHERE tbl = ? AND pk = ?", table, pk)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Scan(ctx context.Context, table, pk string) ([]Entity, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT rk, value, version FROM entities WHERE tbl = ? AND pk = ? ORDER BY rk ASC",
		table, pk)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entity
	for rows.Next() {
		var rk string
		var value []byte
		var version int64
		if err := rows.Scan(&rk, &value, &version); err != nil {
			return nil, err
		}
		out = append(out, Entity{
			PartitionKey: pk,
			RowKey:       rk,
			Value:        value,
			Version:      strconv.FormatInt(version, 10),
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error { return s.DB.Close() }

// isSQLiteConstraint reports whether err is a primary-key violation. The
// modernc driver does not export a stable error type for this, so the
// SQLITE_CONSTRAINT message text is the contract.
func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
