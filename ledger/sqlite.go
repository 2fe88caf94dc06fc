package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	partition  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (collection, partition, seq)
);

CREATE INDEX IF NOT EXISTS idx_records_partition ON records(collection, partition);
`

// SQLite is a file-backed Store. One process owns the file; the exclusive
// partition lock is the same in-process lock table the Memory store uses,
// while partition replacement runs in a transaction so readers never observe
// a half-written partition.
type SQLite struct {
	db    *sql.DB
	locks *lockTable
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, locks: newLockTable()}, nil
}

func (s *SQLite) Keys(ctx context.Context, collection string) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT partition FROM records
		WHERE collection = ?
		ORDER BY partition ASC`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, Key(key))
	}
	return keys, rows.Err()
}

func (s *SQLite) Read(ctx context.Context, collection string, key Key) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM records
		WHERE collection = ? AND partition = ?
		ORDER BY seq ASC`, collection, string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

func (s *SQLite) Replace(ctx context.Context, collection string, key Key, records []json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND partition = ?`,
		collection, string(key)); err != nil {
		return err
	}

	for seq, rec := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (collection, partition, seq, data)
			VALUES (?, ?, ?, ?)`,
			collection, string(key), seq, string(rec)); err != nil {
			return fmt.Errorf("insert %s/%s[%d]: %w", collection, key, seq, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Lock(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	return s.locks.with(ctx, names, fn)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
