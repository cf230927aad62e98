package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4"

	"keeper/codec"
)

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

type entityRow struct {
	StoreKey  string   `db:"store_key"`
	Value     string   `db:"value"`
	UpdatedAt null.Int `db:"updated_at"`
}

// SQLStore keeps one row per storage key in the entity_store table.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
	upsert  string
}

// NewSQLStore wraps an open handle whose entity_store table already exists.
func NewSQLStore(db *sqlx.DB, dialect string) (*SQLStore, error) {
	var upsert string
	switch dialect {
	case DialectMySQL:
		upsert = "INSERT INTO entity_store (store_key, value, updated_at) " +
			"VALUES (:store_key, :value, :updated_at) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"
	case DialectSQLite:
		upsert = "INSERT INTO entity_store (store_key, value, updated_at) " +
			"VALUES (:store_key, :value, :updated_at) " +
			"ON CONFLICT(store_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	default:
		return nil, fmt.Errorf("%w: sql dialect %q", ErrUnsupportedBackend, dialect)
	}
	return &SQLStore{db: db, dialect: dialect, upsert: upsert}, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value map[string]any) error {
	encoded, err := codec.JSONMarshal(value)
	if err != nil {
		return err
	}
	row := entityRow{
		StoreKey:  key,
		Value:     string(encoded),
		UpdatedAt: null.IntFrom(time.Now().Unix()),
	}
	_, err = s.db.NamedExecContext(ctx, s.upsert, row)
	return err
}

func (s *SQLStore) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT store_key, value, updated_at FROM entity_store WHERE store_key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	value, err := codec.JSONUnmarshalFields([]byte(row.Value))
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, true, nil
}

// Len returns the number of stored keys
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT count(*) FROM entity_store")
	return count, err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
