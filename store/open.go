package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"keeper/config"
	"keeper/persistence"
)

var ErrUnsupportedBackend = errors.New("unsupported store backend")

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entity_store (
	store_key TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER
)`

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open builds the configured backend, wrapped with tracing. The returned
// close function releases any database handle.
func Open(cfg config.Store) (persistence.Store, func() error, error) {
	noClose := func() error { return nil }

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		log.Infof("Using in-memory store, state will not survive a restart")
		return Traced(NewMemoryStore(), "memory"), noClose, nil
	case DialectSQLite:
		db, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, noClose, err
		}
		s, err := NewSQLStore(db, DialectSQLite)
		if err != nil {
			_ = db.Close()
			return nil, noClose, err
		}
		return Traced(s, DialectSQLite), s.Close, nil
	case DialectMySQL:
		db, err := OpenMySQL(cfg)
		if err != nil {
			return nil, noClose, err
		}
		s, err := NewSQLStore(db, DialectMySQL)
		if err != nil {
			_ = db.Close()
			return nil, noClose, err
		}
		return Traced(s, DialectMySQL), s.Close, nil
	default:
		return nil, noClose, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// OpenMySQL migrates the schema and opens a pooled handle
func OpenMySQL(cfg config.Store) (*sqlx.DB, error) {
	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = cfg.User
	mysqlConfig.Passwd = cfg.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = cfg.Addr
	mysqlConfig.DBName = cfg.Db
	mysqlConfig.AllowNativePasswords = true

	dbConnectionString := mysqlConfig.FormatDSN()

	migrateConfig := mysqlConfig.Clone()
	migrateConfig.MultiStatements = true

	log.Infof("Starting migration")

	m, err := migrate.New("file://sql/mysql", "mysql://"+migrateConfig.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	_, _ = m.Close()

	log.Infof("Opening database, max pool = %d", cfg.MaxPool)

	db, err := sqlx.Open(DialectMySQL, dbConnectionString)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(time.Minute * 3) // Recommended by go mysql driver
	db.SetMaxOpenConns(cfg.MaxPool)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infoln("Connected to database")
	return db, nil
}

// OpenSQLite opens the file at path and creates the table if needed
func OpenSQLite(path string) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sqlx.Open(DialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Infof("Opened sqlite store at %s", path)
	return db, nil
}
