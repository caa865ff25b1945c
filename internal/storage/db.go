package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const kvTable = "kv_store"

type SQLKV struct {
	db     *sql.DB
	driver string
	sql    sq.StatementBuilderType
}

var _ KV = (*SQLKV)(nil)

func OpenSQL(ctx context.Context, driver, dsn string, autoMigrate bool) (*SQLKV, error) {
	driver = normalizeDriver(driver)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "pgx"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if autoMigrate {
		switch driver {
		case "postgres":
			goose.SetBaseFS(migrationsFS)
			if err := goose.SetDialect("postgres"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set goose dialect: %w", err)
			}
			if err := goose.UpContext(ctx, db, "migrations"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		case "sqlite":
			if err := initSQLiteSchema(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("init sqlite schema: %w", err)
			}
		default:
			_ = db.Close()
			return nil, fmt.Errorf("unsupported driver %q", driver)
		}
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}

	return &SQLKV{
		db:     db,
		driver: driver,
		sql:    sq.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "postgres", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, error) {
	query, args, err := s.sql.Select("value").
		From(kvTable).
		Where(sq.Eq{"name": key}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build get query: %w", err)
	}

	var value string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLKV) Set(ctx context.Context, key, value string) error {
	query, args, err := s.sql.Insert(kvTable).
		Columns("name", "value", "updated_at").
		Values(key, value, nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
