// Package database は PostgreSQL への接続とスキーマのマイグレーションを扱います。
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options はコネクションプールの設定です。
type Options struct {
	URL      string
	PoolSize int
	PoolTTL  time.Duration
	PrePing  bool
}

// Open はコネクションプールを作成します。PrePing が有効なら接続確認まで行います。
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := sql.Open("pgx", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if opts.PoolSize > 0 {
		db.SetMaxOpenConns(opts.PoolSize)
		db.SetMaxIdleConns(opts.PoolSize)
	}
	if opts.PoolTTL > 0 {
		db.SetConnMaxLifetime(opts.PoolTTL)
	}

	if opts.PrePing {
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping error: %w", err)
		}
	}

	return db, nil
}

// gooseUpContext は goose.UpContext をテストで差し替えるための継ぎ目です。
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate は埋め込みのマイグレーションを適用します。
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}
