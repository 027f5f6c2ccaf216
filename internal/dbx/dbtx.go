// Package dbx はリポジトリ間で共有する小さな DB 抽象を提供します。
package dbx

import (
	"context"
	"database/sql"
)

// DBTX はリポジトリが使う database/sql のサブセットです。
// *sql.DB と *sql.Tx の両方が満たします。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx はトランザクションを開始して fn を実行します。
// fn が成功すればコミットし、エラーまたは panic ならロールバックします。panic は再送出します。
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
