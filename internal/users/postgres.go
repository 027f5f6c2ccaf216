package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/devsheets-api/internal/dbx"
)

// uniqueViolation は PostgreSQL の unique_violation (SQLSTATE 23505) です。
const uniqueViolation = "23505"

// PostgresRepository は PostgreSQL 上の Repository 実装です。
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository は db (プールまたはトランザクション) に束縛したリポジトリを返します。
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create はユーザーを挿入し、採番された ID を設定して返します。
// メールアドレスが重複している場合は ErrDuplicateEmail を返します。
func (r *PostgresRepository) Create(ctx context.Context, user *User) (*User, error) {
	query := `
		INSERT INTO users (name, email, hashed_pw)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query, user.Name, user.Email, user.HashedPW).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

// GetByID は ID でユーザーを取得します。
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, name, email, hashed_pw
		FROM users
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail はメールアドレスでユーザーを取得します。
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, hashed_pw
		FROM users
		WHERE email = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*User, error) {
	user := &User{}
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.HashedPW); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}
