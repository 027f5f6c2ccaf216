package users

import (
	"context"
	"errors"
)

var (
	// ErrNotFound は該当するユーザーが存在しない場合に返されます。
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail はメールアドレスの一意制約に違反した場合に返されます。
	ErrDuplicateEmail = errors.New("email already registered")
)

// Repository はユーザーの永続化を抽象化します。
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
