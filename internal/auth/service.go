// Package auth はユーザー登録・ログイン・ログアウト・本人確認を提供します。
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/yourusername/devsheets-api/internal/dbx"
	"github.com/yourusername/devsheets-api/internal/users"
)

const sessionKeyUserID = "user_id"

// Session はハンドラーからサービスに渡すセッションです。
// gin-contrib/sessions の sessions.Session がそのまま満たします。
type Session interface {
	Get(key interface{}) interface{}
	Set(key interface{}, val interface{})
	Clear()
}

// PasswordHasher はパスワードのハッシュ化と検証を行います。
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// RepositoryFactory は DB ハンドル（プールまたはトランザクション）に束縛したリポジトリを返します。
type RepositoryFactory func(db dbx.DBTX) users.Repository

// RegisterInput は登録時の入力です。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput はログイン時の入力です。
type LoginInput struct {
	Email    string
	Password string
}

// Service は認証のユースケースをまとめたものです。
type Service struct {
	db          *sql.DB
	users       RepositoryFactory
	hasher      PasswordHasher
	dummyDigest string
}

// NewService は Service を作成します。
func NewService(db *sql.DB, repos RepositoryFactory, hasher PasswordHasher) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if repos == nil {
		return nil, errors.New("repository factory is nil")
	}
	if hasher == nil {
		return nil, errors.New("hasher is nil")
	}

	// 存在しないメールアドレスでも検証コストを揃えるためのダミー
	dummy, err := hasher.Hash("devsheets-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	return &Service{
		db:          db,
		users:       repos,
		hasher:      hasher,
		dummyDigest: dummy,
	}, nil
}

// Register はユーザーを作成し、セッションをそのユーザーでログイン状態にします。
func (s *Service) Register(ctx context.Context, session Session, in RegisterInput) (*users.User, error) {
	if _, ok := UserID(session); ok {
		return nil, ErrAlreadyAuthenticated
	}

	// 事前確認は分かりやすいエラーを返すためだけのもので、一意性は DB の制約で保証する
	if _, err := s.users(s.db).GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, users.ErrNotFound) {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *users.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.users(tx).Create(ctx, &users.User{
			Name:     in.Name,
			Email:    in.Email,
			HashedPW: digest,
		})
		if err != nil {
			return err
		}
		created = user
		return nil
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	session.Set(sessionKeyUserID, created.ID)
	return created, nil
}

// Login は認証情報を検証し、セッションをログイン状態にします。
func (s *Service) Login(ctx context.Context, session Session, in LoginInput) (*users.User, error) {
	if _, ok := UserID(session); ok {
		return nil, ErrAlreadyAuthenticated
	}

	user, err := s.users(s.db).GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			s.hasher.Verify(in.Password, s.dummyDigest)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(in.Password, user.HashedPW) {
		return nil, ErrInvalidCredentials
	}

	session.Set(sessionKeyUserID, user.ID)
	return user, nil
}

// Logout はセッションのペイロードをすべて消去します。
func (s *Service) Logout(ctx context.Context, session Session) error {
	if _, ok := UserID(session); !ok {
		return ErrNotAuthenticated
	}
	session.Clear()
	return nil
}

// WhoAmI はセッションが指すユーザーを返します。
// ユーザーが削除されている場合も未ログインとして扱います。
func (s *Service) WhoAmI(ctx context.Context, session Session) (*users.User, error) {
	id, ok := UserID(session)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	user, err := s.users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return user, nil
}

// UserID はセッションに保存されたユーザー ID を返します。
func UserID(session Session) (int64, bool) {
	switch v := session.Get(sessionKeyUserID).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
