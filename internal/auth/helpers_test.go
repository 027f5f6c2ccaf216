package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/yourusername/devsheets-api/internal/dbx"
	"github.com/yourusername/devsheets-api/internal/users"
)

// mapSession はテスト用のメモリ上のセッションです。
type mapSession map[interface{}]interface{}

func (s mapSession) Get(key interface{}) interface{}      { return s[key] }
func (s mapSession) Set(key interface{}, val interface{}) { s[key] = val }
func (s mapSession) Clear() {
	for k := range s {
		delete(s, k)
	}
}

// memoryRepo は一意制約つきのメモリ上のユーザーリポジトリです。
type memoryRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*users.User
	err    error

	// Create だけを失敗させる
	createErr error

	// 事前確認をすり抜けた同時登録を再現する
	skipPrecheck bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[int64]*users.User)}
}

func (r *memoryRepo) factory() RepositoryFactory {
	return func(dbx.DBTX) users.Repository { return r }
}

func (r *memoryRepo) Create(ctx context.Context, user *users.User) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, u := range r.byID {
		if u.Email == user.Email {
			return nil, users.ErrDuplicateEmail
		}
	}
	r.nextID++
	stored := *user
	stored.ID = r.nextID
	r.byID[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id int64) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *memoryRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.skipPrecheck {
		return nil, users.ErrNotFound
	}
	for _, u := range r.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, users.ErrNotFound
}

func (r *memoryRepo) delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// plainHasher は計算コストのないテスト用ハッシャーです。
type plainHasher struct {
	verified []string
}

func (h *plainHasher) Hash(plain string) (string, error) {
	return "plain$" + plain, nil
}

func (h *plainHasher) Verify(plain, digest string) bool {
	h.verified = append(h.verified, digest)
	return strings.HasPrefix(digest, "plain$") && strings.TrimPrefix(digest, "plain$") == plain
}
