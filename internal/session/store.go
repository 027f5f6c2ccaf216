// Package session は gin-contrib/sessions 用のサーバーサイドセッションストアを提供します。
//
// クッキーには署名付きの不透明なトークンだけを載せ、ペイロードは Redis に保存します。
package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix は Redis キーの既定プレフィックスです。
	DefaultKeyPrefix = "ds_session:"

	tokenBytes = 32
)

// RedisStore はセッションのペイロードを Redis に保存する sessions.Store 実装です。
type RedisStore struct {
	rdb     *redis.Client
	codecs  []securecookie.Codec
	options *gsessions.Options
	prefix  string
	ttl     time.Duration
}

var _ sessions.Store = (*RedisStore)(nil)

// NewRedisStore は RedisStore を作成します。
// keyPairs はクッキー上のトークンの署名（と任意で暗号化）に使う鍵です。
// ttl はクッキーの MaxAge が 0 以下のときに使う Redis 側の有効期限です。
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration, keyPairs ...[]byte) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	s := &RedisStore{
		rdb:    rdb,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		prefix: prefix,
		ttl:    ttl,
	}
	s.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// Options はクッキーの既定オプションを設定します。
func (s *RedisStore) Options(options sessions.Options) {
	s.options = options.ToGorillaOptions()

	age := options.MaxAge
	if age <= 0 {
		age = int(s.ttl.Seconds())
	}
	for _, codec := range s.codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get はリクエスト単位でキャッシュされたセッションを返します。
func (s *RedisStore) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New はクッキーからセッションを復元します。
// クッキーが無い・改ざんされている・Redis に実体が無い場合は空の新規セッションを返します。
// Redis 自体のエラーは空のセッションとともに返します。
func (s *RedisStore) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, cookie.Value, &session.ID, s.codecs...); err != nil {
		session.ID = ""
		return session, nil
	}

	found, err := s.load(r.Context(), session)
	if err != nil {
		session.ID = ""
		return session, err
	}
	if !found {
		// 期限切れのトークンは再利用しない
		session.ID = ""
		return session, nil
	}
	session.IsNew = false
	return session, nil
}

// Save はペイロードを Redis に書き込み、トークンをクッキーに設定します。
// MaxAge が負の場合は Redis の実体を削除してクッキーを失効させます。
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.rdb.Del(r.Context(), s.key(session.ID)).Err(); err != nil {
				return err
			}
		}
		http.SetCookie(w, gsessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		token, err := generateToken()
		if err != nil {
			return err
		}
		session.ID = token
	}

	if err := s.save(r.Context(), session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *RedisStore) load(ctx context.Context, session *gsessions.Session) (bool, error) {
	data, err := s.rdb.Get(ctx, s.key(session.ID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("session load: %w", err)
	}

	values := make(map[interface{}]interface{})
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		// 壊れたペイロードは無かったものとして扱う
		return false, nil
	}
	session.Values = values
	return true, nil
}

func (s *RedisStore) save(ctx context.Context, session *gsessions.Session) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(session.Values); err != nil {
		return fmt.Errorf("session encode: %w", err)
	}

	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.rdb.Set(ctx, s.key(session.ID), buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
