// Package password はパスワードのハッシュ化と検証を提供します。
//
// 新規ハッシュは argon2id の PHC 形式で生成します。既存の bcrypt ハッシュも検証できます。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2idPrefix = "$argon2id$"

	// 壊れたダイジェストで巨大なメモリを確保しないための上限
	maxMemory     = 1024 * 1024
	maxIterations = 64
)

// Params は argon2id のコストパラメータです。
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams は本番用の既定値です。
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher はパスワードのハッシュ化と検証を行います。
type Hasher struct {
	params Params
}

// NewHasher は指定したパラメータで Hasher を作成します。
func NewHasher(params Params) *Hasher {
	return &Hasher{params: params}
}

// Hash は平文パスワードから自己記述的なダイジェストを生成します。
// 呼び出しごとにソルトが変わるため、同じ入力でも結果は毎回異なります。
func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify は平文パスワードがダイジェストと一致するかを返します。
// 壊れたダイジェストは一致しないものとして扱います。
func (h *Hasher) Verify(plain, digest string) bool {
	switch {
	case strings.HasPrefix(digest, argon2idPrefix):
		return verifyArgon2id(plain, digest)
	case isBcrypt(digest):
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	default:
		return false
	}
}

func verifyArgon2id(plain, digest string) bool {
	params, salt, key, ok := decodeArgon2id(digest)
	if !ok {
		return false
	}
	other := argon2.IDKey([]byte(plain), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1
}

// decodeArgon2id は "$argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>" を分解します。
func decodeArgon2id(digest string) (Params, []byte, []byte, bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, false
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, false
	}
	if p.Memory == 0 || p.Memory > maxMemory || p.Iterations == 0 || p.Iterations > maxIterations || p.Parallelism == 0 {
		return Params{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, false
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return p, salt, key, true
}

func isBcrypt(digest string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(digest, prefix) {
			return true
		}
	}
	return false
}
