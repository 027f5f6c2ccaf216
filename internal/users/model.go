// Package users はユーザーエンティティと永続化を提供します。
package users

// User は users テーブルの1行を表します。
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HashedPW string `json:"-"`
}

// Public はクライアントに返してよいユーザー情報です。
type Public struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public はパスワードハッシュを除いた公開用の射影を返します。
func (u *User) Public() Public {
	return Public{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}
