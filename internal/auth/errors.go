package auth

import "net/http"

// Error はクライアントに返す業務エラーです。
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	// ErrAlreadyAuthenticated はログイン済みのセッションで登録・ログインしようとした場合のエラーです。
	ErrAlreadyAuthenticated = &Error{
		Status:  http.StatusUnauthorized,
		Code:    "ALREADY_AUTHENTICATED",
		Message: "すでにログインしています",
	}
	// ErrNotAuthenticated は未ログイン、またはセッションのユーザーが存在しない場合のエラーです。
	ErrNotAuthenticated = &Error{
		Status:  http.StatusUnauthorized,
		Code:    "NOT_AUTHENTICATED",
		Message: "ログインが必要です",
	}
	// ErrDuplicateEmail は登録済みのメールアドレスで登録しようとした場合のエラーです。
	ErrDuplicateEmail = &Error{
		Status:  http.StatusBadRequest,
		Code:    "DUPLICATE_EMAIL",
		Message: "このメールアドレスはすでに登録されています",
	}
	// ErrInvalidCredentials はメールアドレスとパスワードの組が一致しない場合のエラーです。
	// アカウントの有無を推測されないよう、原因を区別しません。
	ErrInvalidCredentials = &Error{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_CREDENTIALS",
		Message: "ログインに失敗しました。メールアドレスとパスワードを確認してください",
	}
)
