package auth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Handler は認証エンドポイントの gin ハンドラーをまとめたものです。
type Handler struct {
	service  *Service
	throttle *LoginThrottle
	cookie   sessions.Options
}

// NewHandler は Handler を作成します。throttle が nil の場合は試行制限を行いません。
// cookie はセッションストアに設定したものと同じオプションを渡します。ログアウト時のクッキー失効に使います。
func NewHandler(service *Service, throttle *LoginThrottle, cookie sessions.Options) *Handler {
	return &Handler{
		service:  service,
		throttle: throttle,
		cookie:   cookie,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register は POST /users のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "name, email, password を JSON で送ってください",
		})
		return
	}

	session := sessions.Default(c)
	user, err := h.service.Register(c.Request.Context(), session, RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	if !saveSession(c, session) {
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// Login は POST /login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "email と password を JSON で送ってください",
		})
		return
	}

	ctx := c.Request.Context()
	session := sessions.Default(c)

	// ログイン済みの判定は IP のロック状態に左右されない
	if _, ok := UserID(session); ok {
		respondWithError(c, ErrAlreadyAuthenticated)
		return
	}

	ip := c.ClientIP()
	if h.throttle != nil {
		retryAfter, err := h.throttle.CheckLock(ctx, ip)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if retryAfter > 0 {
			// Retry-After は秒数で返す
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}
	}

	_, err := h.service.Login(ctx, session, LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if h.throttle != nil && errors.Is(err, ErrInvalidCredentials) {
			if _, recErr := h.throttle.RecordFailure(ctx, ip); recErr != nil {
				respondWithError(c, recErr)
				return
			}
		}
		respondWithError(c, err)
		return
	}

	if h.throttle != nil {
		if err := h.throttle.Reset(ctx, ip); err != nil {
			slog.WarnContext(ctx, "failed to reset login attempts", "ip", ip, "error", err)
		}
	}

	if !saveSession(c, session) {
		return
	}
	c.Status(http.StatusOK)
}

// Logout は GET /logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if err := h.service.Logout(c.Request.Context(), session); err != nil {
		respondWithError(c, err)
		return
	}

	// サーバー側の実体を削除し、クッキーも失効させる
	opts := h.cookie
	opts.MaxAge = -1
	session.Options(opts)
	if !saveSession(c, session) {
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// WhoAmI は GET /whoami のハンドラーです。
func (h *Handler) WhoAmI(c *gin.Context) {
	user, err := h.service.WhoAmI(c.Request.Context(), sessions.Default(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

func saveSession(c *gin.Context, session sessions.Session) bool {
	if err := session.Save(); err != nil {
		slog.ErrorContext(c.Request.Context(), "session save failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return false
	}
	return true
}

func respondWithError(c *gin.Context, err error) {
	var authErr *Error
	switch {
	case errors.As(err, &authErr):
		c.JSON(authErr.Status, gin.H{
			"code":    authErr.Code,
			"message": authErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました",
		})
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
	}
}
