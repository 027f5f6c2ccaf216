package session

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Preload はハンドラーより前にセッションを読み込み、ストアの障害を 500 で返すミドルウェアです。
// sessions.Sessions の後に登録してください。
func Preload(name string, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := store.Get(c.Request, name); err != nil {
			slog.ErrorContext(c.Request.Context(), "session load failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "SESSION_LOAD_FAILED",
				"message": "セッションの読み込みに失敗しました",
			})
			return
		}
		c.Next()
	}
}
