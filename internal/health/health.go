// Package health は依存サービスの疎通確認エンドポイントを提供します。
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 2 * time.Second

// Check は依存先の疎通を確認します。
type Check func(ctx context.Context) error

// Handler は登録された Check をまとめて実行する GET /healthcheck のハンドラーです。
type Handler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHandler は Handler を作成します。timeout が 0 以下なら既定値を使います。
func NewHandler(checks map[string]Check, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Handler{checks: checks, timeout: timeout}
}

// Serve はすべての依存先が応答すれば 200、いずれかが失敗すれば 503 を返します。
func (h *Handler) Serve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	// 1 つの失敗で他の確認を打ち切らないよう、結果は個別に保持する
	results := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			results[i] = check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for i, name := range names {
		if err := results[i]; err != nil {
			slog.WarnContext(c.Request.Context(), "health check failed", "dependency", name, "error", err)
			body[name] = "unavailable"
			body["status"] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}

	c.JSON(status, body)
}
