// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/devsheets-api/internal/auth"
	"github.com/yourusername/devsheets-api/internal/config"
	"github.com/yourusername/devsheets-api/internal/database"
	"github.com/yourusername/devsheets-api/internal/dbx"
	"github.com/yourusername/devsheets-api/internal/health"
	"github.com/yourusername/devsheets-api/internal/httpx"
	"github.com/yourusername/devsheets-api/internal/logging"
	"github.com/yourusername/devsheets-api/internal/password"
	"github.com/yourusername/devsheets-api/internal/session"
	"github.com/yourusername/devsheets-api/internal/users"
)

const welcomeMessage = "Welcome to the DevSheets API!"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// app はルーターの組み立てに必要な依存をまとめたものです。
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	rdb    *redis.Client
	hasher auth.PasswordHasher
}

func run(ctx context.Context) error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cfg.SessionSecretGenerated {
		logger.Warn("SESSION_SECRET is not set; using a random key, sessions will not survive restarts")
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	db, err := database.Open(ctx, database.Options{
		URL:      cfg.DatabaseURL,
		PoolSize: cfg.DatabasePoolSize,
		PoolTTL:  cfg.DatabasePoolTTL,
		PrePing:  cfg.DatabasePoolPrePing,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	router, err := newRouter(&app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		hasher: password.NewHasher(password.DefaultParams),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newRouter はミドルウェアとルーティングを組み立てます。
func newRouter(a *app) (*gin.Engine, error) {
	cfg := a.cfg

	service, err := auth.NewService(a.db, func(db dbx.DBTX) users.Repository {
		return users.NewPostgresRepository(db)
	}, a.hasher)
	if err != nil {
		return nil, err
	}
	throttle := auth.NewLoginThrottle(a.rdb, auth.ThrottleOptions{
		MaxAttempts:  cfg.LoginMaxAttempts,
		Window:       cfg.LoginWindow,
		LockDuration: cfg.LoginLockDuration,
	})
	// セッションストアの設定（ペイロードは Redis、クッキーには署名付きトークンのみ）
	cookieOptions := sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsRelease(),
		SameSite: http.SameSiteLaxMode,
	}
	store := session.NewRedisStore(a.rdb, cfg.SessionKeyPrefix, cfg.SessionMaxAge, []byte(cfg.SessionSecret))
	store.Options(cookieOptions)

	authHandler := auth.NewHandler(service, throttle, cookieOptions)

	router := gin.New()
	router.Use(
		httpx.RequestID(),
		httpx.RequestLog(a.logger),
		httpx.Recovery(a.logger),
		httpx.SecurityHeaders(cfg.IsRelease()),
	)

	if corsConfig, ok := newCORSConfig(cfg); ok {
		router.Use(cors.New(corsConfig))
	}

	router.GET("/", handleWelcome)
	checks := map[string]health.Check{
		"database": a.db.PingContext,
		"redis":    func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
	}
	router.GET("/healthcheck", health.NewHandler(checks, 0).Serve)

	// セッションが必要なルートだけに Redis への依存を閉じ込める
	authRoutes := router.Group("",
		httpx.MaxBodyBytes(httpx.DefaultMaxBodyBytes),
		sessions.Sessions(cfg.SessionCookieName, store),
		session.Preload(cfg.SessionCookieName, store),
	)
	{
		authRoutes.POST("/users", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.GET("/logout", authHandler.Logout)
		authRoutes.GET("/whoami", authHandler.WhoAmI)
	}

	return router, nil
}

// newCORSConfig は許可オリジンが設定されている場合のみ CORS 設定を返します。
func newCORSConfig(cfg *config.Config) (cors.Config, bool) {
	if len(cfg.CORSAllowedOrigins) == 0 && cfg.CORSOriginsRegex == "" {
		return cors.Config{}, false
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	if cfg.CORSOriginsRegex != "" {
		// オリジン全体への一致を要求する。Validate 済みなので MustCompile で落ちることはない
		re := regexp.MustCompile(anchorPattern(cfg.CORSOriginsRegex))
		corsConfig.AllowOriginFunc = re.MatchString
	}
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders(httpx.RequestIDHeader)
	corsConfig.AddAllowHeaders(cfg.CORSHeaders...)
	corsConfig.AddExposeHeaders(httpx.RequestIDHeader)
	return corsConfig, true
}

// anchorPattern は部分一致を防ぐためにパターンを先頭から末尾までに固定します。
func anchorPattern(pattern string) string {
	return `^(?:` + pattern + `)$`
}

// handleWelcome はルートエンドポイントのハンドラーです。
func handleWelcome(c *gin.Context) {
	c.JSON(http.StatusOK, welcomeMessage)
}
