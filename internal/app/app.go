package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/orderportal/internal/access"
	"github.com/hitoshi/orderportal/internal/auth"
	"github.com/hitoshi/orderportal/internal/blob"
	"github.com/hitoshi/orderportal/internal/config"
	"github.com/hitoshi/orderportal/internal/database"
	"github.com/hitoshi/orderportal/internal/handler"
	"github.com/hitoshi/orderportal/internal/identity"
	"github.com/hitoshi/orderportal/internal/logger"
	"github.com/hitoshi/orderportal/internal/metrics"
	"github.com/hitoshi/orderportal/internal/middleware"
	"github.com/hitoshi/orderportal/internal/order"
	"github.com/hitoshi/orderportal/internal/repository"
	"github.com/hitoshi/orderportal/internal/security"
	"github.com/hitoshi/orderportal/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("idp_kind", cfg.IdPKind),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// recorder はサービス層が使うメトリクス記録のインターフェースをまとめたもの。
// *metrics.Collector と metrics.Nop が満たす。
type recorder interface {
	identity.Recorder
	order.Recorder
	handler.WebhookRecorder
}

// components は組み立て済みのHTTPハンドラーと、終了時に解放するリソース。
type components struct {
	handler http.Handler
	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// buildComponents は設定に従って全依存関係をワイヤリングする。
// ctxはIdPの鍵取得とRedisの疎通確認に使われ、サーバー停止までキャンセルしないこと。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	// 1. ストア
	var (
		accountRepo   repository.AccountRepository
		orderRepo     repository.OrderRepository
		activityRepo  repository.ActivityRepository
		healthChecker handler.HealthChecker
	)
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := repository.NewMemoryStore()
		accountRepo, orderRepo, activityRepo = store.Accounts(), store.Orders(), store.Activity()
		healthChecker = store
		slog.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		c.closers = append(c.closers, func() { db.Close() })

		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			return nil, err
		}
		slog.Info("database connection established")

		accountRepo = repository.NewPostgresAccountRepo(db)
		orderRepo = repository.NewPostgresOrderRepo(db)
		activityRepo = repository.NewPostgresActivityRepo(db)
		healthChecker = db
	}

	// 2. トークン検証
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 3. Webhookの再送防止
	var guard webhook.ReplayGuard
	if cfg.RedisURL != "" {
		client, err := webhook.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { client.Close() })
		guard = webhook.NewRedisReplayGuard(client)
		slog.Info("webhook replay guard uses redis")
	} else {
		guard = webhook.NewMemoryReplayGuard()
		slog.Warn("REDIS_URL is not set; webhook replay guard is per-process")
	}

	// 4. ファイルストレージ
	var blobs blob.Store
	if cfg.BlobConfigured() {
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		blobs = s3Store
	} else {
		slog.Warn("S3_BUCKET is not set; file downloads are unavailable")
	}

	// 5. メトリクス
	var (
		rec            recorder = metrics.Nop{}
		httpRecorder   middleware.HTTPRecorder
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(reg)
		rec, httpRecorder, metricsHandler = collector, collector, metrics.Handler(reg)
	}

	// 6. ドメインサービス
	accountService := identity.NewService(accountRepo, activityRepo, rec)
	gate := access.NewGate(orderRepo)
	orderService := order.NewService(orderRepo, activityRepo, gate, blobs, rec, cfg.FileURLTTL)

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWebhook),
	)
	c.closers = append(c.closers, rateLimiter.Stop)

	c.handler = handler.NewRouter(&handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  healthChecker,
		HTTPRecorder:   httpRecorder,
		MetricsHandler: metricsHandler,

		AccountService: accountService,
		OrderService:   orderService,

		OrderIngester:   orderService,
		WebhookVerifier: webhook.NewSignatureVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		ReplayGuard:     guard,
		WebhookRecorder: rec,
	})

	ok = true
	return c, nil
}

// newVerifier はIdPの種別に応じたトークン検証器を生成する。
// 鍵の取得はOutboundGuardを通したHTTPクライアントで行う。
func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	guard := security.NewOutboundGuard(cfg.IdPHTTPGuard)
	client := guard.NewHTTPClient(cfg.IdPHTTPTimeout)

	switch cfg.IdPKind {
	case config.IdPKindOIDC:
		for _, endpoint := range []string{cfg.OIDCIssuerURL, cfg.OIDCJWKSURL} {
			if endpoint == "" {
				continue
			}
			if err := guard.ValidateEndpoint(endpoint); err != nil {
				return nil, fmt.Errorf("invalid idp endpoint: %w", err)
			}
		}
		v, err := auth.NewOIDCVerifier(ctx, auth.VerifierConfig{
			IssuerURL:  cfg.OIDCIssuerURL,
			Audience:   cfg.OIDCAudience,
			JWKSURL:    cfg.OIDCJWKSURL,
			HTTPClient: client,
			Adapter:    auth.OIDCAdapter{ProviderID: cfg.OIDCProviderID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create oidc verifier: %w", err)
		}
		return v, nil
	default:
		v, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create firebase verifier: %w", err)
		}
		return v, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      comps.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return fmt.Errorf("migrate requires STORE_BACKEND=%s, got %q", config.StoreBackendPostgres, cfg.StoreBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
