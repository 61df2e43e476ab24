package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/orderportal/internal/auth"
	"github.com/hitoshi/orderportal/internal/middleware"
	"github.com/hitoshi/orderportal/internal/webhook"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          auth.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	HealthChecker  HealthChecker
	HTTPRecorder   middleware.HTTPRecorder // nilの場合はHTTPメトリクスを記録しない
	MetricsHandler http.Handler            // nilの場合は /metrics を公開しない

	// アカウントと注文
	AccountService AccountServiceInterface
	OrderService   OrderServiceInterface

	// Webhook
	OrderIngester   OrderIngesterInterface
	WebhookVerifier *webhook.SignatureVerifier
	ReplayGuard     webhook.ReplayGuard
	WebhookRecorder WebhookRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  → BearerAuth → RateLimit(General)        (/api/users, /api/orders, /api/files)
//	  → RateLimit(Webhook) → Signature         (/api/webhooks/order)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.AccountService, deps.OrderService)
	orderHandler := NewOrderHandler(deps.AccountService, deps.OrderService)
	webhookHandler := NewWebhookHandler(deps.OrderIngester, deps.WebhookRecorder)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// POSシステムからのWebhook（署名で認証）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.WebhookMiddleware())
		r.Use(webhook.NewSignatureMiddleware(deps.WebhookVerifier, deps.ReplayGuard, deps.WebhookRecorder))

		r.Post("/api/webhooks/order", webhookHandler.IngestOrder)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// アカウント
		r.Route("/api/users", func(r chi.Router) {
			r.Post("/", userHandler.Reconcile)
			r.Get("/stats", userHandler.Stats)
			r.Get("/orders/recent", userHandler.RecentOrders)
			r.Get("/orders/completed", userHandler.CompletedOrders)
			r.Put("/profile", userHandler.UpdateProfile)
			r.Get("/linked-providers", userHandler.ListLinkedProviders)
			r.Post("/linked-providers", userHandler.LinkProviders)
		})

		// 注文ファイル
		r.Route("/api/orders/{orderId}/files", func(r chi.Router) {
			r.Get("/", orderHandler.ListFiles)
			r.Get("/download-all", orderHandler.DownloadAll)
		})
		r.Get("/api/files/*", orderHandler.FileLink)
	})

	return r
}
