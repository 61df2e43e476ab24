package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアのバックエンド種別
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// IdPの種別
const (
	IdPKindFirebase = "firebase"
	IdPKindOIDC     = "oidc"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend string
	DatabaseURL  string

	// Identity provider
	IdPKind           string
	FirebaseProjectID string
	OIDCIssuerURL     string
	OIDCAudience      string
	OIDCJWKSURL       string
	OIDCProviderID    string
	IdPHTTPTimeout    time.Duration
	IdPHTTPGuard      bool

	// Webhook
	WebhookSecret    string
	WebhookTolerance time.Duration
	RedisURL         string

	// Blob storage
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	FileURLTTL     time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitWebhook int

	// Server
	ServerPort     string
	MetricsEnabled bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendPostgres))
	switch cfg.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreBackend == StoreBackendPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdPKind = strings.ToLower(getEnvString("IDP_KIND", IdPKindFirebase))
	switch cfg.IdPKind {
	case IdPKindFirebase:
		cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
		if cfg.FirebaseProjectID == "" {
			missing = append(missing, "FIREBASE_PROJECT_ID")
		}
	case IdPKindOIDC:
		cfg.OIDCIssuerURL = os.Getenv("OIDC_ISSUER_URL")
		if cfg.OIDCIssuerURL == "" {
			missing = append(missing, "OIDC_ISSUER_URL")
		}
		cfg.OIDCAudience = os.Getenv("OIDC_AUDIENCE")
		if cfg.OIDCAudience == "" {
			missing = append(missing, "OIDC_AUDIENCE")
		}
		cfg.OIDCProviderID = os.Getenv("OIDC_PROVIDER_ID")
		if cfg.OIDCProviderID == "" {
			missing = append(missing, "OIDC_PROVIDER_ID")
		}
		cfg.OIDCJWKSURL = os.Getenv("OIDC_JWKS_URL")
	default:
		return nil, fmt.Errorf("unsupported IDP_KIND: %q", cfg.IdPKind)
	}

	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdPHTTPTimeout = getEnvDuration("IDP_HTTP_TIMEOUT", 10*time.Second)
	cfg.IdPHTTPGuard = getEnvBool("IDP_HTTP_GUARD", true)
	cfg.WebhookTolerance = getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.FileURLTTL = getEnvDuration("FILE_URL_TTL", 15*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWebhook = getEnvInt("RATE_LIMIT_WEBHOOK", 60)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// BlobConfigured はファイルストレージの設定が揃っているかを返す。
func (c *Config) BlobConfigured() bool {
	return c.S3Bucket != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
