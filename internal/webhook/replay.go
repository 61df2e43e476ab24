package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard は受理済みの署名を記録し、再送を検出する。
type ReplayGuard interface {
	// Claim は署名を初めて受理する場合にtrueを返す。ttlの間は同じ署名を拒否する。
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard はRedisのSET NXで受理済み署名を共有する。
// 複数インスタンス構成で使用する。
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// コンパイル時にインターフェースの実装を検証する。
var _ ReplayGuard = (*RedisReplayGuard)(nil)

// NewRedisReplayGuard はRedisReplayGuardを生成する。
func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, prefix: "orderportal:webhook:sig:"}
}

// NewRedisClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Claim は署名をキーにSET NXを行う。
func (g *RedisReplayGuard) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+signature, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record webhook signature: %w", err)
	}
	return ok, nil
}

// MemoryReplayGuard はプロセス内で受理済み署名を保持する。単一インスタンス用。
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time // signature -> 有効期限
	now  func() time.Time
}

// コンパイル時にインターフェースの実装を検証する。
var _ ReplayGuard = (*MemoryReplayGuard)(nil)

// NewMemoryReplayGuard はMemoryReplayGuardを生成する。
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim は署名が未使用または期限切れの場合に記録してtrueを返す。
// 呼び出しのたびに期限切れのエントリを削除する。
func (g *MemoryReplayGuard) Claim(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for sig, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, sig)
		}
	}

	if _, exists := g.seen[signature]; exists {
		return false, nil
	}
	g.seen[signature] = now.Add(ttl)
	return true, nil
}
