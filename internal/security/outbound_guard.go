// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard はIdPのディスカバリ・JWKS取得など外向きHTTP通信を保護する。
// 設定ミスや改ざんされた発行者URLにより内部ネットワークへ
// リクエストが送られることを防ぐ。
type OutboundGuard struct {
	enabled bool
}

// NewOutboundGuard はOutboundGuardを生成する。
// enabledがfalseの場合は検証を行わない（ローカルのIdPエミュレータ向け）。
func NewOutboundGuard(enabled bool) *OutboundGuard {
	return &OutboundGuard{enabled: enabled}
}

// Enabled は検証が有効かを返す。
func (g *OutboundGuard) Enabled() bool {
	return g.enabled
}

// blockedNetworks はブロック対象のネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NewHTTPClient は外向き通信用のHTTPクライアントを生成する。
// 有効時はsafeurlにより、DNS解決後のIPアドレスがプライベート・ループバック・
// リンクローカルの場合に接続を拒否し、HTTPSの443番ポートのみを許可する。
func (g *OutboundGuard) NewHTTPClient(timeout time.Duration) *http.Client {
	if !g.enabled {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint はIdPのエンドポイントURLを起動時に静的検証する。
// DNS再バインディングはNewHTTPClientのDialer側で防止される。
func (g *OutboundGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("disallowed scheme: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if !g.enabled {
		return nil
	}

	if scheme != "https" {
		return fmt.Errorf("https is required: %s", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
