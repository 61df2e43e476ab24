package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// FirebaseJWKSURL はFirebase IDトークンの署名鍵を公開するJWKSエンドポイント。
const FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// clockSkew は発行者とのクロックのずれとして許容する時間。
const clockSkew = 5 * time.Minute

// FirebaseIssuer はプロジェクトIDからFirebase IDトークンの発行者を返す。
func FirebaseIssuer(projectID string) string {
	return "https://securetoken.google.com/" + projectID
}

// Verifier はRawTokenを検証してVerifiedClaimsを返す。
type Verifier interface {
	Verify(ctx context.Context, raw RawToken) (*VerifiedClaims, error)
}

// OIDCVerifier はgo-oidcによる署名・発行者・オーディエンス・有効期限の検証の後、
// ClaimsAdapterで発行者固有のクレームを解釈する。
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	adapter  ClaimsAdapter
	now      func() time.Time
}

// VerifierConfig はOIDCVerifierの設定。
type VerifierConfig struct {
	IssuerURL string
	Audience  string
	// JWKSURL が空の場合はIssuerURLのディスカバリ文書から取得する。
	JWKSURL    string
	HTTPClient *http.Client
	Adapter    ClaimsAdapter
	Now        func() time.Time
}

// NewOIDCVerifier はリモートの鍵セットを使うOIDCVerifierを生成する。
// ctxはディスカバリと、以後の鍵取得で使うHTTPクライアントの受け渡しに使用する。
func NewOIDCVerifier(ctx context.Context, cfg VerifierConfig) (*OIDCVerifier, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
		}
		var meta struct {
			JWKSURL string `json:"jwks_uri"`
		}
		if err := provider.Claims(&meta); err != nil {
			return nil, fmt.Errorf("failed to read provider metadata: %w", err)
		}
		jwksURL = meta.JWKSURL
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return NewVerifierWithKeySet(cfg, keySet), nil
}

// NewFirebaseVerifier はFirebase Authentication用のOIDCVerifierを生成する。
func NewFirebaseVerifier(ctx context.Context, projectID string, client *http.Client) (*OIDCVerifier, error) {
	return NewOIDCVerifier(ctx, VerifierConfig{
		IssuerURL:  FirebaseIssuer(projectID),
		Audience:   projectID,
		JWKSURL:    FirebaseJWKSURL,
		HTTPClient: client,
		Adapter:    FirebaseAdapter{},
	})
}

// NewVerifierWithKeySet は指定した鍵セットでOIDCVerifierを生成する。
func NewVerifierWithKeySet(cfg VerifierConfig, keySet oidc.KeySet) *OIDCVerifier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	adapter := cfg.Adapter
	if adapter == nil {
		adapter = OIDCAdapter{}
	}

	return &OIDCVerifier{
		verifier: oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{
			ClientID: cfg.Audience,
			Now:      now,
		}),
		adapter: adapter,
		now:     now,
	}
}

// Verify はトークンを検証する。
// 形式不正はErrMalformedToken、それ以外の検証失敗はErrVerificationFailedをラップして返す。
func (v *OIDCVerifier) Verify(ctx context.Context, raw RawToken) (*VerifiedClaims, error) {
	if !raw.WellFormed() {
		return nil, ErrMalformedToken
	}

	idToken, err := v.verifier.Verify(ctx, string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	claims, err := v.adapter.Adapt(idToken, v.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return claims, nil
}

// compile-time interface check
var _ Verifier = (*OIDCVerifier)(nil)
