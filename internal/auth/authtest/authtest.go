// Package authtest はテスト用にRS256署名のIDトークンを発行し、
// それを検証するauth.Verifierを提供する。
package authtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/orderportal/internal/auth"
)

// DefaultProjectID はテスト用のFirebaseプロジェクトID。
const DefaultProjectID = "orderportal-test"

// Issuer はテスト用のトークン発行者。
type Issuer struct {
	key       *rsa.PrivateKey
	keyID     string
	IssuerURL string
	Audience  string
	Now       func() time.Time
}

// NewIssuer は新しいRSA鍵を生成してIssuerを返す。
func NewIssuer(issuerURL, audience string) (*Issuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return &Issuer{
		key:       key,
		keyID:     "test-key-1",
		IssuerURL: issuerURL,
		Audience:  audience,
		Now:       time.Now,
	}, nil
}

// NewFirebaseIssuer はFirebaseと同じ発行者・オーディエンスを持つIssuerを返す。
func NewFirebaseIssuer(t testing.TB) *Issuer {
	t.Helper()
	iss, err := NewIssuer(auth.FirebaseIssuer(DefaultProjectID), DefaultProjectID)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	return iss
}

// KeySet は発行者の公開鍵のみを含む鍵セットを返す。
func (i *Issuer) KeySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&i.key.PublicKey}}
}

// Verifier は本Issuerのトークンを受け入れるauth.OIDCVerifierを返す。
func (i *Issuer) Verifier(adapter auth.ClaimsAdapter) *auth.OIDCVerifier {
	return auth.NewVerifierWithKeySet(auth.VerifierConfig{
		IssuerURL: i.IssuerURL,
		Audience:  i.Audience,
		Adapter:   adapter,
		Now:       i.Now,
	}, i.KeySet())
}

// Claims は発行者・オーディエンス・有効期限を設定した基本クレームを返す。
func (i *Issuer) Claims(subject string) jwt.MapClaims {
	now := i.Now()
	return jwt.MapClaims{
		"iss": i.IssuerURL,
		"aud": i.Audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// FirebaseClaims はFirebase形式のクレームを返す。
// identitiesには紐付け済みのプロバイダーIDを指定する。
func (i *Issuer) FirebaseClaims(uid, signInProvider string, identities ...string) jwt.MapClaims {
	c := i.Claims(uid)
	c["user_id"] = uid
	c["auth_time"] = i.Now().Add(-time.Minute).Unix()

	ids := make(map[string]any, len(identities))
	for _, p := range identities {
		ids[p] = []any{uid + "@" + p}
	}
	c["firebase"] = map[string]any{
		"identities":       ids,
		"sign_in_provider": signInProvider,
	}
	return c
}

// Mint はクレームにRS256で署名したトークンを返す。
func (i *Issuer) Mint(claims jwt.MapClaims) (auth.RawToken, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.keyID

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return auth.RawToken(signed), nil
}

// MustMint はMintに失敗した場合にテストを失敗させる。
func (i *Issuer) MustMint(t testing.TB, claims jwt.MapClaims) auth.RawToken {
	t.Helper()
	raw, err := i.Mint(claims)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return raw
}

// Verified はクレームを発行してFirebaseAdapterで検証し、VerifiedClaimsを返す。
func (i *Issuer) Verified(t testing.TB, claims jwt.MapClaims) *auth.VerifiedClaims {
	t.Helper()
	vc, err := i.Verifier(auth.FirebaseAdapter{}).Verify(t.Context(), i.MustMint(t, claims))
	if err != nil {
		t.Fatalf("failed to verify minted token: %v", err)
	}
	return vc
}
