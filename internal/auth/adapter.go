package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ClaimsAdapter は発行者ごとのクレーム構造を解釈し、
// サブジェクトとプロバイダーを決定する。
type ClaimsAdapter interface {
	Adapt(token *oidc.IDToken, now time.Time) (*VerifiedClaims, error)
}

// FirebaseAdapter はFirebase AuthenticationのIDトークンを解釈する。
type FirebaseAdapter struct{}

// ログインプロバイダーとして扱わないFirebaseのサインイン種別
var firebaseIgnoredProviders = []string{"custom", "anonymous"}

type firebaseClaims struct {
	Subject     string `json:"sub"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	AuthTime    int64  `json:"auth_time"`
	Firebase    struct {
		Identities     map[string]any `json:"identities"`
		SignInProvider string         `json:"sign_in_provider"`
	} `json:"firebase"`
}

// Adapt はuser_idをサブジェクトとし、firebase.identitiesのキーと
// firebase.sign_in_providerをプロバイダーとして取り出す。
// user_idとsubが食い違う場合や、auth_timeが未来の場合は拒否する。
func (FirebaseAdapter) Adapt(token *oidc.IDToken, now time.Time) (*VerifiedClaims, error) {
	var fc firebaseClaims
	if err := token.Claims(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode firebase claims: %w", err)
	}

	subject := fc.UserID
	if subject == "" {
		subject = fc.Subject
	}
	if fc.UserID != "" && fc.Subject != "" && fc.UserID != fc.Subject {
		return nil, errors.New("user_id does not match sub")
	}
	if fc.AuthTime > 0 && time.Unix(fc.AuthTime, 0).After(now.Add(clockSkew)) {
		return nil, errors.New("auth_time is in the future")
	}

	var providers []string
	for key := range fc.Firebase.Identities {
		if key == "email" {
			continue
		}
		providers = append(providers, key)
	}
	if p := fc.Firebase.SignInProvider; p != "" && !slices.Contains(firebaseIgnoredProviders, p) {
		providers = append(providers, p)
	}
	slices.Sort(providers)
	providers = slices.Compact(providers)

	return &VerifiedClaims{
		issuer:    token.Issuer,
		subject:   subject,
		email:     optionalString(fc.Email),
		name:      optionalString(fc.Name),
		phone:     optionalString(fc.PhoneNumber),
		providers: providers,
		expiry:    token.Expiry,
	}, nil
}

// OIDCAdapter は一般的なOIDC発行者のIDトークンを解釈する。
// サブジェクトはsub、プロバイダーは設定されたIDに固定する。
type OIDCAdapter struct {
	ProviderID string
}

type standardClaims struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// Adapt はsubをサブジェクトとし、標準クレームからプロフィールを取り出す。
func (a OIDCAdapter) Adapt(token *oidc.IDToken, _ time.Time) (*VerifiedClaims, error) {
	var sc standardClaims
	if err := token.Claims(&sc); err != nil {
		return nil, fmt.Errorf("failed to decode standard claims: %w", err)
	}

	var providers []string
	if a.ProviderID != "" {
		providers = []string{a.ProviderID}
	}

	return &VerifiedClaims{
		issuer:    token.Issuer,
		subject:   token.Subject,
		email:     optionalString(sc.Email),
		name:      optionalString(sc.Name),
		phone:     optionalString(sc.PhoneNumber),
		providers: providers,
		expiry:    token.Expiry,
	}, nil
}
