package auth

import (
	"slices"
	"time"
)

// VerifiedClaims は検証に成功したIDトークンから取り出したクレーム。
// フィールドはすべて非公開で、本パッケージの外では生成できない。
type VerifiedClaims struct {
	issuer    string
	subject   string
	email     *string
	name      *string
	phone     *string
	providers []string
	expiry    time.Time
}

// Issuer はトークンの発行者を返す。
func (c *VerifiedClaims) Issuer() string { return c.issuer }

// Email はemailクレームを返す。トークンに含まれない場合はnil。
func (c *VerifiedClaims) Email() *string { return cloneString(c.email) }

// Name はnameクレームを返す。トークンに含まれない場合はnil。
func (c *VerifiedClaims) Name() *string { return cloneString(c.name) }

// PhoneNumber はphone_numberクレームを返す。トークンに含まれない場合はnil。
func (c *VerifiedClaims) PhoneNumber() *string { return cloneString(c.phone) }

// Providers はトークンが示すログインプロバイダーIDをソート済みで返す。
func (c *VerifiedClaims) Providers() []string { return slices.Clone(c.providers) }

// Expiry はトークンの有効期限を返す。
func (c *VerifiedClaims) Expiry() time.Time { return c.expiry }

// ExtractSubject は検証済みクレームからサブジェクトを取り出す。
// サブジェクトの形式検証は呼び出し側（アカウント統合）で行う。
func ExtractSubject(c *VerifiedClaims) (string, error) {
	if c == nil || c.subject == "" {
		return "", ErrMissingSubject
	}
	return c.subject, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
