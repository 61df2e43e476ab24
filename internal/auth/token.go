// Package auth はIdPが発行したIDトークンの検証とサブジェクトの抽出を提供する。
//
// 検証は2段階で行う。未検証のRawTokenをVerifierで検証してVerifiedClaimsを得て、
// そこからExtractSubjectでサブジェクトを取り出す。VerifiedClaimsは本パッケージ内で
// 署名・発行者・オーディエンス・有効期限の検証に成功した場合にのみ生成される。
package auth

import (
	"errors"
	"strings"
)

var (
	// ErrMissingToken はBearerトークンが指定されていない場合のエラー。
	ErrMissingToken = errors.New("auth: bearer token is missing")
	// ErrMalformedToken はトークンがJWSコンパクト形式として読み取れない場合のエラー。
	ErrMalformedToken = errors.New("auth: token is malformed")
	// ErrVerificationFailed は署名・発行者・オーディエンス・有効期限などの検証に失敗した場合のエラー。
	ErrVerificationFailed = errors.New("auth: token verification failed")
	// ErrMissingSubject は検証済みクレームにサブジェクトが含まれない場合のエラー。
	ErrMissingSubject = errors.New("auth: subject claim is missing")
)

// RawToken は未検証のIDトークン文字列。
// 検証前の値を検証済みの値と取り違えないよう、stringとは別の型とする。
type RawToken string

// ParseBearer はAuthorizationヘッダー値からRawTokenを取り出す。
// ヘッダーが空の場合はErrMissingToken、Bearer形式でない場合や
// JWSの3セグメント構造を持たない場合はErrMalformedTokenを返す。
func ParseBearer(header string) (RawToken, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedToken
	}

	raw := RawToken(strings.TrimSpace(token))
	if !raw.WellFormed() {
		return "", ErrMalformedToken
	}
	return raw, nil
}

// WellFormed はトークンが空でない3つのセグメントからなるかを返す。
// 署名の検証は行わない。
func (t RawToken) WellFormed() bool {
	parts := strings.Split(string(t), ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\r\n") {
			return false
		}
	}
	return true
}
