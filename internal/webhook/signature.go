// Package webhook はPOSシステムからのWebhookの認証を提供する。
//
// 送信元はタイムスタンプと本文に対するHMAC-SHA256署名を付与し、
// 受信側は許容時間内であることと、同じ署名が未使用であることを確認する。
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// TimestampHeader は送信時刻（Unix秒）を格納するヘッダー。
	TimestampHeader = "X-Webhook-Timestamp"
	// SignatureHeader は署名を格納するヘッダー。形式は "sha256=<hex>"。
	SignatureHeader = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

var (
	// ErrMissingSignature は署名またはタイムスタンプのヘッダーが無い場合に返される。
	ErrMissingSignature = errors.New("webhook: missing signature headers")
	// ErrStaleTimestamp はタイムスタンプが許容範囲外の場合に返される。
	ErrStaleTimestamp = errors.New("webhook: timestamp outside tolerance")
	// ErrInvalidSignature は署名が一致しない場合に返される。
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrReplayed は同じ署名が既に受理済みの場合に返される。
	ErrReplayed = errors.New("webhook: signature already used")
)

// Sign はタイムスタンプと本文に対する署名ヘッダーの値を返す。
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier はWebhookの署名を検証する。
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier はSignatureVerifierを生成する。
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Tolerance は許容する時刻のずれを返す。
func (v *SignatureVerifier) Tolerance() time.Duration {
	return v.tolerance
}

// Verify はヘッダーの値と本文から署名を検証する。
func (v *SignatureVerifier) Verify(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	sent := time.Unix(sec, 0)
	if skew := v.now().Sub(sent); skew > v.tolerance || skew < -v.tolerance {
		return ErrStaleTimestamp
	}

	got, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return ErrInvalidSignature
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return ErrInvalidSignature
	}

	want, _ := hex.DecodeString(strings.TrimPrefix(Sign(v.secret, timestamp, body), signaturePrefix))
	if !hmac.Equal(gotMAC, want) {
		return ErrInvalidSignature
	}
	return nil
}

// replayKey は再送判定に使う署名の正規形を返す。
// 16進表記は大文字・小文字のどちらでも検証を通るため、小文字に揃える。
func replayKey(signature string) string {
	return strings.ToLower(signature)
}
