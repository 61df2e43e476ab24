// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, order, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidAssertion   = "INVALID_ASSERTION"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	ErrCodeOrderNotFound      = "ORDER_NOT_FOUND"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidProvider    = "INVALID_PROVIDER"
	ErrCodeDuplicateOrder     = "DUPLICATE_ORDER"
	ErrCodeNotImplemented     = "NOT_IMPLEMENTED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidAssertionError はサブジェクトが欠落・不正な場合のエラーを生成する。
func NewInvalidAssertionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAssertion,
		Message:  fmt.Sprintf("認証情報が不正です: %s", reason),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthenticatedError はBearerトークンが無い・読み取れない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError はトークンの検証に失敗した場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "認証情報を検証できませんでした。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidSignatureError はWebhookの署名検証に失敗した場合のエラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "Webhookの署名を検証できませんでした。",
		Category: "auth",
		Action:   "署名用シークレットと送信時刻を確認してください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOrderNotFoundError は注文が存在しない、または所有者でない場合のエラーを生成する。
// 存在有無を漏らさないため、両者で同一のエラーを返す。
func NewOrderNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeOrderNotFound,
		Message:  "指定された注文が見つかりません。",
		Category: "order",
		Action:   "注文番号を確認してください。",
	}
}

// NewFileNotFoundError はファイルが存在しない、またはアクセス権が無い場合のエラーを生成する。
func NewFileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeFileNotFound,
		Message:  "指定されたファイルが見つかりません。",
		Category: "order",
		Action:   "注文のファイル一覧から選択し直してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidProviderError はプロバイダーIDが不正な場合のエラーを生成する。
func NewInvalidProviderError(providerID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("無効なプロバイダーです: %q", providerID),
		Category: "validation",
		Action:   "対応しているログイン方法を選択してください。",
	}
}

// NewDuplicateOrderError は同じ注文番号が既に登録済みの場合のエラーを生成する。
func NewDuplicateOrderError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateOrder,
		Message:  fmt.Sprintf("注文は既に登録されています: %s", orderID),
		Category: "order",
		Action:   "注文番号を確認してください。",
	}
}

// NewNotImplementedError は未実装機能が呼ばれた場合のエラーを生成する。
func NewNotImplementedError(feature string) *APIError {
	return &APIError{
		Code:     ErrCodeNotImplemented,
		Message:  fmt.Sprintf("この機能は現在利用できません: %s", feature),
		Category: "system",
		Action:   "ファイルを個別にダウンロードしてください。",
	}
}

// NewStorageUnavailableError はファイルストレージが未設定・利用不可の場合のエラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "ファイルストレージを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーのレスポンス用エラーを生成する。
// 詳細はログのみに記録し、呼び出し元には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
