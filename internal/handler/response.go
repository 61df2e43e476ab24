package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/orderportal/internal/middleware"
	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/order"
)

// accountResponse はアカウント情報のAPIレスポンス。
type accountResponse struct {
	UnifiedID       string    `json:"unifiedId"`
	Email           *string   `json:"email"`
	DisplayName     *string   `json:"displayName"`
	PhoneNumber     *string   `json:"phoneNumber"`
	LinkedProviders []string  `json:"linkedProviders"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// userEnvelope は {"user": ...} 形式のレスポンス。
type userEnvelope struct {
	User accountResponse `json:"user"`
}

// linkedProviderResponse は紐付け済みログイン手段の表示用レスポンス。
type linkedProviderResponse struct {
	ProviderID string  `json:"providerId"`
	Name       string  `json:"name"`
	Email      *string `json:"email,omitempty"`
}

// orderResponse は注文のAPIレスポンス。
type orderResponse struct {
	OrderID       string         `json:"orderId"`
	UnifiedUserID string         `json:"unifiedUserId"`
	Description   *string        `json:"description"`
	Status        string         `json:"status"`
	Files         []fileResponse `json:"files"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt"`
}

// fileResponse はファイル記述子のAPIレスポンス。
type fileResponse struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

// fileLinkResponse は署名付きダウンロードURLのAPIレスポンス。
type fileLinkResponse struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// statsResponse は注文件数のAPIレスポンス。
type statsResponse struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// providerDisplayNames はプロバイダーIDと表示名の対応。
var providerDisplayNames = map[string]string{
	"google.com":   "Google",
	"apple.com":    "Apple ID",
	"facebook.com": "Facebook",
	"oidc.line":    "LINE",
}

func toAccountResponse(a *model.Account) accountResponse {
	providers := a.LinkedProviders
	if providers == nil {
		providers = []string{}
	}
	return accountResponse{
		UnifiedID:       a.ID,
		Email:           a.Email,
		DisplayName:     a.DisplayName,
		PhoneNumber:     a.PhoneNumber,
		LinkedProviders: providers,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// toLinkedProviders は紐付け済みプロバイダーを表示用に変換する。
// Googleの項目にのみアカウントのメールアドレスを添える。
func toLinkedProviders(a *model.Account) []linkedProviderResponse {
	out := make([]linkedProviderResponse, 0, len(a.LinkedProviders))
	for _, id := range a.LinkedProviders {
		name, ok := providerDisplayNames[id]
		if !ok {
			name = id
		}
		lp := linkedProviderResponse{ProviderID: id, Name: name}
		if id == "google.com" {
			lp.Email = a.Email
		}
		out = append(out, lp)
	}
	return out
}

func toFileResponses(files []model.OrderFile) []fileResponse {
	out := make([]fileResponse, len(files))
	for i, f := range files {
		out[i] = fileResponse{Path: f.Path, Name: f.Name, Size: f.Size, Type: f.Type}
	}
	return out
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		OrderID:       o.ID,
		UnifiedUserID: o.OwnerAccountID,
		Description:   o.Description,
		Status:        string(o.Status),
		Files:         toFileResponses(o.Files),
		CreatedAt:     o.CreatedAt,
		CompletedAt:   o.CompletedAt,
	}
}

func toOrderResponses(orders []*model.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out
}

func toFileLinkResponse(l *order.FileLink) fileLinkResponse {
	return fileLinkResponse{Path: l.Path, Name: l.Name, URL: l.URL, ExpiresAt: l.ExpiresAt}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeOptionalJSON はリクエストボディをデコードする。ボディが空の場合は何もしない。
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeInvalidBody はリクエストボディの解析失敗を書き込む。
func writeInvalidBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidAssertion, model.ErrCodeInvalidRequest, model.ErrCodeInvalidProvider:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidSignature:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeAccountNotFound, model.ErrCodeOrderNotFound, model.ErrCodeFileNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateOrder:
		return http.StatusConflict
	case model.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case model.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
