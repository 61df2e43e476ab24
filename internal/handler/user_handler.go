package handler

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/order"
)

// AccountServiceInterface はユーザーハンドラーが必要とするアカウント統合サービスのインターフェース。
type AccountServiceInterface interface {
	AccountLookup
	// Reconcile は検証済みサブジェクトに対応するアカウントを作成または更新する。
	Reconcile(ctx context.Context, subjectID string, attrs model.ProfilePatch, providers []string) (*model.Account, error)
	// LinkProviders は複数のプロバイダーをまとめて紐付ける。紐付け済みのものは無視する。
	LinkProviders(ctx context.Context, accountID string, providerIDs []string) (*model.Account, error)
	// UpdateProfile はプロフィール属性を部分更新する。
	UpdateProfile(ctx context.Context, accountID string, patch model.ProfilePatch) (*model.Account, error)
}

// OrderServiceInterface は注文参照系ハンドラーが必要とするサービスのインターフェース。
type OrderServiceInterface interface {
	Stats(ctx context.Context, accountID string) (*model.OrderStats, error)
	Recent(ctx context.Context, accountID string, limit int) ([]*model.Order, error)
	Completed(ctx context.Context, accountID string) ([]*model.Order, error)
	Files(ctx context.Context, accountID, orderID string) ([]model.OrderFile, error)
	FileLink(ctx context.Context, accountID, filePath string) (*order.FileLink, error)
	DownloadAll(ctx context.Context, accountID, orderID string) error
}

// UserHandler はアカウントとその注文一覧のHTTPハンドラー。
type UserHandler struct {
	accounts AccountServiceInterface
	orders   OrderServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(accounts AccountServiceInterface, orders OrderServiceInterface) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		orders:   orders,
	}
}

// reconcileRequest はアカウント登録時の任意のプロフィール指定。
// 未指定の項目はトークンのクレームから補う。
type reconcileRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	PhoneNumber *string `json:"phoneNumber"`
}

// profileRequest はプロフィール更新のリクエストボディ。
type profileRequest struct {
	DisplayName *string `json:"displayName"`
	PhoneNumber *string `json:"phoneNumber"`
}

// linkProviderRequest は紐付け対象を1つに絞る場合のリクエストボディ。
type linkProviderRequest struct {
	ProviderID string `json:"providerId"`
}

// Reconcile はトークンのサブジェクトに対応するアカウントを作成または更新する。
// POST /api/users
func (h *UserHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	subject, claims, ok := currentSubject(w, r)
	if !ok {
		return
	}

	var req reconcileRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	attrs := model.ProfilePatch{
		Email:       claims.Email(),
		DisplayName: claims.Name(),
		PhoneNumber: claims.PhoneNumber(),
	}
	if req.Email != nil {
		attrs.Email = req.Email
	}
	if req.DisplayName != nil {
		attrs.DisplayName = req.DisplayName
	}
	if req.PhoneNumber != nil {
		attrs.PhoneNumber = req.PhoneNumber
	}

	account, err := h.accounts.Reconcile(r.Context(), subject, attrs, claims.Providers())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toAccountResponse(account)})
}

// UpdateProfile はプロフィールを部分更新する。
// PUT /api/users/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	var req profileRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	updated, err := h.accounts.UpdateProfile(r.Context(), account.ID, model.ProfilePatch{
		DisplayName: req.DisplayName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toAccountResponse(updated)})
}

// ListLinkedProviders は紐付け済みのログインプロバイダー一覧を返す。
// GET /api/users/linked-providers
func (h *UserHandler) ListLinkedProviders(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toLinkedProviders(account))
}

// LinkProviders は現在のトークンが示すプロバイダーをアカウントに紐付ける。
// ボディでproviderIdを指定した場合は、トークンが示すもののうちその1つだけを紐付ける。
// POST /api/users/linked-providers
func (h *UserHandler) LinkProviders(w http.ResponseWriter, r *http.Request) {
	subject, claims, ok := currentSubject(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.AccountBySubject(r.Context(), subject)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req linkProviderRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	providers := claims.Providers()
	if req.ProviderID != "" {
		if !slices.Contains(providers, req.ProviderID) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidProviderError(req.ProviderID))
			return
		}
		providers = []string{req.ProviderID}
	}

	updated, err := h.accounts.LinkProviders(r.Context(), account.ID, providers)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLinkedProviders(updated))
}

// Stats は注文件数の集計を返す。
// GET /api/users/stats
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	stats, err := h.orders.Stats(r.Context(), account.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Total:     stats.Total,
		Pending:   stats.Pending,
		Completed: stats.Completed,
	})
}

// RecentOrders は作成日時の新しい順に注文を返す。
// GET /api/users/orders/recent?limit=5
func (h *UserHandler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	limit := order.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
			return
		}
		limit = n
	}

	orders, err := h.orders.Recent(r.Context(), account.ID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// CompletedOrders は完了済みの注文を返す。
// GET /api/users/orders/completed
func (h *UserHandler) CompletedOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	orders, err := h.orders.Completed(r.Context(), account.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}
