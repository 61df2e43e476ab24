package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/orderportal/internal/model"
)

// OrderHandler は注文ファイルの参照とダウンロードリンク発行のHTTPハンドラー。
type OrderHandler struct {
	accounts AccountLookup
	orders   OrderServiceInterface
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(accounts AccountLookup, orders OrderServiceInterface) *OrderHandler {
	return &OrderHandler{
		accounts: accounts,
		orders:   orders,
	}
}

// ListFiles は所有する注文のファイル一覧を返す。
// 他人の注文と存在しない注文は同じ404となる。
// GET /api/orders/{orderId}/files
func (h *OrderHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	files, err := h.orders.Files(r.Context(), account.ID, chi.URLParam(r, "orderId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponses(files))
}

// FileLink は所有するファイルの署名付きダウンロードURLを返す。
// GET /api/files/*
func (h *OrderHandler) FileLink(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	filePath, err := wildcardPath(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルパスが不正です"))
		return
	}

	link, err := h.orders.FileLink(r.Context(), account.ID, filePath)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileLinkResponse(link))
}

// DownloadAll は注文の全ファイル一括ダウンロード。所有確認のみ行い、501を返す。
// GET /api/orders/{orderId}/files/download-all
func (h *OrderHandler) DownloadAll(w http.ResponseWriter, r *http.Request) {
	account, ok := currentAccount(w, r, h.accounts)
	if !ok {
		return
	}

	if err := h.orders.DownloadAll(r.Context(), account.ID, chi.URLParam(r, "orderId")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// wildcardPath はワイルドカード部分のファイルパスを1回だけデコードして返す。
// chiはRawPathがある場合のみエスケープ済みの値でルーティングするため、
// その場合に限りアンエスケープする。
func wildcardPath(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return p, nil
	}
	return url.PathUnescape(p)
}
