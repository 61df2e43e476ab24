package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/order"
)

// OrderIngesterInterface はWebhookハンドラーが必要とする注文登録のインターフェース。
type OrderIngesterInterface interface {
	Ingest(ctx context.Context, req order.IngestRequest) (*model.Order, error)
}

// WebhookRecorder はWebhookの受付結果を記録するインターフェース。
type WebhookRecorder interface {
	RecordWebhookResult(result string)
}

// orderWebhookRequest はPOSシステムから送られる注文のペイロード。
type orderWebhookRequest struct {
	OrderID       string            `json:"orderId"`
	UnifiedUserID string            `json:"unifiedUserId"`
	Description   *string           `json:"description"`
	Status        string            `json:"status"`
	Files         []model.OrderFile `json:"files"`
}

// orderEnvelope は {"order": ...} 形式のレスポンス。
type orderEnvelope struct {
	Order orderResponse `json:"order"`
}

// WebhookHandler はPOSシステムからの注文Webhookを受け付けるHTTPハンドラー。
// 署名の検証はミドルウェアで済んでいる前提で動作する。
type WebhookHandler struct {
	ingester OrderIngesterInterface
	recorder WebhookRecorder
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(ingester OrderIngesterInterface, recorder WebhookRecorder) *WebhookHandler {
	return &WebhookHandler{
		ingester: ingester,
		recorder: recorder,
	}
}

// IngestOrder は注文を登録する。
// POST /api/webhooks/order
func (h *WebhookHandler) IngestOrder(w http.ResponseWriter, r *http.Request) {
	var req orderWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recorder.RecordWebhookResult("invalid")
		writeInvalidBody(w)
		return
	}

	created, err := h.ingester.Ingest(r.Context(), order.IngestRequest{
		OrderID:       req.OrderID,
		UnifiedUserID: req.UnifiedUserID,
		Description:   req.Description,
		Status:        req.Status,
		Files:         req.Files,
	})
	if err != nil {
		h.recorder.RecordWebhookResult(webhookResultFor(err))
		handleServiceError(w, err)
		return
	}

	h.recorder.RecordWebhookResult("accepted")
	writeJSON(w, http.StatusCreated, orderEnvelope{Order: toOrderResponse(created)})
}

func webhookResultFor(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "error"
	}
	switch apiErr.Code {
	case model.ErrCodeDuplicateOrder:
		return "duplicate"
	case model.ErrCodeInvalidRequest:
		return "invalid"
	default:
		return "error"
	}
}
