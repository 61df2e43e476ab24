package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/order"
)

// mockOrderIngester はOrderIngesterInterfaceのモック実装。
type mockOrderIngester struct {
	ingestFn func(ctx context.Context, req order.IngestRequest) (*model.Order, error)
}

func (m *mockOrderIngester) Ingest(ctx context.Context, req order.IngestRequest) (*model.Order, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, req)
	}
	return nil, errors.New("not configured")
}

// webhookRecorderStub は記録されたWebhook結果を保持する。
type webhookRecorderStub struct {
	mu      sync.Mutex
	results []string
}

func (s *webhookRecorderStub) RecordWebhookResult(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *webhookRecorderStub) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

const testWebhookPayload = `{
	"orderId": "order-1",
	"unifiedUserId": "acc-123",
	"description": "写真プリント",
	"files": [{"path": "orders/order-1/photo.jpg", "name": "photo.jpg", "size": 2048, "type": "image/jpeg"}]
}`

func TestWebhookHandler_IngestOrder_Created(t *testing.T) {
	var got order.IngestRequest
	ingester := &mockOrderIngester{
		ingestFn: func(ctx context.Context, req order.IngestRequest) (*model.Order, error) {
			got = req
			return &model.Order{
				ID:             req.OrderID,
				OwnerAccountID: req.UnifiedUserID,
				Description:    req.Description,
				Status:         model.OrderStatusCompleted,
				Files:          req.Files,
				CreatedAt:      testTime,
				CompletedAt:    &testTime,
			}, nil
		},
	}
	rec := &webhookRecorderStub{}
	h := NewWebhookHandler(ingester, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/order", strings.NewReader(testWebhookPayload))
	w := httptest.NewRecorder()
	h.IngestOrder(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if got.OrderID != "order-1" || got.UnifiedUserID != "acc-123" {
		t.Errorf("ingest request = %+v", got)
	}
	if got.Status != "" {
		t.Errorf("status = %q, want empty so the service applies its default", got.Status)
	}
	if len(got.Files) != 1 || got.Files[0].Size != 2048 || got.Files[0].Type != "image/jpeg" {
		t.Errorf("files = %+v", got.Files)
	}

	var resp orderEnvelope
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.OrderID != "order-1" || resp.Order.Status != "completed" {
		t.Errorf("order = %+v", resp.Order)
	}
	if !slices.Equal(rec.snapshot(), []string{"accepted"}) {
		t.Errorf("results = %v, want [accepted]", rec.snapshot())
	}
}

func TestWebhookHandler_IngestOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantResult string
	}{
		{
			name:       "JSONでない本文",
			body:       "not-json",
			wantStatus: http.StatusBadRequest,
			wantResult: "invalid",
		},
		{
			name:       "検証エラー",
			body:       testWebhookPayload,
			err:        model.NewInvalidRequestError("orderIdは必須です"),
			wantStatus: http.StatusBadRequest,
			wantResult: "invalid",
		},
		{
			name:       "重複した注文",
			body:       testWebhookPayload,
			err:        model.NewDuplicateOrderError("order-1"),
			wantStatus: http.StatusConflict,
			wantResult: "duplicate",
		},
		{
			name:       "ストレージ障害",
			body:       testWebhookPayload,
			err:        errors.New("failed to create order: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantResult: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &mockOrderIngester{
				ingestFn: func(ctx context.Context, req order.IngestRequest) (*model.Order, error) {
					return nil, tt.err
				},
			}
			rec := &webhookRecorderStub{}
			h := NewWebhookHandler(ingester, rec)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/order", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.IngestOrder(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !slices.Equal(rec.snapshot(), []string{tt.wantResult}) {
				t.Errorf("results = %v, want [%s]", rec.snapshot(), tt.wantResult)
			}
		})
	}
}
