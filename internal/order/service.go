// Package order は注文の登録と参照、ファイルのダウンロードリンク発行を提供する。
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/orderportal/internal/access"
	"github.com/hitoshi/orderportal/internal/blob"
	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/repository"
	"github.com/hitoshi/orderportal/internal/security"
)

const (
	// DefaultRecentLimit は最近の注文一覧の既定件数。
	DefaultRecentLimit = 5
	// MaxRecentLimit は最近の注文一覧で指定できる最大件数。
	MaxRecentLimit = 50
)

// Recorder は注文関連のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordOrderIngested(status string)
	RecordAccessDecision(resource string, allowed bool)
}

// IngestRequest はWebhookで受け取る注文登録の内容。
type IngestRequest struct {
	OrderID       string
	UnifiedUserID string
	Description   *string
	Status        string
	Files         []model.OrderFile
}

// FileLink はファイルの署名付きダウンロードURL。
type FileLink struct {
	Path      string
	Name      string
	URL       string
	ExpiresAt time.Time
}

// Service は注文のビジネスロジックを提供する。
type Service struct {
	orders    repository.OrderRepository
	activity  repository.ActivityRepository
	gate      *access.Gate
	blobs     blob.Store // nilの場合はファイルストレージ未設定
	sanitizer *security.TextSanitizer
	recorder  Recorder
	urlTTL    time.Duration
	now       func() time.Time
}

// NewService はServiceを生成する。blobsがnilの場合、ダウンロードリンクの発行はSTORAGE_UNAVAILABLEとなる。
func NewService(
	orders repository.OrderRepository,
	activity repository.ActivityRepository,
	gate *access.Gate,
	blobs blob.Store,
	recorder Recorder,
	urlTTL time.Duration,
) *Service {
	return &Service{
		orders:    orders,
		activity:  activity,
		gate:      gate,
		blobs:     blobs,
		sanitizer: security.NewTextSanitizer(),
		recorder:  recorder,
		urlTTL:    urlTTL,
		now:       time.Now,
	}
}

// Ingest はPOSシステムから受け取った注文を登録する。
// statusが空の場合はcompletedとして扱い、completedの場合のみ完了日時を設定する。
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*model.Order, error) {
	if !validKey(req.OrderID, maxOrderIDLen) {
		return nil, model.NewInvalidRequestError("orderId が不正です")
	}
	if !validKey(req.UnifiedUserID, maxAccountIDLen) {
		return nil, model.NewInvalidRequestError("unifiedUserId が不正です")
	}

	status := model.OrderStatusCompleted
	if req.Status != "" {
		status = model.OrderStatus(req.Status)
		if !status.IsValid() {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("status が不正です: %q", req.Status))
		}
	}

	if reason, ok := validateFiles(req.Files); !ok {
		return nil, model.NewInvalidRequestError(reason)
	}

	var description *string
	if req.Description != nil {
		if utf8.RuneCountInString(*req.Description) > maxDescriptionLen {
			return nil, model.NewInvalidRequestError("description が長すぎます")
		}
		d := s.sanitizer.Sanitize(*req.Description)
		description = &d
	}

	files := make([]model.OrderFile, 0, len(req.Files))
	for _, f := range req.Files {
		name := s.sanitizer.Sanitize(f.Name)
		if name == "" {
			name = path.Base(f.Path)
		}
		files = append(files, model.OrderFile{
			Path: f.Path,
			Name: name,
			Size: f.Size,
			Type: f.Type,
		})
	}

	now := s.now()
	o := &model.Order{
		ID:             req.OrderID,
		OwnerAccountID: req.UnifiedUserID,
		Description:    description,
		Status:         status,
		Files:          files,
		CreatedAt:      now,
	}
	if status == model.OrderStatusCompleted {
		o.CompletedAt = &now
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, model.NewDuplicateOrderError(req.OrderID)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	slog.Info("order ingested",
		slog.String("order_id", o.ID),
		slog.String("account_id", o.OwnerAccountID),
		slog.String("status", string(o.Status)),
		slog.Int("files", len(o.Files)),
	)
	s.recorder.RecordOrderIngested(string(o.Status))

	details := map[string]any{"orderId": o.ID}
	if o.Description != nil {
		details["description"] = *o.Description
	}
	if err := s.activity.Append(ctx, &model.ActivityLog{
		AccountID: o.OwnerAccountID,
		Action:    model.ActivityOrderCreated,
		Details:   details,
		CreatedAt: now,
	}); err != nil {
		slog.Warn("failed to append activity log",
			slog.String("account_id", o.OwnerAccountID),
			slog.String("action", string(model.ActivityOrderCreated)),
			slog.String("error", err.Error()),
		)
	}

	return o, nil
}

// Stats はアカウントの注文件数を集計する。
func (s *Service) Stats(ctx context.Context, accountID string) (*model.OrderStats, error) {
	orders, err := s.orders.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	stats := &model.OrderStats{Total: len(orders)}
	for _, o := range orders {
		switch o.Status {
		case model.OrderStatusPending:
			stats.Pending++
		case model.OrderStatusCompleted:
			stats.Completed++
		}
	}
	return stats, nil
}

// Recent は作成日時の新しい順に最大limit件の注文を返す。
func (s *Service) Recent(ctx context.Context, accountID string, limit int) ([]*model.Order, error) {
	if limit < 1 || limit > MaxRecentLimit {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("limit は1から%dの範囲で指定してください", MaxRecentLimit))
	}

	orders, err := s.orders.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Completed は完了済みの注文を作成日時の新しい順に返す。
func (s *Service) Completed(ctx context.Context, accountID string) ([]*model.Order, error) {
	orders, err := s.orders.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	completed := make([]*model.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == model.OrderStatusCompleted {
			completed = append(completed, o)
		}
	}
	return completed, nil
}

// Files は所有する注文のファイル一覧を返す。
// 注文が存在しない場合と所有者でない場合はどちらもORDER_NOT_FOUNDを返す。
func (s *Service) Files(ctx context.Context, accountID, orderID string) ([]model.OrderFile, error) {
	o, err := s.authorizeOrder(ctx, accountID, orderID)
	if err != nil {
		return nil, err
	}
	return o.Files, nil
}

// FileLink は所有するファイルの署名付きダウンロードURLを発行する。
// アクセス権が無い場合と存在しない場合はどちらもFILE_NOT_FOUNDを返す。
func (s *Service) FileLink(ctx context.Context, accountID, filePath string) (*FileLink, error) {
	file, err := s.gate.OwnedFile(ctx, accountID, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize file access: %w", err)
	}
	s.recorder.RecordAccessDecision("file", file != nil)
	if file == nil {
		return nil, model.NewFileNotFoundError()
	}

	if s.blobs == nil {
		return nil, model.NewStorageUnavailableError()
	}

	exists, err := s.blobs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check object: %w", err)
	}
	if !exists {
		slog.Warn("listed file missing from storage",
			slog.String("account_id", accountID),
			slog.String("path", filePath),
		)
		return nil, model.NewFileNotFoundError()
	}

	url, expiresAt, err := s.blobs.SignedURL(ctx, filePath, s.urlTTL)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, model.NewFileNotFoundError()
		}
		return nil, fmt.Errorf("failed to sign download url: %w", err)
	}

	name := file.Name
	if name == "" {
		name = path.Base(file.Path)
	}
	return &FileLink{
		Path:      file.Path,
		Name:      name,
		URL:       url,
		ExpiresAt: expiresAt,
	}, nil
}

// DownloadAll は注文の全ファイルの一括ダウンロードを行う。
// 所有権の確認のみ行い、アーカイブ生成は提供しない。
func (s *Service) DownloadAll(ctx context.Context, accountID, orderID string) error {
	if _, err := s.authorizeOrder(ctx, accountID, orderID); err != nil {
		return err
	}
	return model.NewNotImplementedError("一括ダウンロード")
}

func (s *Service) authorizeOrder(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	o, err := s.gate.AuthorizeOrderAccess(ctx, accountID, orderID)
	if errors.Is(err, access.ErrDenied) {
		s.recorder.RecordAccessDecision("order", false)
		return nil, model.NewOrderNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authorize order access: %w", err)
	}
	s.recorder.RecordAccessDecision("order", true)
	return o, nil
}
