// Package identity は外部IdPのサブジェクトと内部アカウントの統合を提供する。
//
// 1つのログインサブジェクトにつき1つのアカウントを対応付け、
// プロフィール属性の部分マージとログインプロバイダーの紐付けを行う。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/repository"
)

// Recorder はアカウント統合のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordReconcile(created bool)
	RecordProviderLinked(count int)
}

// Service はアカウント統合のビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	activity repository.ActivityRepository
	recorder Recorder
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	activity repository.ActivityRepository,
	recorder Recorder,
) *Service {
	return &Service{
		accounts: accounts,
		activity: activity,
		recorder: recorder,
		now:      time.Now,
	}
}

// Reconcile は検証済みサブジェクトに対応するアカウントを作成または更新する。
//
// 既存サブジェクトの場合はattrsのnilでない項目を上書きし、providersを和集合で追加する。
// 新規サブジェクトの場合はアカウントIDを採番し、アカウントとidentityを同時に作成する。
// 同じサブジェクトの作成が競合した場合は、先に作成されたアカウントへのマージとして扱う。
func (s *Service) Reconcile(
	ctx context.Context,
	subjectID string,
	attrs model.ProfilePatch,
	providers []string,
) (*model.Account, error) {
	if !validSubject(subjectID) {
		return nil, model.NewInvalidAssertionError("サブジェクトが不正です")
	}
	for _, p := range providers {
		if !validProvider(p) {
			return nil, model.NewInvalidAssertionError(fmt.Sprintf("プロバイダーが不正です: %q", p))
		}
	}
	if field, ok := validateProfile(attrs); !ok {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("%s が長すぎるか不正な文字を含みます", field))
	}

	existing, err := s.accounts.FindBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by subject: %w", err)
	}
	if existing != nil {
		return s.mergeLogin(ctx, existing.ID, attrs, providers)
	}

	now := s.now()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate account ID: %w", err)
	}

	account := &model.Account{
		ID:              id.String(),
		LinkedProviders: model.MergeProviders(nil, providers),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	attrs.ApplyTo(account)

	err = s.accounts.CreateWithIdentity(ctx, account, &model.Identity{
		SubjectID: subjectID,
		AccountID: account.ID,
		CreatedAt: now,
	})
	if errors.Is(err, repository.ErrConflict) {
		// 並行リクエストが先にアカウントを作成した
		winner, findErr := s.accounts.FindBySubject(ctx, subjectID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find account after conflict: %w", findErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("account for subject vanished after conflict: %w", err)
		}
		return s.mergeLogin(ctx, winner.ID, attrs, providers)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created",
		slog.String("account_id", account.ID),
		slog.Any("providers", account.LinkedProviders),
	)
	s.recorder.RecordReconcile(true)
	s.appendActivity(ctx, account.ID, model.ActivityAccountCreated, singleProvider(providers), map[string]any{
		"providers": account.LinkedProviders,
	})

	return account, nil
}

func (s *Service) mergeLogin(
	ctx context.Context,
	accountID string,
	attrs model.ProfilePatch,
	providers []string,
) (*model.Account, error) {
	merged, err := s.accounts.Merge(ctx, accountID, attrs, providers, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to merge account: %w", err)
	}
	if merged == nil {
		return nil, fmt.Errorf("account %s disappeared during merge", accountID)
	}

	slog.Info("account logged in",
		slog.String("account_id", merged.ID),
		slog.Any("providers", merged.LinkedProviders),
	)
	s.recorder.RecordReconcile(false)
	s.appendActivity(ctx, merged.ID, model.ActivityLogin, singleProvider(providers), nil)

	return merged, nil
}

// LinkProvider はアカウントにログインプロバイダーを1つ紐付ける。
// 紐付け済みの場合は何もせずに現在のアカウントを返す。
func (s *Service) LinkProvider(ctx context.Context, accountID, providerID string) (*model.Account, error) {
	return s.LinkProviders(ctx, accountID, []string{providerID})
}

// LinkProviders はアカウントに複数のログインプロバイダーを紐付ける。
// 追加されたプロバイダーごとにprovider_linkedのアクティビティを記録する。
func (s *Service) LinkProviders(ctx context.Context, accountID string, providerIDs []string) (*model.Account, error) {
	for _, p := range providerIDs {
		if !validProvider(p) {
			return nil, model.NewInvalidProviderError(p)
		}
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError()
	}

	var added []string
	for _, p := range model.MergeProviders(nil, providerIDs) {
		if !account.HasProvider(p) {
			added = append(added, p)
		}
	}
	if len(added) == 0 {
		return account, nil
	}

	merged, err := s.accounts.Merge(ctx, accountID, model.ProfilePatch{}, added, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to link providers: %w", err)
	}
	if merged == nil {
		return nil, model.NewAccountNotFoundError()
	}

	slog.Info("providers linked",
		slog.String("account_id", accountID),
		slog.Any("added", added),
	)
	s.recorder.RecordProviderLinked(len(added))
	for _, p := range added {
		s.appendActivity(ctx, accountID, model.ActivityProviderLinked, &p, nil)
	}

	return merged, nil
}

// UpdateProfile はプロフィール属性を部分更新する。
// 更新項目が無い場合は書き込みを行わずに現在のアカウントを返す。
func (s *Service) UpdateProfile(ctx context.Context, accountID string, patch model.ProfilePatch) (*model.Account, error) {
	if field, ok := validateProfile(patch); !ok {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("%s が長すぎるか不正な文字を含みます", field))
	}

	if patch.IsEmpty() {
		account, err := s.accounts.FindByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to find account: %w", err)
		}
		if account == nil {
			return nil, model.NewAccountNotFoundError()
		}
		return account, nil
	}

	merged, err := s.accounts.Merge(ctx, accountID, patch, nil, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if merged == nil {
		return nil, model.NewAccountNotFoundError()
	}

	s.appendActivity(ctx, accountID, model.ActivityProfileUpdated, nil, map[string]any{
		"fields": patchedFields(patch),
	})

	return merged, nil
}

// AccountBySubject はサブジェクトに対応するアカウントを返す。
func (s *Service) AccountBySubject(ctx context.Context, subjectID string) (*model.Account, error) {
	if !validSubject(subjectID) {
		return nil, model.NewInvalidAssertionError("サブジェクトが不正です")
	}

	account, err := s.accounts.FindBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by subject: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError()
	}
	return account, nil
}

// appendActivity はアクティビティログを記録する。
// 記録の失敗は本処理を失敗させず、ログに残すのみとする。
func (s *Service) appendActivity(
	ctx context.Context,
	accountID string,
	action model.ActivityAction,
	provider *string,
	details map[string]any,
) {
	err := s.activity.Append(ctx, &model.ActivityLog{
		AccountID: accountID,
		Action:    action,
		Provider:  provider,
		Details:   details,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Warn("failed to append activity log",
			slog.String("account_id", accountID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

// singleProvider はプロバイダーが1つだけの場合にそのIDを返す。
func singleProvider(providers []string) *string {
	if len(providers) != 1 {
		return nil
	}
	p := providers[0]
	return &p
}

func patchedFields(p model.ProfilePatch) []string {
	var fields []string
	if p.Email != nil {
		fields = append(fields, "email")
	}
	if p.DisplayName != nil {
		fields = append(fields, "displayName")
	}
	if p.PhoneNumber != nil {
		fields = append(fields, "phoneNumber")
	}
	return fields
}
