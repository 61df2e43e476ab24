package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/orderportal/internal/model"
)

// MemoryStore はプロセス内メモリで全集約を保持するストア。
// 開発環境とテストで使用する。全操作は1つのミューテックスで直列化され、
// 呼び出し元には常にコピーを返す。
type MemoryStore struct {
	mu sync.RWMutex

	accounts      map[string]*model.Account // account_id -> account
	bySubject     map[string]string         // subject_id -> account_id
	orders        map[string]*model.Order   // order_id -> order
	ordersByOwner map[string][]string       // owner_account_id -> order_id
	activity      []*model.ActivityLog
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]*model.Account),
		bySubject:     make(map[string]string),
		orders:        make(map[string]*model.Order),
		ordersByOwner: make(map[string][]string),
	}
}

// Accounts はAccountRepositoryとしてのビューを返す。
func (s *MemoryStore) Accounts() *MemoryAccountRepo { return &MemoryAccountRepo{s: s} }

// Orders はOrderRepositoryとしてのビューを返す。
func (s *MemoryStore) Orders() *MemoryOrderRepo { return &MemoryOrderRepo{s: s} }

// Activity はActivityRepositoryとしてのビューを返す。
func (s *MemoryStore) Activity() *MemoryActivityRepo { return &MemoryActivityRepo{s: s} }

// PingContext は常に成功する。
func (s *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// ActivityLog は記録済みのアクティビティログのコピーを返す。
func (s *MemoryStore) ActivityLog() []model.ActivityLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ActivityLog, 0, len(s.activity))
	for _, e := range s.activity {
		out = append(out, *e)
	}
	return out
}

// MemoryAccountRepo はMemoryStore上のアカウントリポジトリ。
type MemoryAccountRepo struct {
	s *MemoryStore
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, accountID string) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.accounts[accountID].Clone(), nil
}

// FindBySubject はサブジェクトIDに紐付くアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindBySubject(_ context.Context, subjectID string) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	accountID, ok := r.s.bySubject[subjectID]
	if !ok {
		return nil, nil
	}
	return r.s.accounts[accountID].Clone(), nil
}

// CreateWithIdentity はアカウントとidentityを同時に登録する。
func (r *MemoryAccountRepo) CreateWithIdentity(_ context.Context, account *model.Account, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.bySubject[identity.SubjectID]; ok {
		return ErrConflict
	}
	if _, ok := r.s.accounts[account.ID]; ok {
		return ErrConflict
	}

	stored := account.Clone()
	stored.LinkedProviders = model.MergeProviders(nil, stored.LinkedProviders)
	r.s.accounts[account.ID] = stored
	r.s.bySubject[identity.SubjectID] = account.ID
	return nil
}

// Merge はプロフィールの部分更新とプロバイダーの和集合追加を行う。
func (r *MemoryAccountRepo) Merge(
	_ context.Context,
	accountID string,
	patch model.ProfilePatch,
	providers []string,
	at time.Time,
) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok {
		return nil, nil
	}

	patch.ApplyTo(a)
	a.LinkedProviders = model.MergeProviders(a.LinkedProviders, providers)
	a.UpdatedAt = at
	return a.Clone(), nil
}

// MemoryOrderRepo はMemoryStore上の注文リポジトリ。
type MemoryOrderRepo struct {
	s *MemoryStore
}

// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
func (r *MemoryOrderRepo) FindByID(_ context.Context, orderID string) (*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.orders[orderID].Clone(), nil
}

// ListByOwner は所有者の注文を作成日時の降順で返す。
func (r *MemoryOrderRepo) ListByOwner(_ context.Context, accountID string) ([]*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.ordersByOwner[accountID]
	orders := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, r.s.orders[id].Clone())
	}

	slices.SortStableFunc(orders, func(a, b *model.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return orders, nil
}

// Create は注文を登録し、所有者インデックスを更新する。
func (r *MemoryOrderRepo) Create(_ context.Context, order *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[order.ID]; ok {
		return ErrConflict
	}

	r.s.orders[order.ID] = order.Clone()
	r.s.ordersByOwner[order.OwnerAccountID] = append(r.s.ordersByOwner[order.OwnerAccountID], order.ID)
	return nil
}

// MemoryActivityRepo はMemoryStore上のアクティビティログリポジトリ。
type MemoryActivityRepo struct {
	s *MemoryStore
}

// Append はアクティビティログを1件追記する。IDが空の場合は採番する。
func (r *MemoryActivityRepo) Append(_ context.Context, entry *model.ActivityLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	e := *entry
	r.s.activity = append(r.s.activity, &e)
	return nil
}

// compile-time interface check
var (
	_ AccountRepository  = (*MemoryAccountRepo)(nil)
	_ OrderRepository    = (*MemoryOrderRepo)(nil)
	_ ActivityRepository = (*MemoryActivityRepo)(nil)
	_ Pinger             = (*MemoryStore)(nil)
)
