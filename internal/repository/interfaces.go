// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/orderportal/internal/model"
)

// ErrConflict は一意制約に違反した場合に返される。
var ErrConflict = errors.New("repository: unique constraint violated")

// AccountRepository はアカウントとidentityの永続化インターフェース。
// 主キー（account_id）とサブジェクトIDの2つのインデックスで参照できる。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, accountID string) (*model.Account, error)

	// FindBySubject はサブジェクトIDに紐付くアカウントを取得する。見つからない場合はnilを返す。
	FindBySubject(ctx context.Context, subjectID string) (*model.Account, error)

	// CreateWithIdentity はアカウントとidentityを同一トランザクションで作成する。
	// サブジェクトIDが既に登録済みの場合はErrConflictを返す。
	CreateWithIdentity(ctx context.Context, account *model.Account, identity *model.Identity) error

	// Merge はプロフィールの部分更新とプロバイダーの和集合追加を1回の操作で原子的に行う。
	// nilのフィールドは変更しない。アカウントが存在しない場合はnilを返す。
	Merge(ctx context.Context, accountID string, patch model.ProfilePatch, providers []string, at time.Time) (*model.Account, error)
}

// OrderRepository は注文データの永続化インターフェース。
type OrderRepository interface {
	// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, orderID string) (*model.Order, error)

	// ListByOwner は所有者の注文を作成日時の降順で返す。
	// owner_account_idのセカンダリインデックスを使用する。
	ListByOwner(ctx context.Context, accountID string) ([]*model.Order, error)

	// Create は注文を作成する。注文IDが重複する場合はErrConflictを返す。
	Create(ctx context.Context, order *model.Order) error
}

// ActivityRepository はアクティビティログの追記専用インターフェース。
type ActivityRepository interface {
	// Append はアクティビティログを1件追記する。
	Append(ctx context.Context, entry *model.ActivityLog) error
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	PingContext(ctx context.Context) error
}
