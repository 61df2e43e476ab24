// Package access は注文とファイルに対するアクセス制御を提供する。
//
// 所有関係（アカウント → 注文 → ファイル）のみで判定し、
// 結果をキャッシュせずリクエストごとにストアを参照する。
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/repository"
)

// ErrDenied は注文が存在しない、または所有者でない場合に返される。
// 両者を区別しないことで注文の存在を漏らさない。
var ErrDenied = errors.New("access: denied")

// Gate はアクセス可否を判定する。副作用を持たない。
type Gate struct {
	orders repository.OrderRepository
}

// NewGate はGateを生成する。
func NewGate(orders repository.OrderRepository) *Gate {
	return &Gate{orders: orders}
}

// AuthorizeFileAccess はアカウントが所有する注文のいずれかがpathを含む場合にtrueを返す。
// 未知のアカウントやパスはfalseとなり、エラーはストアの障害時のみ返す。
func (g *Gate) AuthorizeFileAccess(ctx context.Context, accountID, path string) (bool, error) {
	file, err := g.OwnedFile(ctx, accountID, path)
	if err != nil {
		return false, err
	}
	return file != nil, nil
}

// OwnedFile はアカウントが所有する注文に含まれるファイル記述子を返す。
// 判定はAuthorizeFileAccessと同じで、アクセスできない場合はnilを返す。
func (g *Gate) OwnedFile(ctx context.Context, accountID, path string) (*model.OrderFile, error) {
	if accountID == "" || path == "" {
		return nil, nil
	}

	orders, err := g.orders.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for access check: %w", err)
	}
	for _, o := range orders {
		if f, ok := o.File(path); ok {
			return &f, nil
		}
	}
	return nil, nil
}

// AuthorizeOrderAccess はアカウントが所有する注文を返す。
// 注文が存在しない場合と所有者でない場合はどちらもErrDeniedを返す。
func (g *Gate) AuthorizeOrderAccess(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	if accountID == "" || orderID == "" {
		return nil, ErrDenied
	}

	order, err := g.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find order for access check: %w", err)
	}
	if order == nil || order.OwnerAccountID != accountID {
		return nil, ErrDenied
	}
	return order, nil
}
