package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/orderportal/internal/model"
)

// PostgresOrderRepo はPostgreSQLを使用した注文リポジトリ。
// ファイル一覧はJSONBカラムに順序を保ったまま格納する。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

const orderColumns = `order_id, owner_account_id, description, status, files, created_at, completed_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	o := &model.Order{}
	var description sql.NullString
	var completedAt sql.NullTime
	var status string
	var filesJSON []byte

	if err := row.Scan(&o.ID, &o.OwnerAccountID, &description, &status, &filesJSON, &o.CreatedAt, &completedAt); err != nil {
		return nil, err
	}

	o.Description = nullStringPtr(description)
	o.Status = model.OrderStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	if err := json.Unmarshal(filesJSON, &o.Files); err != nil {
		return nil, fmt.Errorf("failed to decode order files: %w", err)
	}
	if o.Files == nil {
		o.Files = []model.OrderFile{}
	}
	return o, nil
}

// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`,
		orderID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by ID: %w", err)
	}
	return o, nil
}

// ListByOwner は所有者の注文を作成日時の降順で返す。
func (r *PostgresOrderRepo) ListByOwner(ctx context.Context, accountID string) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE owner_account_id = $1
		 ORDER BY created_at DESC, order_id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by owner: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

// Create は注文を作成する。注文IDが重複する場合はErrConflictを返す。
func (r *PostgresOrderRepo) Create(ctx context.Context, order *model.Order) error {
	files := order.Files
	if files == nil {
		files = []model.OrderFile{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode order files: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.OwnerAccountID, order.Description, string(order.Status),
		filesJSON, order.CreatedAt, order.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
