package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/orderportal/internal/model"
	"github.com/lib/pq"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `account_id, email, display_name, phone_number, linked_providers, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var email, displayName, phone sql.NullString
	var providers pq.StringArray

	if err := row.Scan(&a.ID, &email, &displayName, &phone, &providers, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.Email = nullStringPtr(email)
	a.DisplayName = nullStringPtr(displayName)
	a.PhoneNumber = nullStringPtr(phone)
	a.LinkedProviders = []string(providers)
	if a.LinkedProviders == nil {
		a.LinkedProviders = []string{}
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDは存在しないものとして扱う。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, accountID string) (*model.Account, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, nil
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`,
		accountID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return a, nil
}

// FindBySubject はサブジェクトIDに紐付くアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindBySubject(ctx context.Context, subjectID string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT a.account_id, a.email, a.display_name, a.phone_number, a.linked_providers, a.created_at, a.updated_at
		 FROM accounts a
		 JOIN identities i ON i.account_id = a.account_id
		 WHERE i.subject_id = $1`,
		subjectID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by subject: %w", err)
	}
	return a, nil
}

// CreateWithIdentity はアカウントとidentityを同一トランザクションで作成する。
func (r *PostgresAccountRepo) CreateWithIdentity(ctx context.Context, account *model.Account, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	providers := account.LinkedProviders
	if providers == nil {
		providers = []string{}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.Email, account.DisplayName, account.PhoneNumber,
		pq.Array(providers), account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (subject_id, account_id, created_at) VALUES ($1, $2, $3)`,
		identity.SubjectID, identity.AccountID, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Merge はプロフィールの部分更新とプロバイダーの和集合追加を単一のUPDATE文で行う。
// nilのフィールドはCOALESCEにより既存の値を維持する。
// プロバイダーは重複を除いてソートした状態で保存する。
func (r *PostgresAccountRepo) Merge(
	ctx context.Context,
	accountID string,
	patch model.ProfilePatch,
	providers []string,
	at time.Time,
) (*model.Account, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, nil
	}
	if providers == nil {
		providers = []string{}
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE accounts SET
			email = COALESCE($2, email),
			display_name = COALESCE($3, display_name),
			phone_number = COALESCE($4, phone_number),
			linked_providers = ARRAY(
				SELECT DISTINCT p COLLATE "C" FROM unnest(linked_providers || $5::text[]) AS p ORDER BY 1
			),
			updated_at = $6
		 WHERE account_id = $1
		 RETURNING `+accountColumns,
		accountID, patch.Email, patch.DisplayName, patch.PhoneNumber, pq.Array(providers), at,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to merge account: %w", err)
	}
	return a, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
