package model

import "time"

// ActivityAction はアクティビティログの操作種別。
type ActivityAction string

const (
	ActivityAccountCreated ActivityAction = "account_created"
	ActivityLogin          ActivityAction = "login"
	ActivityProfileUpdated ActivityAction = "profile_updated"
	ActivityProviderLinked ActivityAction = "provider_linked"
	ActivityOrderCreated   ActivityAction = "order_created"
)

// ActivityLog は監査用の追記専用レコード。
// 書き込み後に更新・削除されることはない。
type ActivityLog struct {
	ID        string
	AccountID string
	Action    ActivityAction
	Provider  *string
	Details   map[string]any
	CreatedAt time.Time
}
