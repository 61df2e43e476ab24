package model

import (
	"slices"
	"time"
)

// OrderStatus は注文のステータスを表す。
type OrderStatus string

const (
	// OrderStatusPending は処理中の注文。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted は完了済みの注文。ファイルのダウンロードが可能。
	OrderStatusCompleted OrderStatus = "completed"
)

// IsValid はステータスが定義済みの値かを返す。
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// Order はPOSシステムからWebhookで登録される注文を表す。
// 作成後は変更されない。
type Order struct {
	ID             string
	OwnerAccountID string
	Description    *string
	Status         OrderStatus
	Files          []OrderFile
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// OrderFile は注文に含まれるファイルの記述子。
// Pathがアクセス制御の唯一のキーで、Name/Size/Typeは表示用のメタデータ。
type OrderFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

// HasFile は注文が指定パスのファイルを含むかを返す。
func (o *Order) HasFile(path string) bool {
	_, ok := o.File(path)
	return ok
}

// File はパスが完全一致するファイル記述子を返す。
func (o *Order) File(path string) (OrderFile, bool) {
	i := slices.IndexFunc(o.Files, func(f OrderFile) bool {
		return f.Path == path
	})
	if i < 0 {
		return OrderFile{}, false
	}
	return o.Files[i], true
}

// Clone は注文のディープコピーを返す。
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Files = slices.Clone(o.Files)
	if o.Description != nil {
		d := *o.Description
		c.Description = &d
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// OrderStats はアカウントごとの注文件数の集計。
type OrderStats struct {
	Total     int
	Pending   int
	Completed int
}
