package model

import (
	"slices"
	"time"
)

// Account は統合IDで識別される内部アカウントを表す。
// 複数の外部ログイン手段をまたいで同一人物を表す単位。
type Account struct {
	ID              string
	Email           *string
	DisplayName     *string
	PhoneNumber     *string
	LinkedProviders []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Identity は外部IdPのサブジェクトとアカウントの紐付けを表す。
// サブジェクトIDはアカウントを引くためのセカンダリキーとなる。
type Identity struct {
	SubjectID string
	AccountID string
	CreatedAt time.Time
}

// ProfilePatch はプロフィール属性の部分更新を表す。
// nilのフィールドは変更せず、既存の値を維持する。
type ProfilePatch struct {
	Email       *string
	DisplayName *string
	PhoneNumber *string
}

// IsEmpty は更新対象のフィールドが1つも無い場合にtrueを返す。
func (p ProfilePatch) IsEmpty() bool {
	return p.Email == nil && p.DisplayName == nil && p.PhoneNumber == nil
}

// ApplyTo はパッチをアカウントに適用する。nilのフィールドは無視する。
func (p ProfilePatch) ApplyTo(a *Account) {
	if p.Email != nil {
		a.Email = cloneString(p.Email)
	}
	if p.DisplayName != nil {
		a.DisplayName = cloneString(p.DisplayName)
	}
	if p.PhoneNumber != nil {
		a.PhoneNumber = cloneString(p.PhoneNumber)
	}
}

// HasProvider は指定プロバイダーが紐付け済みかを返す。
func (a *Account) HasProvider(providerID string) bool {
	return slices.Contains(a.LinkedProviders, providerID)
}

// Clone はアカウントのディープコピーを返す。
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Email = cloneString(a.Email)
	c.DisplayName = cloneString(a.DisplayName)
	c.PhoneNumber = cloneString(a.PhoneNumber)
	c.LinkedProviders = slices.Clone(a.LinkedProviders)
	return &c
}

// MergeProviders は既存のプロバイダー集合に追加分を和集合として加え、
// 重複を除いたソート済みスライスを返す。
func MergeProviders(existing, added []string) []string {
	merged := make([]string, 0, len(existing)+len(added))
	merged = append(merged, existing...)
	merged = append(merged, added...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
