// Package blob は注文ファイルを保持するオブジェクトストレージへのアクセスを提供する。
//
// ファイルはパスをキーとする不透明なバイト列として扱い、
// 本体はブラウザが署名付きURLで直接取得する。
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound は指定パスのオブジェクトが存在しない場合に返される。
var ErrNotFound = errors.New("blob: object not found")

// Store はオブジェクトストレージのインターフェース。
type Store interface {
	// Exists は指定パスのオブジェクトが存在するかを返す。
	Exists(ctx context.Context, path string) (bool, error)

	// SignedURL は指定パスを期限付きで取得できるURLと、その有効期限を返す。
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error)
}
