package order

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/orderportal/internal/model"
)

const (
	maxOrderIDLen     = 128
	maxAccountIDLen   = 128
	maxDescriptionLen = 2000
	maxFiles          = 100
	maxFilePathLen    = 1024
	maxFileNameLen    = 255
	maxFileTypeLen    = 127
)

// validKey は注文IDやアカウントIDとして使える文字列かを返す。
// 空白文字と制御文字を含むものは受け付けない。
func validKey(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen || !utf8.ValidString(s) {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

// validFilePath はファイルパスとして使える文字列かを返す。
// パスはアクセス制御のキーとオブジェクトキーを兼ねるため、
// 制御文字と".."セグメント、先頭のスラッシュを拒否する。
func validFilePath(p string) bool {
	if p == "" || len(p) > maxFilePathLen || !utf8.ValidString(p) {
		return false
	}
	if strings.HasPrefix(p, "/") {
		return false
	}
	if strings.IndexFunc(p, unicode.IsControl) >= 0 {
		return false
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// validateFiles は不正なファイル記述子があればその理由を返す。
func validateFiles(files []model.OrderFile) (string, bool) {
	if len(files) > maxFiles {
		return "files の件数が多すぎます", false
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if !validFilePath(f.Path) {
			return "files.path が不正です", false
		}
		if _, dup := seen[f.Path]; dup {
			return "files.path が重複しています", false
		}
		seen[f.Path] = struct{}{}
		if f.Size < 0 {
			return "files.size が不正です", false
		}
		if utf8.RuneCountInString(f.Name) > maxFileNameLen || len(f.Type) > maxFileTypeLen {
			return "files.name または files.type が長すぎます", false
		}
	}
	return "", true
}
