package identity

import (
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/orderportal/internal/model"
)

const (
	maxSubjectLen     = 128
	maxProviderLen    = 64
	maxEmailLen       = 320
	maxDisplayNameLen = 255
	maxPhoneLen       = 32
)

// validSubject はサブジェクトIDが空でなく、上限以下の長さで、
// 空白文字・制御文字を含まないかを返す。
func validSubject(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > maxSubjectLen || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// validProvider はプロバイダーIDが英数字と「.」「-」「_」のみからなるかを返す。
// 例: google.com, apple.com, password, oidc.line
func validProvider(p string) bool {
	if p == "" || len(p) > maxProviderLen {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// validateProfile はプロフィール属性の長さを検証し、不正な項目名を返す。
func validateProfile(p model.ProfilePatch) (string, bool) {
	checks := []struct {
		field string
		value *string
		max   int
	}{
		{"email", p.Email, maxEmailLen},
		{"displayName", p.DisplayName, maxDisplayNameLen},
		{"phoneNumber", p.PhoneNumber, maxPhoneLen},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		if utf8.RuneCountInString(*c.value) > c.max || !utf8.ValidString(*c.value) {
			return c.field, false
		}
		for _, r := range *c.value {
			if unicode.IsControl(r) {
				return c.field, false
			}
		}
	}
	return "", true
}
