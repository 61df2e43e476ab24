package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/orderportal/internal/auth"
	"github.com/hitoshi/orderportal/internal/middleware"
	"github.com/hitoshi/orderportal/internal/model"
)

// AccountLookup はサブジェクトからアカウントを引くインターフェース。
type AccountLookup interface {
	AccountBySubject(ctx context.Context, subjectID string) (*model.Account, error)
}

// currentSubject はリクエストの検証済みサブジェクトを返す。
// 取得できない場合はエラーレスポンスを書き込んでfalseを返す。
func currentSubject(w http.ResponseWriter, r *http.Request) (string, *auth.VerifiedClaims, bool) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return "", nil, false
	}
	subject, err := auth.ExtractSubject(claims)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSubject) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidAssertionError("サブジェクトがありません"))
			return "", nil, false
		}
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return "", nil, false
	}
	return subject, claims, true
}

// currentAccount はリクエストの検証済みサブジェクトに対応するアカウントを返す。
// 取得できない場合はエラーレスポンスを書き込んでfalseを返す。
func currentAccount(w http.ResponseWriter, r *http.Request, lookup AccountLookup) (*model.Account, bool) {
	subject, _, ok := currentSubject(w, r)
	if !ok {
		return nil, false
	}
	account, err := lookup.AccountBySubject(r.Context(), subject)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return account, true
}
