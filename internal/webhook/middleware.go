package webhook

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/orderportal/internal/middleware"
	"github.com/hitoshi/orderportal/internal/model"
)

// MaxBodyBytes はWebhook本文の上限サイズ。
const MaxBodyBytes = 1 << 20

// Recorder はWebhookの受付結果を記録するインターフェース。
type Recorder interface {
	RecordWebhookResult(result string)
}

// NewSignatureMiddleware は署名を検証するミドルウェアを返す。
// 本文を読み取って検証した後、後続のハンドラーが再度読めるように差し戻す。
// 署名が無い・不正・期限切れ・再送の場合は401を返す。
func NewSignatureMiddleware(verifier *SignatureVerifier, guard ReplayGuard, recorder Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					recorder.RecordWebhookResult("too_large")
					middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
						model.NewInvalidRequestError("本文が大きすぎます"))
					return
				}
				recorder.RecordWebhookResult("invalid")
				middleware.WriteErrorResponse(w, http.StatusBadRequest,
					model.NewInvalidRequestError("本文を読み取れません"))
				return
			}

			signature := r.Header.Get(SignatureHeader)
			if err := verifier.Verify(r.Header.Get(TimestampHeader), signature, body); err != nil {
				reject(w, r, recorder, err)
				return
			}

			// 受理した署名は許容時間の2倍の間保持する
			fresh, err := guard.Claim(r.Context(), replayKey(signature), 2*verifier.Tolerance())
			if err != nil {
				slog.Error("failed to check webhook replay",
					slog.String("error", err.Error()),
				)
				recorder.RecordWebhookResult("error")
				middleware.WriteInternalServerError(w)
				return
			}
			if !fresh {
				reject(w, r, recorder, ErrReplayed)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, recorder Recorder, err error) {
	result := "invalid_signature"
	switch {
	case errors.Is(err, ErrReplayed):
		result = "replayed"
	case errors.Is(err, ErrStaleTimestamp):
		result = "stale"
	case errors.Is(err, ErrMissingSignature):
		result = "unsigned"
	}

	slog.Warn("webhook rejected",
		slog.String("reason", result),
		slog.String("remote_addr", r.RemoteAddr),
	)
	recorder.RecordWebhookResult(result)
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSignatureError())
}
