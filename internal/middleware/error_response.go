package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/salus/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ClassifyError は認証フローのエラーをHTTPステータスと利用者向けのAPIErrorに変換する。
//
//	ErrInvalidToken        → 401 UNAUTHORIZED
//	ErrUserNotFound        → 400 USER_NOT_FOUND
//	ErrProviderRejected    → 400 PROVIDER_REJECTED
//	ErrProviderUnavailable → 502 PROVIDER_UNAVAILABLE
//	それ以外               → 500 INTERNAL_ERROR
func ClassifyError(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, model.ErrInvalidToken):
		return http.StatusUnauthorized, model.NewUnauthorizedError()
	case errors.Is(err, model.ErrUserNotFound):
		return http.StatusBadRequest, model.NewUserNotFoundError()
	case errors.Is(err, model.ErrProviderRejected):
		return http.StatusBadRequest, model.NewProviderRejectedError()
	case errors.Is(err, model.ErrProviderUnavailable):
		return http.StatusBadGateway, model.NewProviderUnavailableError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// WriteError はerrをClassifyErrorで分類して書き込み、使ったステータスを返す。
// 内部エラーの詳細はレスポンスに含めない。
func WriteError(w http.ResponseWriter, err error) int {
	status, apiErr := ClassifyError(err)
	WriteErrorResponse(w, status, apiErr)
	return status
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
