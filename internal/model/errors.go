// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・セッション処理のエラー分類。
// ドメイン層はこれらを%wでラップして返し、ハンドラー層はerrors.Isで判定する。
var (
	// ErrKeyIO は署名鍵の保存領域が存在するが読み取れない・壊れている場合のエラー。
	ErrKeyIO = errors.New("signing key storage unreadable or corrupt")
	// ErrKeyGen は署名鍵の生成に失敗した場合のエラー。
	ErrKeyGen = errors.New("signing key generation failed")
	// ErrProviderUnavailable はプロバイダーへの通信失敗・タイムアウト・5xxを表す。
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
	// ErrProviderRejected はプロバイダーがリクエストを拒否した場合（無効な認可コード等）のエラー。
	ErrProviderRejected = errors.New("oauth provider rejected request")
	// ErrInvalidToken はセッショントークンの検証に失敗した場合のエラー。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrUserNotFound は指定IDのユーザーが存在しない場合のエラー。
	ErrUserNotFound = errors.New("user not found")
)

// ProviderError はプロバイダー呼び出しの失敗を表す。
// Kindには ErrProviderUnavailable または ErrProviderRejected が入る。
type ProviderError struct {
	Op         string // "exchange_code", "fetch_profile"
	StatusCode int    // HTTPレスポンスを受け取れなかった場合は0
	Kind       error
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap はerrors.Is/Asで分類と原因の両方を辿れるようにする。
func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeMissingCode         = "MISSING_AUTHORIZATION_CODE"
	ErrCodeProviderRejected    = "PROVIDER_REJECTED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewMissingCodeError は認可コードが欠落している場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードが指定されていません。",
		Category: "validation",
		Action:   "ログインからやり直してください。",
	}
}

// NewProviderRejectedError はプロバイダーが認可コードを拒否した場合のエラーを生成する。
func NewProviderRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderRejected,
		Message:  "Stravaでの認証に失敗しました。",
		Category: "provider",
		Action:   "ログインからやり直してください。",
	}
}

// NewProviderUnavailableError はプロバイダーに接続できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "Stravaに接続できませんでした。",
		Category: "provider",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
