// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/salus/internal/metrics"
	"github.com/hitoshi/salus/internal/middleware"
	"github.com/hitoshi/salus/internal/model"
)

// authErrorParam はフロントエンドへのリダイレクトで認証失敗理由を伝えるクエリパラメータ名。
const authErrorParam = "auth_error"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL() string
	HandleCallback(ctx context.Context, code string) (string, *model.User, error)
	GetCurrentUser(ctx context.Context, sessionToken string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL   string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service: service,
		config:  config,
		metrics: collector,
	}
}

// Login はStrava OAuthフローを開始する。サーバー側に状態は持たない。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordLogin()
	http.Redirect(w, r, h.service.GetLoginURL(), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// 成功時はセッションCookieを設定してフロントエンドへ302でリダイレクトする。
// プロバイダーのトークンはレスポンスに含めない。
// GET /auth/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. ユーザーが認可を拒否した場合はフロントエンドに戻す
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Info("oauth authorization denied by user",
			slog.String("error", providerErr),
		)
		h.metrics.RecordCallback(metrics.CallbackDenied)
		http.Redirect(w, r, h.frontendURLWithError(providerErr), http.StatusFound)
		return
	}

	// 2. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		h.metrics.RecordCallback(metrics.CallbackMissingCode)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	// 3. 認証処理
	sessionToken, user, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		h.writeCallbackError(w, err)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, h.sessionCookie(sessionToken, h.config.SessionMaxAge))
	h.metrics.RecordCallback(metrics.CallbackSuccess)
	slog.Info("login succeeded", slog.Int64("user_id", user.ID))

	// 5. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.FrontendURL, http.StatusFound)
}

// Logout はセッションCookieを削除する。
// トークンはステートレスなのでサーバー側で失効させるものはない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

// writeCallbackError はHandleCallbackのエラーを分類してレスポンスを書き込む。
func (h *AuthHandler) writeCallbackError(w http.ResponseWriter, err error) {
	attr := slog.String("error", err.Error())
	switch middleware.WriteError(w, err) {
	case http.StatusBadRequest:
		slog.Warn("oauth callback rejected by provider", attr)
		h.metrics.RecordCallback(metrics.CallbackRejected)
	case http.StatusBadGateway:
		slog.Error("oauth provider unavailable", attr)
		h.metrics.RecordCallback(metrics.CallbackUnavailable)
	default:
		slog.Error("oauth callback failed", attr)
		h.metrics.RecordCallback(metrics.CallbackError)
	}
}

// sessionCookie はセッションCookieを組み立てる。maxAgeが負の場合は削除用のCookieになる。
func (h *AuthHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// frontendURLWithError はフロントエンドURLにauth_errorを付与する。
// 既知の値以外はprovider_errorにまとめ、任意の文字列を反射しない。
func (h *AuthHandler) frontendURLWithError(providerErr string) string {
	reason := "provider_error"
	if providerErr == "access_denied" {
		reason = providerErr
	}

	u, err := url.Parse(h.config.FrontendURL)
	if err != nil {
		return h.config.FrontendURL
	}
	q := u.Query()
	q.Set(authErrorParam, reason)
	u.RawQuery = q.Encode()
	return u.String()
}
