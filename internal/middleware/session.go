// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/salus/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "salus_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// userContextKey はリクエストコンテキストに解決済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// SessionResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionResolver interface {
	GetCurrentUser(ctx context.Context, sessionToken string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 署名と有効期限を検証するミドルウェアを返す。
// 解決したユーザーとユーザーIDをリクエストコンテキストに注入する。
// トークンが無い・無効な場合は401、トークンは有効だがユーザーが存在しない場合は400を返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. トークンを検証してユーザーを解決
			user, err := resolver.GetCurrentUser(r.Context(), cookie.Value)
			if err != nil {
				attrs := []slog.Attr{
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				}
				// 無効なトークンは攻撃や期限切れで日常的に起きるのでINFOに留める
				switch status := WriteError(w, err); status {
				case http.StatusUnauthorized:
					slog.LogAttrs(r.Context(), slog.LevelInfo, "session token rejected", attrs...)
				case http.StatusBadRequest:
					slog.LogAttrs(r.Context(), slog.LevelWarn, "session user not found", attrs...)
				default:
					slog.LogAttrs(r.Context(), slog.LevelError, "failed to resolve session", attrs...)
				}
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			if fields := logFieldsFromContext(r.Context()); fields != nil {
				fields.userID = user.ID
			}
			ctx := ContextWithUserID(r.Context(), user.ID)
			ctx = context.WithValue(ctx, userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID <= 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// UserFromContext はセッションミドルウェアが解決したユーザーを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
