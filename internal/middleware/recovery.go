package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを統一形式の500に変換する。
// http.ErrAbortHandlerはnet/httpが接続を切るための合図なのでそのまま再送出する。
// ログには分かっていればセッションのuser_idを含める。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				attrs := []slog.Attr{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				}
				if fields := logFieldsFromContext(r.Context()); fields != nil && fields.userID > 0 {
					attrs = append(attrs, slog.Int64("user_id", fields.userID))
				}
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered", attrs...)

				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
