package middleware

import "net/http"

// hstsMaxAge はStrict-Transport-Securityのmax-age（1年）。
const hstsMaxAge = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はJSON APIとリダイレクトだけを返すサーバー向けのセキュリティヘッダーを付与する。
// 認可コードがクエリに載る/auth/callbackのURLを外部に漏らさないため、Referrerは送らせない。
// hstsがtrueの場合（セッションCookieをSecureで発行する構成）はHSTSも付与する。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if hsts {
				h.Set("Strict-Transport-Security", hstsMaxAge)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewNoStoreMiddleware はレスポンスをキャッシュさせないミドルウェアを返す。
// セッションCookieを発行する/auth/*と、プロフィールを返す/api/*に適用する。
func NewNoStoreMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
