package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/salus/internal/metrics"
	"github.com/hitoshi/salus/internal/middleware"
	"github.com/hitoshi/salus/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func() string
	handleCallbackFn func(ctx context.Context, code string) (string, *model.User, error)
	getCurrentUserFn func(ctx context.Context, sessionToken string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL() string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn()
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (string, *model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return "", nil, errors.New("not implemented")
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionToken string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionToken)
	}
	return nil, model.ErrInvalidToken
}

// callbackRecorder はハンドラーが記録したメトリクスを保持する。
type callbackRecorder struct {
	metrics.NopCollector
	logins    int
	callbacks []string
}

func (r *callbackRecorder) RecordLogin()              { r.logins++ }
func (r *callbackRecorder) RecordCallback(res string) { r.callbacks = append(r.callbacks, res) }

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		FrontendURL:   "https://app.example.com",
		CookieDomain:  "app.example.com",
		CookieSecure:  true,
		SessionMaxAge: 604800,
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeAPIError(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- Login ---

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	svc := &mockAuthService{
		getLoginURLFn: func() string {
			return "https://www.strava.com/oauth/authorize?client_id=12345&response_type=code"
		},
	}
	rec := &callbackRecorder{}
	h := NewAuthHandler(svc, testAuthConfig(), rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}

	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if location.Host != "www.strava.com" {
		t.Errorf("Location host = %q, want %q", location.Host, "www.strava.com")
	}
	if location.Query().Get("response_type") != "code" {
		t.Errorf("response_type = %q, want %q", location.Query().Get("response_type"), "code")
	}
	if rec.logins != 1 {
		t.Errorf("logins recorded = %d, want 1", rec.logins)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("login should not set cookies, got %v", resp.Cookies())
	}
}

// --- Callback ---

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (string, *model.User, error) {
			if code != "abc123" {
				t.Errorf("code = %q, want %q", code, "abc123")
			}
			return "signed.session.token", &model.User{ID: 42, Name: "Ann"}, nil
		},
	}
	rec := &callbackRecorder{}
	h := NewAuthHandler(svc, testAuthConfig(), rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc123", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()

	// フロントエンドに302でリダイレクトされること
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != "https://app.example.com" {
		t.Errorf("Location = %q, want %q", location, "https://app.example.com")
	}

	// セッションCookieが設定されること
	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected salus_session cookie")
	}
	if cookie.Value != "signed.session.token" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "signed.session.token")
	}
	if cookie.MaxAge != 604800 {
		t.Errorf("cookie MaxAge = %d, want 604800", cookie.MaxAge)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.Path != "/" {
		t.Errorf("cookie Path = %q, want %q", cookie.Path, "/")
	}
	if cookie.Domain != "app.example.com" {
		t.Errorf("cookie Domain = %q, want %q", cookie.Domain, "app.example.com")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", cookie.SameSite)
	}

	if len(rec.callbacks) != 1 || rec.callbacks[0] != metrics.CallbackSuccess {
		t.Errorf("callbacks = %v, want [success]", rec.callbacks)
	}
}

func TestAuthHandler_Callback_ResponseDoesNotLeakProviderToken(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (string, *model.User, error) {
			return "session-token", &model.User{
				ID:    42,
				Name:  "Ann",
				Token: &model.ProviderToken{AccessToken: "T1", RefreshToken: "R1", ExpiresAt: time.Now()},
			}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc123", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	raw := w.Body.String() + fmt.Sprint(w.Result().Header)
	if strings.Contains(raw, "T1") || strings.Contains(raw, "R1") {
		t.Errorf("response should not contain provider tokens: %s", raw)
	}
}

func TestAuthHandler_Callback_MissingCode_Returns400(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (string, *model.User, error) {
			t.Fatal("HandleCallback should not be called without code")
			return "", nil, nil
		},
	}
	rec := &callbackRecorder{}
	h := NewAuthHandler(svc, testAuthConfig(), rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeAPIError(t, resp); body.Code != model.ErrCodeMissingCode {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingCode)
	}
	if findCookie(resp, middleware.SessionCookieName) != nil {
		t.Error("no session cookie should be set on failure")
	}
	if len(rec.callbacks) != 1 || rec.callbacks[0] != metrics.CallbackMissingCode {
		t.Errorf("callbacks = %v, want [missing_code]", rec.callbacks)
	}
}

func TestAuthHandler_Callback_AccessDenied_RedirectsWithError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (string, *model.User, error) {
			t.Fatal("HandleCallback should not be called when user denied")
			return "", nil, nil
		},
	}
	rec := &callbackRecorder{}
	h := NewAuthHandler(svc, testAuthConfig(), rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != "https://app.example.com?auth_error=access_denied" {
		t.Errorf("Location = %q", location)
	}
	if findCookie(resp, middleware.SessionCookieName) != nil {
		t.Error("no session cookie should be set when denied")
	}
	if len(rec.callbacks) != 1 || rec.callbacks[0] != metrics.CallbackDenied {
		t.Errorf("callbacks = %v, want [denied]", rec.callbacks)
	}
}

func TestAuthHandler_Callback_UnknownProviderError_IsNotReflected(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=%3Cscript%3E", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	location := w.Result().Header.Get("Location")
	if location != "https://app.example.com?auth_error=provider_error" {
		t.Errorf("Location = %q", location)
	}
}

func TestAuthHandler_Callback_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantResult string
	}{
		{
			name:       "provider rejected",
			err:        fmt.Errorf("failed to exchange oauth code: %w", &model.ProviderError{Op: "exchange_code", StatusCode: 400, Kind: model.ErrProviderRejected, Err: errors.New("invalid code")}),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeProviderRejected,
			wantResult: metrics.CallbackRejected,
		},
		{
			name:       "provider unavailable",
			err:        fmt.Errorf("failed to fetch provider profile: %w", &model.ProviderError{Op: "fetch_profile", StatusCode: 503, Kind: model.ErrProviderUnavailable, Err: errors.New("down")}),
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrCodeProviderUnavailable,
			wantResult: metrics.CallbackUnavailable,
		},
		{
			name:       "storage failure",
			err:        fmt.Errorf("failed to reconcile user: %w", errors.New("database is locked")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
			wantResult: metrics.CallbackError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (string, *model.User, error) {
					return "", nil, tt.err
				},
			}
			rec := &callbackRecorder{}
			h := NewAuthHandler(svc, testAuthConfig(), rec)

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=bad", nil)
			w := httptest.NewRecorder()

			h.Callback(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body := decodeAPIError(t, resp); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if findCookie(resp, middleware.SessionCookieName) != nil {
				t.Error("no session cookie should be set on failure")
			}
			if len(rec.callbacks) != 1 || rec.callbacks[0] != tt.wantResult {
				t.Errorf("callbacks = %v, want [%s]", rec.callbacks, tt.wantResult)
			}
		})
	}
}

// --- Logout ---

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "some-token"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected cookie clearing header")
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("MaxAge = %d, want negative", cookie.MaxAge)
	}
	if cookie.Value != "" {
		t.Errorf("cookie value = %q, want empty", cookie.Value)
	}
	if cookie.Domain != "app.example.com" {
		t.Errorf("cookie Domain = %q, want %q", cookie.Domain, "app.example.com")
	}
}

func TestAuthHandler_Logout_WithoutCookie_StillSucceeds(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
