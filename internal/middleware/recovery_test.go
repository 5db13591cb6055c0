package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/salus/internal/model"
)

// captureDefaultLogger はslog.Defaultの出力をバッファに差し替える。テスト終了時に元に戻す。
func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRecoveryMiddleware_PanicAfterSession_LogsUserID(t *testing.T) {
	buf := captureDefaultLogger(t)

	resolver := &mockSessionResolver{
		getCurrentUserFn: func(ctx context.Context, token string) (*model.User, error) {
			return &model.User{ID: 42, Name: "Ann"}, nil
		},
	}
	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(
		NewRecoveryMiddleware()(
			NewSessionMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("nil profile")
			})),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInternal)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to decode log: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "panic recovered" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["panic"] != "nil profile" {
		t.Errorf("panic = %v, want %q", entry["panic"], "nil profile")
	}
	if entry["user_id"] != float64(42) {
		t.Errorf("user_id = %v, want 42", entry["user_id"])
	}
	if entry["path"] != "/api/users/me" {
		t.Errorf("path = %v", entry["path"])
	}
	if stack, _ := entry["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("stack should be logged, got %q", stack)
	}
}

func TestRecoveryMiddleware_AnonymousPanic_OmitsUserID(t *testing.T) {
	buf := captureDefaultLogger(t)

	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(buf.String(), `"user_id"`) {
		t.Errorf("user_id should be omitted for anonymous requests: %s", buf.String())
	}
}

func TestRecoveryMiddleware_AbortHandler_Repanics(t *testing.T) {
	buf := captureDefaultLogger(t)

	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	w := httptest.NewRecorder()

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want http.ErrAbortHandler", rec)
		}
		if w.Body.Len() != 0 {
			t.Errorf("no response body should be written, got %q", w.Body.String())
		}
		if buf.Len() != 0 {
			t.Errorf("abort should not be logged as a panic: %s", buf.String())
		}
	}()

	handler.ServeHTTP(w, req)
	t.Fatal("ServeHTTP should re-panic")
}
