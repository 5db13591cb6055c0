package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/hitoshi/salus/internal/metrics"
	"github.com/hitoshi/salus/internal/model"
)

const (
	// DefaultBaseURL はStravaのベースURL。
	DefaultBaseURL = "https://www.strava.com"
	// DefaultTimeout はプロバイダー呼び出し1回あたりの既定のタイムアウト。
	DefaultTimeout = 10 * time.Second
	// DefaultScope は要求するOAuthスコープ。
	DefaultScope = "read"

	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
	athletePath   = "/api/v3/athlete"

	maxResponseBytes = 1 << 20

	opExchangeCode = "exchange_code"
	opFetchProfile = "fetch_profile"
)

// StravaConfig はStrava OAuthクライアントの設定。
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string

	// テスト用にオーバーライド可能なベースURL
	BaseURL string

	// Timeout はプロバイダー呼び出し1回あたりの上限時間。
	Timeout time.Duration
	// ProfileRetries はプロフィール取得をErrProviderUnavailableで失敗した場合に再試行する回数。
	// 認可コードは使い捨てのため、トークン交換は再試行しない。
	ProfileRetries int
}

// StravaClient はStravaのOAuthトークン交換とプロフィール取得を行う。
type StravaClient struct {
	config     StravaConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	metrics    metrics.MetricsCollector

	// sleep はテストでバックオフ待機を差し替えるためのフック。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStravaClient はStravaClientを生成する。
// httpClientはアプリケーション全体で共有するものを渡す。nilの場合は専用のクライアントを作る。
func NewStravaClient(config StravaConfig, httpClient *http.Client, collector metrics.MetricsCollector) *StravaClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Scope == "" {
		config.Scope = DefaultScope
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.ProfileRetries < 0 {
		config.ProfileRetries = 0
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	return &StravaClient{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{config.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.BaseURL + authorizePath,
				TokenURL:  config.BaseURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		metrics:    collector,
		sleep:      sleepContext,
	}
}

// LoginURL はStravaの認可画面のURLを生成する。
// 同意画面を毎回表示させるためapproval_prompt=forceを付与する。
func (c *StravaClient) LoginURL() string {
	return c.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// ExchangeCode は認可コードをプロバイダートークンに交換する。
func (c *StravaClient) ExchangeCode(ctx context.Context, code string) (*model.ProviderToken, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		perr := classifyExchangeError(err)
		c.metrics.RecordProviderRequest(opExchangeCode, perr.StatusCode, time.Since(start))
		return nil, perr
	}
	c.metrics.RecordProviderRequest(opExchangeCode, http.StatusOK, time.Since(start))

	return toProviderToken(tok), nil
}

// FetchProfile はアクセストークンで認証済みユーザーのプロフィールを取得する。
// ErrProviderUnavailableの場合のみ、指数バックオフでProfileRetries回まで再試行する。
func (c *StravaClient) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.ProfileRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(attempt - 1)
			slog.Warn("retrying profile fetch",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		profile, err := c.fetchProfileOnce(ctx, accessToken)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, model.ErrProviderUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *StravaClient) fetchProfileOnce(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+athletePath, nil)
	if err != nil {
		return nil, fmt.Errorf("create athlete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(opFetchProfile, 0, time.Since(start))
		return nil, &model.ProviderError{Op: opFetchProfile, Kind: model.ErrProviderUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordProviderRequest(opFetchProfile, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &model.ProviderError{Op: opFetchProfile, StatusCode: resp.StatusCode, Kind: model.ErrProviderUnavailable, Err: err}
	}

	if kind := ClassifyHTTPStatus(resp.StatusCode); kind != nil {
		return nil, &model.ProviderError{
			Op:         opFetchProfile,
			StatusCode: resp.StatusCode,
			Kind:       kind,
			Err:        errors.New(providerMessage(body)),
		}
	}

	profile, err := parseAthlete(body)
	if err != nil {
		return nil, &model.ProviderError{Op: opFetchProfile, StatusCode: resp.StatusCode, Kind: model.ErrProviderRejected, Err: err}
	}
	return profile, nil
}

// parseAthlete は /api/v3/athlete のレスポンスをプロフィールに変換する。
// idは必須、weightは数値の場合のみ設定する。
func parseAthlete(body []byte) (*model.ProviderProfile, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed athlete response")
	}
	athlete := gjson.ParseBytes(body)

	id := athlete.Get("id")
	if id.Type != gjson.Number || id.Int() <= 0 {
		return nil, errors.New("athlete response has no id")
	}

	profile := &model.ProviderProfile{
		ProviderID: id.Int(),
		FirstName:  athlete.Get("firstname").String(),
		LastName:   athlete.Get("lastname").String(),
	}
	if w := athlete.Get("weight"); w.Type == gjson.Number {
		weight := w.Float()
		profile.Weight = &weight
	}
	return profile, nil
}

// toProviderToken はoauth2.TokenをStravaのexpires_at（UNIX秒）を優先して変換する。
func toProviderToken(tok *oauth2.Token) *model.ProviderToken {
	t := &model.ProviderToken{
		TokenType:    tok.TokenType,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if expiresAt, ok := tok.Extra("expires_at").(float64); ok && expiresAt > 0 {
		t.ExpiresAt = time.Unix(int64(expiresAt), 0)
	}
	if tok.ExpiresIn > 0 {
		t.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	} else if expiresIn, ok := tok.Extra("expires_in").(float64); ok && expiresIn > 0 {
		t.ExpiresIn = time.Duration(expiresIn) * time.Second
	}
	return t
}

// classifyExchangeError はoauth2.Exchangeのエラーを分類する。
// レスポンスを受け取れなかった場合はErrProviderUnavailable、受け取れた場合はステータスで判定し、
// 本文が解釈できない場合はErrProviderRejectedとする。
func classifyExchangeError(err error) *model.ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		kind := ClassifyHTTPStatus(status)
		if kind == nil {
			kind = model.ErrProviderRejected
		}
		return &model.ProviderError{
			Op:         opExchangeCode,
			StatusCode: status,
			Kind:       kind,
			Err:        fmt.Errorf("%s: %w", providerMessage(re.Body), err),
		}
	}

	if isTransportError(err) {
		return &model.ProviderError{Op: opExchangeCode, Kind: model.ErrProviderUnavailable, Err: err}
	}
	return &model.ProviderError{Op: opExchangeCode, StatusCode: http.StatusOK, Kind: model.ErrProviderRejected, Err: err}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// providerMessage はStravaのエラーレスポンスからメッセージを取り出す。
func providerMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return "unexpected provider response"
	}
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").String()
	}
	var codes []string
	for _, e := range gjson.GetBytes(body, "errors").Array() {
		codes = append(codes, e.Get("field").String()+" "+e.Get("code").String())
	}
	if len(codes) > 0 {
		msg += " (" + strings.Join(codes, ", ") + ")"
	}
	if msg == "" {
		return "unexpected provider response"
	}
	return msg
}

// sleepContext はdだけ待機する。ctxが先に終了した場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// compile-time interface check
var _ ProviderClient = (*StravaClient)(nil)
