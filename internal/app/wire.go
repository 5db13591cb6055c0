package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/salus/internal/auth"
	"github.com/hitoshi/salus/internal/config"
	"github.com/hitoshi/salus/internal/database"
	"github.com/hitoshi/salus/internal/handler"
	"github.com/hitoshi/salus/internal/keys"
	"github.com/hitoshi/salus/internal/metrics"
	"github.com/hitoshi/salus/internal/middleware"
	"github.com/hitoshi/salus/internal/repository"
	"github.com/hitoshi/salus/internal/session"
	"github.com/hitoshi/salus/internal/user"
)

// loadSigningKey はKEY_STOREに応じた保存領域から署名鍵を読み込む。なければ生成して保存する。
func loadSigningKey(ctx context.Context, cfg *config.Config) (*keys.Keypair, error) {
	store, closeStore, err := openKeyStore(cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	keypair, err := keys.NewManager(store, cfg.KeyBits).LoadOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return keypair, nil
}

// openKeyStore は鍵の保存領域を開く。返したcloseは必ず呼ぶこと。
func openKeyStore(cfg *config.Config) (keys.Store, func() error, error) {
	switch cfg.KeyStore {
	case config.KeyStoreBolt:
		store, err := keys.OpenBoltStore(cfg.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open key store: %w", err)
		}
		return store, store.Close, nil
	default:
		return keys.NewFileStore(cfg.KeyPath), func() error { return nil }, nil
	}
}

// newUserRepository はDBドライバーに対応するユーザーリポジトリを返す。
func newUserRepository(driver string, db *sql.DB) repository.UserRepository {
	if driver == database.DriverSQLite {
		return repository.NewSQLiteUserRepo(db)
	}
	return repository.NewPostgresUserRepo(db)
}

// buildRouter は全依存関係を組み立ててAPIのルーターを返す。
// 返したcleanupはサーバー停止後に呼ぶ。
func buildRouter(cfg *config.Config, db *sql.DB, keypair *keys.Keypair, reg prometheus.Registerer) (http.Handler, func()) {
	collector := metrics.NewCollector(reg)

	// プロバイダー呼び出しはアプリケーション全体で1つのクライアントを共有する
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	provider := auth.NewStravaClient(auth.StravaConfig{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURI,
		Scope:          cfg.OAuthScope,
		BaseURL:        cfg.ProviderBaseURL,
		Timeout:        cfg.ProviderTimeout,
		ProfileRetries: cfg.ProviderProfileRetries,
	}, httpClient, collector)

	tokens := session.NewTokenService(keypair.PrivateKey(), keypair.PublicKey(), cfg.SessionTTL())
	userService := user.NewService(newUserRepository(cfg.DBDriver, db))
	authService := auth.NewService(provider, userService, tokens, collector)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HSTS:              cfg.CookieSecure,
		HealthChecker:     db,
		AuthService:       authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontendURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		Metrics: collector,
	})

	return router, rateLimiter.Stop
}
