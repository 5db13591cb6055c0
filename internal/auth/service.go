// Package auth はStravaとのOAuth認証フローとセッショントークンの発行を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/salus/internal/metrics"
	"github.com/hitoshi/salus/internal/model"
)

// ProviderClient はOAuthプロバイダーとの通信のインターフェース。
// 本番ではStravaClient、テストではモックを使う。
type ProviderClient interface {
	// LoginURL はプロバイダーの認可画面のURLを返す。
	LoginURL() string
	// ExchangeCode は認可コードをプロバイダートークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*model.ProviderToken, error)
	// FetchProfile はアクセストークンで認証済みユーザーのプロフィールを取得する。
	FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error)
}

// UserService はプロフィールとローカルユーザーの照合を行うインターフェース。
type UserService interface {
	Reconcile(ctx context.Context, profile *model.ProviderProfile, token *model.ProviderToken) (*model.User, bool, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// TokenService はセッショントークンの発行と検証のインターフェース。
type TokenService interface {
	Issue(userID int64) (string, error)
	Verify(token string) (int64, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider ProviderClient
	users    UserService
	tokens   TokenService
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(provider ProviderClient, users UserService, tokens TokenService, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		provider: provider,
		users:    users,
		tokens:   tokens,
		metrics:  collector,
	}
}

// GetLoginURL はOAuth認証URLを返す。
func (s *Service) GetLoginURL() string {
	return s.provider.LoginURL()
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
// トークン交換、プロフィール取得の両方が成功するまでユーザーは書き込まない。
// 未登録ユーザーは作成し、登録済みユーザーはプロバイダートークンだけを更新する。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, *model.User, error) {
	// 1. 認可コードをトークンに交換
	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. プロフィールを取得
	profile, err := s.provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch provider profile: %w", err)
	}

	// 3. ローカルユーザーと照合
	user, created, err := s.users.Reconcile(ctx, profile, token)
	if err != nil {
		return "", nil, fmt.Errorf("failed to reconcile user: %w", err)
	}
	s.metrics.RecordUserReconciled(created)
	if created {
		slog.Info("new user created", slog.Int64("user_id", user.ID), slog.String("name", user.Name))
	} else {
		slog.Info("existing user logged in", slog.Int64("user_id", user.ID))
	}

	// 4. セッショントークンを発行
	session, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	s.metrics.RecordSessionIssued()

	return session, user, nil
}

// VerifySession はセッショントークンを検証し、ユーザーIDを返す。
func (s *Service) VerifySession(sessionToken string) (int64, error) {
	userID, err := s.tokens.Verify(sessionToken)
	if err != nil {
		s.metrics.RecordTokenVerifyFailure()
		return 0, err
	}
	return userID, nil
}

// GetCurrentUser はセッショントークンから現在のユーザーを取得する。
// トークンが無効な場合はmodel.ErrInvalidToken、ユーザーが存在しない場合はmodel.ErrUserNotFoundを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionToken string) (*model.User, error) {
	userID, err := s.VerifySession(sessionToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
