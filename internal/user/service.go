// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/salus/internal/model"
	"github.com/hitoshi/salus/internal/repository"
)

// Service はユーザー管理のサービス層。
// ログイン時のプロフィールとローカルユーザーの照合を提供する。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		now:      time.Now,
	}
}

// Reconcile はプロバイダーのプロフィールとトークンをローカルユーザーに反映する。
// 未登録のIDならプロフィールから新規ユーザーを作成し、登録済みならトークンだけを上書きする。
// 作成と更新は1回の書き込みで行い、新規作成だったかどうかを併せて返す。
func (s *Service) Reconcile(ctx context.Context, profile *model.ProviderProfile, token *model.ProviderToken) (*model.User, bool, error) {
	if profile == nil || profile.ProviderID <= 0 {
		return nil, false, fmt.Errorf("プロフィールにIDがありません: %w", model.ErrProviderRejected)
	}

	candidate := model.NewUserFromProfile(profile, token, s.now())

	user, created, err := s.userRepo.UpsertLogin(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの保存に失敗しました: %w", err)
	}

	return user, created, nil
}

// FindByID は指定IDのユーザーを取得する。存在しない場合はmodel.ErrUserNotFoundを返す。
func (s *Service) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	return user, nil
}
