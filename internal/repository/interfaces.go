// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/salus/internal/model"
)

//go:generate mockgen -destination=mock_user_repository.go -package=repository . UserRepository

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByName は表示名が一致するユーザーを取得する。表示名は一意ではないため複数件を返しうる。
	FindByName(ctx context.Context, name string) ([]*model.User, error)

	// UpsertLogin はログイン時のユーザーを1文で作成または更新する。
	// idが未登録ならuserをそのまま作成し、登録済みならプロバイダートークンとupdated_atだけを更新する。
	// 保存後のユーザーと、新規作成だったかどうかを返す。
	UpsertLogin(ctx context.Context, user *model.User) (*model.User, bool, error)
}
