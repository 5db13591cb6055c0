package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/salus/internal/model"
)

// SQLiteUserRepo はSQLiteを使用したユーザーリポジトリ。
// 単一インスタンスでの運用や開発環境向け。
type SQLiteUserRepo struct {
	db *sql.DB
}

// NewSQLiteUserRepo はSQLiteUserRepoを生成する。
func NewSQLiteUserRepo(db *sql.DB) *SQLiteUserRepo {
	return &SQLiteUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByName は表示名が一致するユーザーをID順に取得する。
func (r *SQLiteUserRepo) FindByName(ctx context.Context, name string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = ? ORDER BY id`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users by name: %w", err)
	}
	return queryUsers(rows)
}

// UpsertLogin はINSERT ... ON CONFLICTでユーザーを作成またはトークンを更新する。
// 時刻はRFC3339Nano（UTC）の文字列で保存する。
func (r *SQLiteUserRepo) UpsertLogin(ctx context.Context, user *model.User) (*model.User, bool, error) {
	history, err := userHistoryJSON(user)
	if err != nil {
		return nil, false, err
	}
	tokenType, accessToken, refreshToken, expiresAt, expiresIn := tokenFields(user)

	saved, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, age, weight, height, bmr, fitness_goal,
			token_type, access_token, refresh_token, token_expires_at, token_expires_in,
			historical_calories, historical_activities, historical_meals, conversation_history,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			token_type = excluded.token_type,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			token_expires_in = excluded.token_expires_in,
			updated_at = excluded.updated_at
		 RETURNING `+userColumns,
		user.ID, user.Name, user.Age, user.Weight, user.Height, user.BMR, user.FitnessGoal,
		tokenType, accessToken, refreshToken, textTime(expiresAt), expiresIn,
		history[0], history[1], history[2], history[3],
		textTime(user.CreatedAt), textTime(user.UpdatedAt),
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	return saved, isCreated(saved), nil
}

// compile-time interface check
var _ UserRepository = (*SQLiteUserRepo)(nil)
