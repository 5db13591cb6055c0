package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/salus/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
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
func (r *PostgresUserRepo) FindByName(ctx context.Context, name string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = $1 ORDER BY id`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users by name: %w", err)
	}
	return queryUsers(rows)
}

// UpsertLogin はINSERT ... ON CONFLICTでユーザーを作成またはトークンを更新する。
// 読み取りと書き込みの間に隙間がないため、同一ユーザーの同時ログインでも重複は生じない。
func (r *PostgresUserRepo) UpsertLogin(ctx context.Context, user *model.User) (*model.User, bool, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
			token_type = EXCLUDED.token_type,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			token_expires_in = EXCLUDED.token_expires_in,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		user.ID, user.Name, user.Age, user.Weight, user.Height, user.BMR, user.FitnessGoal,
		tokenType, accessToken, refreshToken, nullableTime(expiresAt), expiresIn,
		history[0], history[1], history[2], history[3],
		user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	return saved, isCreated(saved), nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
