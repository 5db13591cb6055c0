package repository

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/salus/internal/model"
)

// userColumns はusersテーブルから読み出すカラム。scanUserの引数順と一致させる。
const userColumns = `id, name, age, weight, height, bmr, fitness_goal,
	token_type, access_token, refresh_token, token_expires_at, token_expires_in,
	historical_calories, historical_activities, historical_meals, conversation_history,
	created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// dbTime はTIMESTAMPTZ（time.Time）とSQLiteのTEXT（RFC3339）の両方を読み取る。
type dbTime struct {
	Time  time.Time
	Valid bool
}

// sqliteTimeLayouts はSQLiteに保存された時刻文字列として受け付けるレイアウト。
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// Scan はsql.Scannerを実装する。
func (t *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}

// textTime はSQLiteに時刻をRFC3339Nano（UTC）の文字列で書き込むためのdriver.Valuer。
type textTime time.Time

// Value はdriver.Valuerを実装する。ゼロ値はNULLとして書き込む。
func (t textTime) Value() (driver.Value, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return nil, nil
	}
	return tt.UTC().Format(time.RFC3339Nano), nil
}

// nullableTime はゼロ値をNULLとして書き込む。
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanUser は1行をmodel.Userに変換する。
func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var tokenType, accessToken, refreshToken string
	var tokenExpiresIn int64
	var tokenExpiresAt, createdAt, updatedAt dbTime
	var calories, activities, meals, convoHist []byte

	err := row.Scan(
		&u.ID, &u.Name, &u.Age, &u.Weight, &u.Height, &u.BMR, &u.FitnessGoal,
		&tokenType, &accessToken, &refreshToken, &tokenExpiresAt, &tokenExpiresIn,
		&calories, &activities, &meals, &convoHist,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if accessToken != "" {
		u.Token = &model.ProviderToken{
			TokenType:    tokenType,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    tokenExpiresAt.Time,
			ExpiresIn:    time.Duration(tokenExpiresIn) * time.Second,
		}
	}

	for _, h := range []struct {
		name string
		data []byte
		dest any
	}{
		{"historical_calories", calories, &u.HistoricalCalories},
		{"historical_activities", activities, &u.HistoricalActivities},
		{"historical_meals", meals, &u.HistoricalMeals},
		{"conversation_history", convoHist, &u.ConversationHistory},
	} {
		if len(h.data) == 0 {
			continue
		}
		if err := json.Unmarshal(h.data, h.dest); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", h.name, err)
		}
	}

	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	return &u, nil
}

// userHistoryJSON は履歴リストをJSONにエンコードする。nilは空配列として保存する。
func userHistoryJSON(u *model.User) ([4]string, error) {
	var out [4]string
	for i, v := range []any{u.HistoricalCalories, u.HistoricalActivities, u.HistoricalMeals, u.ConversationHistory} {
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("failed to encode user history: %w", err)
		}
		if string(b) == "null" {
			b = []byte("[]")
		}
		out[i] = string(b)
	}
	return out, nil
}

// tokenFields はプロバイダートークンのカラム値を返す。トークンがなければ空値。
func tokenFields(u *model.User) (tokenType, accessToken, refreshToken string, expiresAt time.Time, expiresIn int64) {
	if u.Token == nil {
		return "", "", "", time.Time{}, 0
	}
	t := u.Token
	return t.TokenType, t.AccessToken, t.RefreshToken, t.ExpiresAt, int64(t.ExpiresIn / time.Second)
}

// queryUsers は複数行のクエリ結果をユーザーのスライスに変換する。
func queryUsers(rows *sql.Rows) ([]*model.User, error) {
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// isCreated は作成直後の行かどうかを判定する。
// 作成時はcreated_atとupdated_atが同じ値で書き込まれ、更新時はupdated_atだけが進む。
func isCreated(u *model.User) bool {
	return u.CreatedAt.Equal(u.UpdatedAt)
}
