// Package model はドメインモデルを定義する。
package model

import (
	"time"
)

// User はサービス利用ユーザーを表す。
// IDはプロバイダー（Strava）のathlete IDで、正規の識別子として扱う。
// Nameは表示名で、セカンダリインデックスとしてのみ使用する。
type User struct {
	ID          int64
	Name        string
	Age         int
	Weight      float64
	Height      float64
	BMR         float64
	FitnessGoal string

	// Token は直近のログインで取得したプロバイダートークン。ログインのたびに上書きされる。
	Token *ProviderToken

	HistoricalCalories   []HistoricalCalories
	HistoricalActivities []HistoricalActivity
	HistoricalMeals      []HistoricalMeal
	ConversationHistory  []ConversationEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserFromProfile はプロフィールから新規ユーザーを組み立てる。
// 表示名にはファーストネームを使い、体重はプロフィールに含まれる場合のみ設定する。
func NewUserFromProfile(profile *ProviderProfile, token *ProviderToken, now time.Time) *User {
	u := &User{
		ID:        profile.ProviderID,
		Name:      profile.FirstName,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if profile.Weight != nil {
		u.SetWeight(*profile.Weight)
	}
	return u
}

// SetWeight は体重を更新し、BMRを再計算する。
func (u *User) SetWeight(weight float64) {
	u.Weight = weight
	u.recalculateBMR()
}

// recalculateBMR は基礎代謝量（Mifflin-St Jeor式）を再計算する。
// プロバイダーから届くのは体重だけで、身長と年齢は保存済みの値を使う。
func (u *User) recalculateBMR() {
	u.BMR = 10*u.Weight + 6.25*u.Height - 5*float64(u.Age) + 5
}

// HistoricalCalories は1日分の消費・摂取カロリー。
type HistoricalCalories struct {
	Date             time.Time `json:"date"`
	CaloriesBurned   float64   `json:"caloriesBurned"`
	CaloriesConsumed float64   `json:"caloriesConsumed"`
}

// HistoricalActivity はアクティビティ履歴の1件。
type HistoricalActivity struct {
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	SportType        string    `json:"sportType"`
	StartDate        time.Time `json:"startDate"`
	StartDateLocal   time.Time `json:"startDateLocal"`
	Timezone         string    `json:"timezone"`
	UTCOffset        int       `json:"utcOffset"`
	Kilojoules       float64   `json:"kilojoules"`
	AverageHeartrate float64   `json:"averageHeartrate"`
	MaxHeartrate     float64   `json:"maxHeartrate"`
	SufferScore      float64   `json:"sufferScore"`
}

// HistoricalMeal は食事履歴の1件。
type HistoricalMeal struct {
	Name           string         `json:"name"`
	Timestamp      time.Time      `json:"timestamp"`
	Macronutrients Macronutrients `json:"macronutrients"`
}

// Macronutrients は三大栄養素（g）。
type Macronutrients struct {
	Carbs   float64 `json:"carbs"`
	Protein float64 `json:"protein"`
	Fats    float64 `json:"fats"`
}

// ConversationEntry はアシスタントとの会話履歴の1件。
type ConversationEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
}
