package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/salus/internal/middleware"
	"github.com/hitoshi/salus/internal/model"
)

// userResponse は /api/users/me のレスポンス。プロバイダートークンは含めない。
type userResponse struct {
	ID                   int64                      `json:"id"`
	Name                 string                     `json:"name"`
	Age                  int                        `json:"age"`
	Weight               float64                    `json:"weight"`
	Height               float64                    `json:"height"`
	BMR                  float64                    `json:"bmr"`
	FitnessGoal          string                     `json:"fitnessGoal"`
	HistoricalCalories   []model.HistoricalCalories `json:"historicalCalories"`
	HistoricalActivities []model.HistoricalActivity `json:"historicalActivities"`
	HistoricalMeals      []model.HistoricalMeal     `json:"historicalMeals"`
	ConversationHistory  []model.ConversationEntry  `json:"conversationHistory"`
	CreatedAt            time.Time                  `json:"createdAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                   u.ID,
		Name:                 u.Name,
		Age:                  u.Age,
		Weight:               u.Weight,
		Height:               u.Height,
		BMR:                  u.BMR,
		FitnessGoal:          u.FitnessGoal,
		HistoricalCalories:   nonNil(u.HistoricalCalories),
		HistoricalActivities: nonNil(u.HistoricalActivities),
		HistoricalMeals:      nonNil(u.HistoricalMeals),
		ConversationHistory:  nonNil(u.ConversationHistory),
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

// nonNil はnilスライスをJSONのnullではなく[]として出力するために空スライスに置き換える。
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct{}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Me は現在のログインユーザー情報を返す。
// セッションミドルウェアが解決したユーザーを使う。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
