package model

import "time"

// ProviderToken はOAuthプロバイダーのトークンエンドポイントから取得したトークン。
// ユーザーと1対1で紐付き、ログインのたびに最新のものへ上書きされる。
type ProviderToken struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time     // 失効時刻（絶対時刻）
	ExpiresIn    time.Duration // 発行時点からの有効期間
}

// ProviderProfile はプロバイダーから取得した認証済みユーザーのプロフィール。
// コールバックのたびに取得し直し、単独では永続化しない。
type ProviderProfile struct {
	ProviderID int64
	FirstName  string
	LastName   string
	Weight     *float64 // プロバイダーが返さない場合はnil
}
