package auth

import (
	"net/http"
	"time"

	"github.com/hitoshi/salus/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 200 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 2 * time.Second
)

// ClassifyHTTPStatus はプロバイダーのHTTPステータスコードをエラー分類に変換する。
// 2xxはnil、429と5xxはErrProviderUnavailable、それ以外はErrProviderRejectedを返す。
func ClassifyHTTPStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return model.ErrProviderUnavailable
	case statusCode >= 500:
		return model.ErrProviderUnavailable
	default:
		return model.ErrProviderRejected
	}
}

// CalculateBackoff は再試行回数に基づいて指数バックオフ遅延を計算する。
// 初回200ms、2倍ずつ増加、最大2秒。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
