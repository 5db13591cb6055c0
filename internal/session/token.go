// Package session はRS256で署名されたステートレスなセッショントークンの発行と検証を提供する。
package session

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/salus/internal/model"
)

// DefaultTTL はセッショントークンの既定の有効期間（Cookieの Max-Age と同じ7日間）。
const DefaultTTL = 7 * 24 * time.Hour

// Claims はセッショントークンのクレーム。
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService はセッショントークンの発行と検証を行う。
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	ttl        time.Duration
	parser     *jwt.Parser

	// Now はテストで時刻を固定するために差し替え可能にしている。
	Now func() time.Time
}

// NewTokenService はTokenServiceを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewTokenService(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, ttl time.Duration) *TokenService {
	if privateKey == nil || publicKey == nil {
		panic("session: signing keypair is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		ttl:        ttl,
		Now:        time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		// 末尾文字の未使用ビットが0でない符号化を拒否する。
		// 許すと1ビット書き換えたトークンが同じ署名にデコードされて通ってしまう。
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return s.Now() }),
	)
	return s
}

// TTL はトークンの有効期間を返す。
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue はuserIDを主体とするトークンを発行する。
func (s *TokenService) Issue(userID int64) (string, error) {
	now := s.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、ユーザーIDを返す。
// 失敗理由にかかわらずmodel.ErrInvalidTokenを返す。
func (s *TokenService) Verify(token string) (int64, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.publicKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", model.ErrInvalidToken)
	}
	return claims.UserID, nil
}
