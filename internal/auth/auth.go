// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "shot-pipeline"

// TokenConfig holds the configuration for token generation
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// Claims 访问令牌携带的信息；Projects 为空表示不限制项目
type Claims struct {
	UserID   string   `json:"user_id"`
	Approved bool     `json:"approved"`
	Projects []string `json:"projects,omitempty"`
	jwt.RegisteredClaims
}

// AllowsProject 令牌是否允许访问指定项目（slug）
func (c *Claims) AllowsProject(slug string) bool {
	if len(c.Projects) == 0 {
		return true
	}
	for _, p := range c.Projects {
		if p == slug || p == "*" {
			return true
		}
	}
	return false
}

// GenerateToken creates a new signed token for an approved user
func GenerateToken(userID string, projects []string, config *TokenConfig) (string, error) {
	return SignClaims(&Claims{UserID: userID, Approved: true, Projects: projects}, config)
}

// SignClaims 补全注册字段并签名
func SignClaims(claims *Claims, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", errors.New("secret key is required")
	}
	if claims.UserID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims.Subject = claims.UserID
	claims.Issuer = issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(config.Expiration))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken parses and validates a token
func ParseToken(tokenString string, config *TokenConfig) (*Claims, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, errors.New("secret key is required")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return config.Secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("invalid token format: %w", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("token has expired: %w", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("invalid token signature: %w", err)
		}
		return nil, fmt.Errorf("could not parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// devSecret 调试模式下未配置密钥时使用，保证重启后令牌仍然有效
const devSecret = "dev_auth_key_for_testing_purposes_only_"

// ResolveSecret 返回签名密钥：优先使用配置值，调试模式退回固定开发密钥，
// 否则生成随机密钥（此时进程外签发的令牌无法通过校验，ephemeral 为 true）
func ResolveSecret(configured string, debug bool) (secret []byte, ephemeral bool, err error) {
	switch {
	case configured != "":
		return []byte(configured), false, nil
	case debug:
		return []byte(devSecret), false, nil
	}
	key, err := GenerateSecureKey(32)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// GenerateSecureKey generates a secure random key for token signing
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32 // Default to 256 bits
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
