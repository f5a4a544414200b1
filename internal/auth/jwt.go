// Package auth implements authentication for the octabot API.
//
// Octabot uses JWTs as the sole authentication mechanism for the HTTP/WS
// surface. Tokens are issued by POST /api/v1/auth/login and must be sent
// as "Authorization: Bearer <token>" on every subsequent request.
//
// Security notes:
//   - Signing is HMAC-SHA256 (HS256); the signing method is checked
//     explicitly in ValidateToken to reject "none"/asymmetric substitution.
//   - SecretKey must come from JWT_SECRET; there is no default, since an
//     empty or guessable secret defeats the scheme entirely.
//   - Claims carry only UserID, Username and Role — enough for the
//     project/task ACL checks in the handlers package, nothing more.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds JWT signing configuration.
type JWTConfig struct {
	// SecretKey is the HMAC signing key. Must be non-empty.
	SecretKey string
	// Issuer identifies the token issuer ("octabot" by default).
	Issuer string
	// TokenDuration is how long issued tokens remain valid.
	TokenDuration time.Duration
}

// Claims are the custom JWT claims carried by octabot tokens.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates octabot session tokens.
type JWTManager struct {
	config *JWTConfig
}

// NewJWTManager builds a manager from config, applying defaults.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "octabot"
	}
	return &JWTManager{config: config}
}

// GenerateToken signs a new token for the given user identity.
func (m *JWTManager) GenerateToken(userID, username, role string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.TokenDuration)

	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm and expiry, returning claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RefreshToken re-issues a token within 7 days of its original expiry,
// carrying the same claims forward with fresh timestamps.
func (m *JWTManager) RefreshToken(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 0 {
		return "", errors.New("token has already expired")
	}
	if remaining > 7*24*time.Hour {
		return "", errors.New("token not eligible for refresh yet")
	}

	return m.GenerateToken(claims.UserID, claims.Username, claims.Role)
}
