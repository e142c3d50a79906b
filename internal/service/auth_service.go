package service

import (
	"errors"
	"os"
	"time"

	"gowa-relay/internal/helper"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// JWT configuration
var (
	jwtSecret         []byte
	accessTokenExpiry time.Duration

	adminUsername     string
	adminPasswordHash string
)

// InitAuthConfig initializes authentication configuration from environment variables
func InitAuthConfig(secret string) {
	jwtSecret = []byte(secret)

	// Access token expiry (default: 12 hours)
	accessExp := os.Getenv("JWT_ACCESS_TOKEN_EXPIRY")
	if accessExp == "" {
		accessExp = "12h"
	}
	accessTokenExpiry, _ = time.ParseDuration(accessExp)

	adminUsername = os.Getenv("ADMIN_USERNAME")
	adminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthenticateAdmin validates the single admin credential pair configured
// via ADMIN_USERNAME and ADMIN_PASSWORD_HASH (bcrypt).
func AuthenticateAdmin(username, password string) error {
	if adminUsername == "" || adminPasswordHash == "" {
		return errors.New("admin credentials not configured")
	}
	if username != adminUsername {
		return ErrInvalidCredentials
	}
	if err := helper.VerifyPassword(adminPasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateAccessToken generates a JWT access token for the admin user
func GenerateAccessToken(username string) (string, error) {
	expirationTime := time.Now().Add(accessTokenExpiry)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateAccessToken validates JWT access token and returns claims
func ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
