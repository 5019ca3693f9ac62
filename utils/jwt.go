package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cppla/accesso/config"
)

// DownloadTokenTTL bounds how long a signed download link stays usable.
const DownloadTokenTTL = 15 * time.Minute

// DownloadClaims authorizes one file download inside a password protected tunnel.
type DownloadClaims struct {
	Code   string `json:"code"`
	FileID uint   `json:"file_id"`
	jwt.RegisteredClaims
}

// GenerateDownloadToken issues a JWT for a single file in a tunnel.
func GenerateDownloadToken(code string, fileID uint, duration time.Duration) (string, error) {
	cfg := config.Get()

	now := time.Now()
	claims := DownloadClaims{
		Code:   code,
		FileID: fileID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseDownloadToken validates a JWT and returns its claims.
func ParseDownloadToken(tokenStr string) (*DownloadClaims, error) {
	cfg := config.Get()
	parsed, err := jwt.ParseWithClaims(tokenStr, &DownloadClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*DownloadClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
