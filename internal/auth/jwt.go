// Package auth guards the one privileged endpoint the indexer exposes:
// manually triggering a backfill. It is deliberately minimal — a single
// admin role, no refresh tokens, no per-user claims — because nothing else
// in the system needs authentication.
package auth

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	secret []byte
	once   sync.Once
)

// Init installs the signing secret. Called once at boot with the
// configured AdminJWTSecret; later calls are no-ops.
func Init(adminSecret string) {
	once.Do(func() {
		secret = []byte(adminSecret)
		if len(secret) == 0 {
			log.Println("[AUTH] WARNING: admin JWT secret is empty, admin endpoints are unprotected")
		}
	})
}

// AdminClaims is the only claim set this service issues.
type AdminClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// GenerateAdminToken issues a 12-hour admin token for subject (an operator
// identifier, logged on every admin action).
func GenerateAdminToken(subject string) (string, error) {
	claims := &AdminClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pnl-indexer",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateAdminToken parses and verifies an admin token.
func ValidateAdminToken(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid admin token")
}
