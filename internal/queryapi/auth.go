package queryapi

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims is the dashboard token payload. Projects lists the project IDs the
// token may read; "*" grants all of them.
type Claims struct {
	Projects []string `json:"projects"`
	jwt.RegisteredClaims
}

// AllowsProject reports whether the token may read projectID.
func (c *Claims) AllowsProject(projectID string) bool {
	for _, p := range c.Projects {
		if p == "*" || p == projectID {
			return true
		}
	}
	return false
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*Claims, error)
}

// RS256Validator validates tokens against the issuer's public key. The query
// API never signs tokens; that stays with the identity service.
type RS256Validator struct {
	publicKey *rsa.PublicKey
}

func NewRS256Validator(publicKeyPEM []byte) (*RS256Validator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}
	return &RS256Validator{publicKey: key}, nil
}

func (v *RS256Validator) VerifyToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type ctxKey int

const claimsKey ctxKey = 0

// AuthMiddleware guards the protected perimeter with a bearer token.
func AuthMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			claims, err := v.VerifyToken(tokenStr)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the verified claims set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}
