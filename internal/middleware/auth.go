package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/helixcare/imaging-gateway/internal/models"
	"github.com/rs/zerolog/log"
)

type contextKey string

const UserKey contextKey = "user"

// Auth validates the bearer token and puts the acting user on the request
// context. Tokens are issued by the EHR auth service; this gateway only
// verifies them.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				log.Warn().Str("path", r.URL.Path).Msg("Missing Authorization header")
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")
			if tokenStr == header {
				http.Error(w, "Authorization header must use Bearer scheme", http.StatusUnauthorized)
				return
			}

			claims := &models.JWTClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Warn().Err(err).Msg("Invalid bearer token")
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			user := models.UserContext{
				UserID:      claims.UserID,
				Role:        claims.Role,
				Permissions: claims.Permissions,
			}
			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the acting user from context
func GetUser(ctx context.Context) (models.UserContext, bool) {
	user, ok := ctx.Value(UserKey).(models.UserContext)
	return user, ok
}
