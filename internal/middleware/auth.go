// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// RoleKey is the context key for the caller's role claim.
	RoleKey ContextKey = "role"
	// ExpiresKey is the context key for the token's expiry time.
	ExpiresKey ContextKey = "expires"
)

// Claims represents JWT claims. The subject is the user's email.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Auth creates JWT authentication middleware. The bearer token is read from
// the Authorization header, or from the access_token query parameter for
// clients that cannot set headers (EventSource, WebSocket). The caller's
// email and the raw token are put in the context for the gateway.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				unauthorized(w, "invalid token")
				return
			}

			ctx := gateway.WithActor(r.Context(), claims.Subject)
			ctx = gateway.WithToken(ctx, tokenString)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			if claims.ExpiresAt != nil {
				ctx = context.WithValue(ctx, ExpiresKey, claims.ExpiresAt.Time)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
		return "", errors.New("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","redirect":"` + PublicRedirect + `"}`))
}

// PublicRedirect is where unauthenticated callers are sent.
const PublicRedirect = "/api/v1/public/map"

// IssueToken signs an HS256 token for email with the given role.
func IssueToken(jwtSecret, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// GetActor gets the caller's email from context.
func GetActor(ctx context.Context) string {
	return gateway.ActorFrom(ctx)
}

// GetRole gets the caller's role claim from context.
func GetRole(ctx context.Context) string {
	if v := ctx.Value(RoleKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetExpiry gets the expiry of the caller's token. Tokens without an exp
// claim report false.
func GetExpiry(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ExpiresKey).(time.Time)
	return t, ok
}

// RequireRole creates middleware that requires a specific role claim.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRole(r.Context()) != role {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
