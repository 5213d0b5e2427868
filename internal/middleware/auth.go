package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey  contextKey = "user_id"
	EmailKey contextKey = "email"
	NameKey  contextKey = "name"
)

// TokenValidator is what we need from the identity provider. Declared here
// so the middleware stays decoupled from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (int64, string, string, error)
	// Returns userID, email, full name, error
}

type Auth struct {
	validator TokenValidator
}

func NewAuth(v TokenValidator) *Auth {
	return &Auth{validator: v}
}

// Handle resolves the caller's identity from a bearer token or, for
// websocket upgrades where headers are awkward, a token query parameter.
// Requests without a resolvable identity are refused before any session
// exists.
func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, email, name, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, EmailKey, email)
		ctx = context.WithValue(ctx, NameKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity pulls the authenticated caller out of a request context.
func Identity(ctx context.Context) (int64, string, string, bool) {
	userID, ok1 := ctx.Value(UserKey).(int64)
	email, ok2 := ctx.Value(EmailKey).(string)
	name, ok3 := ctx.Value(NameKey).(string)
	return userID, email, name, ok1 && ok2 && ok3
}
