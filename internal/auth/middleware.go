package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// ErrEmptyToken is returned for a missing or blank bearer token.
var ErrEmptyToken = errors.New("token is empty")

// Validator resolves a bearer token to the user's email.
type Validator interface {
	ValidateToken(token string) (string, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(token string) (string, error)

func (f ValidatorFunc) ValidateToken(token string) (string, error) {
	return f(token)
}

// DevValidator accepts any non-empty token as DefaultEmail. With
// AllowEmailTokens, "email:user@example.com" authenticates as that address.
// Identity providers plug in through Validator.
type DevValidator struct {
	DefaultEmail     string
	AllowEmailTokens bool
}

func (v DevValidator) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || token == "email:" {
		return "", ErrEmptyToken
	}

	if v.AllowEmailTokens && strings.HasPrefix(token, "email:") {
		return strings.TrimPrefix(token, "email:"), nil
	}

	return v.DefaultEmail, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive (RFC 7235).
func BearerToken(r *http.Request) (string, bool) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}

// RequireAuth checks for a valid bearer token and stores the user's email in
// the request context. Returns 401 Unauthorized if authentication fails.
func RequireAuth(validator Validator, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				log.WithField("path", r.URL.Path).Debug("missing or malformed Authorization header")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userEmail, err := validator.ValidateToken(token)
			if err != nil {
				log.WithError(err).Warn("token validation failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserEmailKey, userEmail)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}
