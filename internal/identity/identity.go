// Package identity resolves the learner a request belongs to.
package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultUserID is used when a request names no learner.
	DefaultUserID = "default"
	// UserIDParam is the query parameter carrying the learner id.
	UserIDParam = "user_id"
	// UserIDHeader is an alternative to UserIDParam for non-browser clients.
	UserIDHeader = "X-Lexi-User-ID"
)

// MaxUserIDLength bounds a learner id, in characters.
const MaxUserIDLength = 128

// ErrInvalidUserID is returned for ids that are too long or not printable text.
var ErrInvalidUserID = errors.New("invalid user id")

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the learner id from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return DefaultUserID
}

// WithUserID stores a learner id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Sanitize validates a learner id. Any printable UTF-8 text up to
// MaxUserIDLength characters is accepted. Blank ids map to DefaultUserID.
func Sanitize(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultUserID, nil
	}
	if !utf8.ValidString(id) || utf8.RuneCountInString(id) > MaxUserIDLength {
		return "", ErrInvalidUserID
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return "", ErrInvalidUserID
		}
	}
	return id, nil
}

// FromRequest returns the raw learner id named by r and whether one was
// supplied at all.
func FromRequest(r *http.Request) (string, bool) {
	q := r.URL.Query()
	if q.Has(UserIDParam) {
		return q.Get(UserIDParam), true
	}
	if v := r.Header.Get(UserIDHeader); v != "" {
		return v, true
	}
	return "", false
}

// Middleware injects the learner id into the request context. Requests with
// an unusable id are rejected.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := FromRequest(r)
			userID, err := Sanitize(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
