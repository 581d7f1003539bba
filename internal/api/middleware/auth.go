package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/api/response"
	"github.com/kiranshivaraju/platewise/internal/store"
	"github.com/kiranshivaraju/platewise/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenPrefixLen = 8

	// SessionCookie is the cookie the browser client carries its session token in.
	SessionCookie = "session_token"
)

// SessionStore is the subset of the store the session gate needs.
type SessionStore interface {
	GetSessionsByPrefix(ctx context.Context, prefix string) ([]*models.Session, error)
	UpdateSessionLastUsed(ctx context.Context, id uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Auth provides session authentication middleware.
type Auth struct {
	store SessionStore
	now   func() time.Time
}

// NewAuth creates a new Auth middleware.
func NewAuth(s SessionStore) *Auth {
	return &Auth{store: s, now: time.Now}
}

// Authenticate validates the session token from the Authorization header or
// the session cookie and sets user_id and token_prefix in the request context.
// Users who have not finished registration are refused with 403.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing session token", nil)
			return
		}

		if len(token) < tokenPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Invalid session token", nil)
			return
		}

		prefix := token[:tokenPrefixLen]

		sessions, err := a.store.GetSessionsByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("session lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}

		// Find matching session by bcrypt comparison
		var session *models.Session
		for _, s := range sessions {
			if bcrypt.CompareHashAndPassword([]byte(s.TokenHash), []byte(token)) == nil {
				session = s
				break
			}
		}

		if session == nil {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Invalid session token", nil)
			return
		}
		if session.Expired(a.now()) {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Session expired", nil)
			return
		}

		user, err := a.store.GetUser(r.Context(), session.UserID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Unknown user", nil)
			return
		}
		if err != nil {
			slog.Error("user lookup failed", "user_id", session.UserID, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}
		if !user.IsRegistered {
			response.Error(w, http.StatusForbidden,
				"REGISTRATION_REQUIRED", "Complete registration before using this endpoint", nil)
			return
		}

		// Update last_used_at async
		go a.store.UpdateSessionLastUsed(context.Background(), session.ID)

		ctx := SetUserID(r.Context(), user.ID)
		ctx = setTokenPrefix(ctx, prefix)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
