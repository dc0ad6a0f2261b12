package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/obs"
)

var errNoToken = errors.New("auth: token missing")

const (
	DefaultSessionHeader = "X-Session-ID"
	DefaultSessionCookie = "sid"
)

// TokenParser resolves an access token to a user id.
type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

// Middleware attaches the caller's identity and storefront session to the request context.
type Middleware struct {
	Tokens        TokenParser
	AccessCookie  string
	SessionHeader string
	SessionCookie string
	SecureCookie  bool
}

// Authenticate attaches the user id when a valid token is present. Invalid tokens are
// ignored so anonymous carts keep working.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.UserID(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			if common.WriteAppError(w, err) {
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Session resolves the storefront session id from the header or cookie, issuing a new
// cookie when the request carries none.
func (m Middleware) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := m.sessionID(r)
		if sid == "" {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     m.sessionCookie(),
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   m.SecureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}
		obs.Annotate(r.Context(), "session_id", sid)
		next.ServeHTTP(w, r.WithContext(common.WithSessionID(r.Context(), sid)))
	})
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	if m.Tokens == nil {
		return r.Context(), errors.New("auth: token parser not configured")
	}
	token := m.extractToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	userID, err := m.Tokens.ParseAccessToken(token)
	if err != nil {
		return r.Context(), err
	}
	obs.Annotate(r.Context(), "user_id", userID)
	return common.WithUserID(r.Context(), userID), nil
}

func (m Middleware) extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if m.AccessCookie != "" {
		if cookie, err := r.Cookie(m.AccessCookie); err == nil {
			if value := strings.TrimSpace(cookie.Value); value != "" {
				return value
			}
		}
	}
	return ""
}

func (m Middleware) sessionID(r *http.Request) string {
	header := m.SessionHeader
	if header == "" {
		header = DefaultSessionHeader
	}
	if sid := strings.TrimSpace(r.Header.Get(header)); validSessionID(sid) {
		return sid
	}
	if cookie, err := r.Cookie(m.sessionCookie()); err == nil {
		if sid := strings.TrimSpace(cookie.Value); validSessionID(sid) {
			return sid
		}
	}
	return ""
}

func (m Middleware) sessionCookie() string {
	if m.SessionCookie != "" {
		return m.SessionCookie
	}
	return DefaultSessionCookie
}

func validSessionID(sid string) bool {
	return sid != "" && len(sid) <= 128
}
