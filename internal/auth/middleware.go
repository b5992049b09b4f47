package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// SessionCookie is the cookie set by the web UI after login.
const SessionCookie = "session_token"

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware resolves the session from the Authorization header or the session cookie.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware that skips health and metrics probes.
func NewMiddleware(cfg Config) Middleware {
	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.parseRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Session, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return nil, ErrInvalidToken
		}
		return Parse(header[len("Bearer "):], m.Config)
	}
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrMissingToken
	}
	return Parse(cookie.Value, m.Config)
}
