// Package auth validates session tokens and exposes the acting user to handlers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the application.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Session is the normalized view of a validated session token.
type Session struct {
	UserID    string
	Name      string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// ErrMissingToken is returned when neither the Authorization header nor the session cookie is present.
var ErrMissingToken = errors.New("missing session token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid session token")

// IsAdmin reports whether the session carries the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Parse validates a JWT and returns the session it describes.
func Parse(token string, cfg Config) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrInvalidToken
	}
	role := normalizeRole(claims["role"])
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	session := &Session{
		UserID: subject,
		Name:   name,
		Email:  email,
		Role:   role,
	}
	if exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}

// Issue signs a session token. It is used by the admin CLI and by tests.
func Issue(session Session, cfg Config, ttl time.Duration) (string, error) {
	if strings.TrimSpace(session.UserID) == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  session.UserID,
		"role": normalizeRole(session.Role),
		"iss":  cfg.Issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if session.Name != "" {
		claims["name"] = session.Name
	}
	if session.Email != "" {
		claims["email"] = session.Email
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// Unknown or missing roles degrade to the least privileged one.
func normalizeRole(value interface{}) string {
	role, _ := value.(string)
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}
