package auth

import "context"

type contextKey string

const sessionKey contextKey = "movimentoterra-session"

// WithSession stores the session on the context.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// FromContext retrieves the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)
	return session, ok && session != nil
}
