package memory

import (
	"context"
	"errors"

	"example.com/movimentoterra/internal/domain"
)

// Moderator bans users directly in the in-memory directory, standing in for the session provider.
type Moderator struct {
	Repo *Repository
}

// BanUser implements domain.UserModerator.
func (m Moderator) BanUser(ctx context.Context, userID, reason string) error {
	return m.set(userID, true, reason)
}

// UnbanUser implements domain.UserModerator.
func (m Moderator) UnbanUser(ctx context.Context, userID string) error {
	return m.set(userID, false, "")
}

func (m Moderator) set(userID string, banned bool, reason string) error {
	err := m.Repo.SetBanned(userID, banned, reason)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.RefusalError{Code: "USER_NOT_FOUND", Message: "Utente non trovato"}
	}
	return err
}
