package domain

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/cache"
)

// UserService lists accounts and forwards moderation requests to the session provider.
type UserService struct {
	repo      UserRepository
	moderator UserModerator
	settings
}

// NewUserService constructs a UserService.
func NewUserService(repo UserRepository, moderator UserModerator, opts ...Option) *UserService {
	return &UserService{repo: repo, moderator: moderator, settings: newSettings(opts)}
}

// List returns every user. Admin only.
func (s *UserService) List(ctx context.Context, actor Actor) ([]User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := cache.Remember(ctx, s.cache, cache.Key{Kind: "users"}, s.cacheTTL, []string{cache.TagUsers},
		func(ctx context.Context) ([]User, error) {
			return s.repo.ListUsers(ctx)
		})
	if err != nil {
		s.logger.Error("list users failed", zap.Error(err))
		return nil, ErrLoadFailed
	}
	return users, nil
}

// Ban blocks a user at the session provider. Admin only.
func (s *UserService) Ban(ctx context.Context, actor Actor, userID, reason string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fieldError("userId", "campo obbligatorio")
	}
	if err := s.moderator.BanUser(ctx, userID, strings.TrimSpace(reason)); err != nil {
		return s.moderationFailed("ban user failed", userID, err)
	}
	s.invalidate(ctx, cache.TagUsers, cache.UserTag(userID))
	return nil
}

// Unban lifts a ban at the session provider. Admin only.
func (s *UserService) Unban(ctx context.Context, actor Actor, userID string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fieldError("userId", "campo obbligatorio")
	}
	if err := s.moderator.UnbanUser(ctx, userID); err != nil {
		return s.moderationFailed("unban user failed", userID, err)
	}
	s.invalidate(ctx, cache.TagUsers, cache.UserTag(userID))
	return nil
}

func (s *UserService) moderationFailed(msg, userID string, err error) error {
	var refusal *RefusalError
	if errors.As(err, &refusal) {
		s.logger.Info(msg, zap.String("user_id", userID), zap.String("code", refusal.Code))
		return refusal
	}
	s.logger.Error(msg, zap.String("user_id", userID), zap.Error(err))
	return ErrUpdateFailed
}
