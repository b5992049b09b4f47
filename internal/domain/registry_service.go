package domain

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/cache"
)

// RegistryService serves sites, vehicles, equipment and transports, and manages user assignments.
type RegistryService struct {
	repo RegistryRepository
	settings
}

// NewRegistryService constructs a RegistryService.
func NewRegistryService(repo RegistryRepository, opts ...Option) *RegistryService {
	return &RegistryService{repo: repo, settings: newSettings(opts)}
}

// Cantieri lists sites. Non-admins only see the sites assigned to them.
func (s *RegistryService) Cantieri(ctx context.Context, actor Actor) ([]Cantiere, error) {
	userID, scope, tags := s.scoped(actor, cache.TagCantieri)
	out, err := cache.Remember(ctx, s.cache, cache.Key{Kind: "cantieri", Scope: scope}, s.cacheTTL, tags,
		func(ctx context.Context) ([]Cantiere, error) {
			return s.repo.ListCantieri(ctx, userID)
		})
	if err != nil {
		s.logger.Error("list cantieri failed", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, ErrLoadFailed
	}
	return out, nil
}

// Mezzi lists vehicles. Non-admins only see the vehicles assigned to them.
func (s *RegistryService) Mezzi(ctx context.Context, actor Actor) ([]Mezzo, error) {
	userID, scope, tags := s.scoped(actor, cache.TagMezzi)
	out, err := cache.Remember(ctx, s.cache, cache.Key{Kind: "mezzi", Scope: scope}, s.cacheTTL, tags,
		func(ctx context.Context) ([]Mezzo, error) {
			return s.repo.ListMezzi(ctx, userID)
		})
	if err != nil {
		s.logger.Error("list mezzi failed", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, ErrLoadFailed
	}
	return out, nil
}

// Attrezzature lists every piece of equipment.
func (s *RegistryService) Attrezzature(ctx context.Context, _ Actor) ([]Attrezzatura, error) {
	out, err := cache.Remember(ctx, s.cache, cache.Key{Kind: "attrezzature"}, s.cacheTTL,
		[]string{cache.TagAttrezzature, cache.TagCantieri},
		func(ctx context.Context) ([]Attrezzatura, error) {
			return s.repo.ListAttrezzature(ctx)
		})
	if err != nil {
		s.logger.Error("list attrezzature failed", zap.Error(err))
		return nil, ErrLoadFailed
	}
	return out, nil
}

// Trasporti lists transports dated inside [from, to]. Zero bounds are open.
func (s *RegistryService) Trasporti(ctx context.Context, _ Actor, from, to time.Time) ([]Trasporto, error) {
	key := cache.Key{Kind: "trasporti", Scope: formatOptionalDate(from) + ":" + formatOptionalDate(to)}
	out, err := cache.Remember(ctx, s.cache, key, s.cacheTTL,
		[]string{cache.TagTrasporti, cache.TagMezzi, cache.TagCantieri},
		func(ctx context.Context) ([]Trasporto, error) {
			return s.repo.ListTrasporti(ctx, from, to)
		})
	if err != nil {
		s.logger.Error("list trasporti failed", zap.Error(err))
		return nil, ErrLoadFailed
	}
	return out, nil
}

// SetCantiereStatus opens or closes a site. Closing stamps closed_at, reopening clears it.
func (s *RegistryService) SetCantiereStatus(ctx context.Context, actor Actor, id int64, open bool) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	now := s.now()
	var closedAt *time.Time
	if !open {
		closedAt = &now
	}
	if err := s.repo.SetCantiereStatus(ctx, id, open, closedAt, actor.UserID, now); err != nil {
		return s.writeFailed("set cantiere status failed", err, zap.Int64("cantiere_id", id))
	}
	s.invalidate(ctx, cache.TagCantieri)
	return nil
}

// AssignCantiere links a user to a site. Assigning twice is a no-op.
func (s *RegistryService) AssignCantiere(ctx context.Context, actor Actor, userID string, cantiereID int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.repo.AssignCantiere(ctx, userID, cantiereID, actor.UserID, s.now()); err != nil {
		return s.writeFailed("assign cantiere failed", err, zap.String("user_id", userID), zap.Int64("cantiere_id", cantiereID))
	}
	s.invalidate(ctx, cache.TagCantieri, cache.UserTag(userID))
	return nil
}

// UnassignCantiere removes a user from a site. Removing a missing link is a no-op.
func (s *RegistryService) UnassignCantiere(ctx context.Context, actor Actor, userID string, cantiereID int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.repo.UnassignCantiere(ctx, userID, cantiereID); err != nil {
		return s.writeFailed("unassign cantiere failed", err, zap.String("user_id", userID), zap.Int64("cantiere_id", cantiereID))
	}
	s.invalidate(ctx, cache.TagCantieri, cache.UserTag(userID))
	return nil
}

// AssignMezzo links a user to a vehicle. Assigning twice is a no-op.
func (s *RegistryService) AssignMezzo(ctx context.Context, actor Actor, userID string, mezzoID int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.repo.AssignMezzo(ctx, userID, mezzoID, actor.UserID, s.now()); err != nil {
		return s.writeFailed("assign mezzo failed", err, zap.String("user_id", userID), zap.Int64("mezzo_id", mezzoID))
	}
	s.invalidate(ctx, cache.TagMezzi, cache.UserTag(userID))
	return nil
}

// UnassignMezzo removes a user from a vehicle. Removing a missing link is a no-op.
func (s *RegistryService) UnassignMezzo(ctx context.Context, actor Actor, userID string, mezzoID int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.repo.UnassignMezzo(ctx, userID, mezzoID); err != nil {
		return s.writeFailed("unassign mezzo failed", err, zap.String("user_id", userID), zap.Int64("mezzo_id", mezzoID))
	}
	s.invalidate(ctx, cache.TagMezzi, cache.UserTag(userID))
	return nil
}

func (s *RegistryService) scoped(actor Actor, tag string) (userID, scope string, tags []string) {
	if actor.IsAdmin() {
		return "", "all", []string{tag}
	}
	return actor.UserID, "user:" + actor.UserID, []string{tag, cache.UserTag(actor.UserID)}
}

// writeFailed passes ErrNotFound through and hides every other repository error.
func (s *RegistryService) writeFailed(msg string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	return ErrUpdateFailed
}
