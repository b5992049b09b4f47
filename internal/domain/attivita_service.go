package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/cache"
	"example.com/movimentoterra/internal/observability"
)

// ActivityService orchestrates activity and interaction workflows.
type ActivityService struct {
	repo ActivityRepository
	settings
}

// NewActivityService constructs an ActivityService.
func NewActivityService(repo ActivityRepository, opts ...Option) *ActivityService {
	return &ActivityService{repo: repo, settings: newSettings(opts)}
}

// Create validates the input, applies the edit window guard and stores the activity
// together with its interactions in a single atomic write.
func (s *ActivityService) Create(ctx context.Context, actor Actor, input CreateAttivitaInput) (*Attivita, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.authorizeInput(actor, input.Date, now); err != nil {
		return nil, err
	}
	date, err := ParseDate(input.Date, s.loc)
	if err != nil {
		return nil, fieldError("date", "data non valida")
	}

	owner := actor.UserID
	if actor.IsAdmin() && input.UserID != "" {
		owner = input.UserID
	}

	audit := Audit{CreatedBy: actor.UserID, CreatedAt: now, UpdatedBy: actor.UserID, UpdatedAt: now}
	activity := &Attivita{
		Date:        date,
		UserID:      owner,
		IsChecked:   false,
		Audit:       audit,
		Interazioni: make([]Interazione, 0, len(input.Interazioni)),
	}
	for _, in := range input.Interazioni {
		activity.Interazioni = append(activity.Interazioni, newInteraction(in, audit))
	}

	if err := s.repo.CreateActivity(ctx, activity); err != nil {
		s.logger.Error("create attivita failed",
			zap.String("user_id", owner),
			zap.String("date", FormatDate(date)),
			zap.Int("interazioni", len(activity.Interazioni)),
			zap.Error(err))
		return nil, ErrCreateFailed
	}

	observability.RecordActivityPersisted(now)
	s.invalidateActivity(ctx, owner)
	return activity, nil
}

// Get returns one activity. Non-admins only see their own.
func (s *ActivityService) Get(ctx context.Context, actor Actor, id int64) (*Attivita, error) {
	activity, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		s.logger.Error("get attivita failed", zap.Int64("attivita_id", id), zap.Error(err))
		return nil, ErrLoadFailed
	}
	if activity == nil || (!actor.IsAdmin() && activity.UserID != actor.UserID) {
		return nil, ErrNotFound
	}
	return activity, nil
}

// List returns activities matching the filter. Non-admins are always restricted to their own.
func (s *ActivityService) List(ctx context.Context, actor Actor, filter ActivityFilter) ([]Attivita, error) {
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	tags := []string{cache.TagAttivita, cache.TagInterazioni}
	scope := "all"
	if filter.UserID != "" {
		scope = "user:" + filter.UserID
		tags = append(tags, cache.UserTag(filter.UserID))
	}
	key := cache.Key{Kind: "attivita", Scope: fmt.Sprintf("%s:%s:%s:%d", scope, formatOptionalDate(filter.From), formatOptionalDate(filter.To), filter.Limit)}

	activities, err := cache.Remember(ctx, s.cache, key, s.cacheTTL, tags, func(ctx context.Context) ([]Attivita, error) {
		return s.repo.ListActivities(ctx, filter)
	})
	if err != nil {
		s.logger.Error("list attivita failed", zap.String("user_id", filter.UserID), zap.Error(err))
		return nil, ErrLoadFailed
	}
	return activities, nil
}

// UpdateDate moves an activity to another day. Both the current and the new date must
// be inside the actor's edit window.
func (s *ActivityService) UpdateDate(ctx context.Context, actor Actor, id int64, input UpdateAttivitaInput) (*Attivita, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	activity, err := s.loadForMutation(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.authorize(actor, activity.Date, now); err != nil {
		return nil, err
	}
	if err := s.authorizeInput(actor, input.Date, now); err != nil {
		return nil, err
	}
	date, err := ParseDate(input.Date, s.loc)
	if err != nil {
		return nil, fieldError("date", "data non valida")
	}

	activity.Date = date
	s.touch(actor, activity, now)
	if err := s.repo.UpdateActivity(ctx, *activity); err != nil {
		s.logger.Error("update attivita failed", zap.Int64("attivita_id", id), zap.Error(err))
		return nil, ErrUpdateFailed
	}
	s.invalidateActivity(ctx, activity.UserID)
	return activity, nil
}

// Delete removes an activity and its interactions.
func (s *ActivityService) Delete(ctx context.Context, actor Actor, id int64) error {
	activity, err := s.loadForMutation(ctx, actor, id)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.authorize(actor, activity.Date, now); err != nil {
		return err
	}
	activity.UpdatedBy, activity.UpdatedAt = actor.UserID, now
	if err := s.repo.DeleteActivity(ctx, *activity); err != nil {
		s.logger.Error("delete attivita failed", zap.Int64("attivita_id", id), zap.Error(err))
		return ErrUpdateFailed
	}
	s.invalidateActivity(ctx, activity.UserID)
	return nil
}

// AddInteraction appends a time entry to an existing activity.
func (s *ActivityService) AddInteraction(ctx context.Context, actor Actor, attivitaID int64, input InteractionInput) (*Interazione, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	activity, err := s.loadForMutation(ctx, actor, attivitaID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.authorize(actor, activity.Date, now); err != nil {
		return nil, err
	}

	interaction := newInteraction(input, Audit{CreatedBy: actor.UserID, CreatedAt: now, UpdatedBy: actor.UserID, UpdatedAt: now})
	interaction.AttivitaID = activity.ID
	s.touch(actor, activity, now)
	if err := s.repo.AddInteraction(ctx, *activity, &interaction); err != nil {
		s.logger.Error("add interazione failed", zap.Int64("attivita_id", attivitaID), zap.Error(err))
		return nil, ErrUpdateFailed
	}
	s.invalidateActivity(ctx, activity.UserID)
	return &interaction, nil
}

// RemoveInteraction deletes a time entry. An activity keeps at least one interaction.
func (s *ActivityService) RemoveInteraction(ctx context.Context, actor Actor, interactionID int64) error {
	interaction, err := s.repo.GetInteraction(ctx, interactionID)
	if err != nil {
		s.logger.Error("get interazione failed", zap.Int64("interazione_id", interactionID), zap.Error(err))
		return ErrUpdateFailed
	}
	if interaction == nil {
		return ErrNotFound
	}
	activity, err := s.loadForMutation(ctx, actor, interaction.AttivitaID)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.authorize(actor, activity.Date, now); err != nil {
		return err
	}
	if len(activity.Interazioni) <= 1 {
		return ErrLastInteraction
	}

	s.touch(actor, activity, now)
	if err := s.repo.DeleteInteraction(ctx, *activity, interactionID); err != nil {
		// A concurrent removal may have taken the activity down to one interaction since it was loaded.
		if errors.Is(err, ErrLastInteraction) || errors.Is(err, ErrNotFound) {
			return err
		}
		s.logger.Error("delete interazione failed", zap.Int64("interazione_id", interactionID), zap.Error(err))
		return ErrUpdateFailed
	}
	s.invalidateActivity(ctx, activity.UserID)
	return nil
}

// SetChecked marks an activity as reviewed or not. Admin only.
func (s *ActivityService) SetChecked(ctx context.Context, actor Actor, id int64, checked bool) (*Attivita, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	activity, err := s.loadForMutation(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	activity.IsChecked = checked
	activity.UpdatedBy, activity.UpdatedAt = actor.UserID, s.now()
	if err := s.repo.UpdateActivity(ctx, *activity); err != nil {
		s.logger.Error("set attivita checked failed", zap.Int64("attivita_id", id), zap.Error(err))
		return nil, ErrUpdateFailed
	}
	s.invalidateActivity(ctx, activity.UserID)
	return activity, nil
}

func (s *ActivityService) loadForMutation(ctx context.Context, actor Actor, id int64) (*Attivita, error) {
	activity, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		s.logger.Error("load attivita failed", zap.Int64("attivita_id", id), zap.Error(err))
		return nil, ErrUpdateFailed
	}
	if activity == nil {
		return nil, ErrNotFound
	}
	if !actor.IsAdmin() && activity.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	return activity, nil
}

func (s *ActivityService) authorize(actor Actor, date, now time.Time) error {
	if err := AuthorizeEdit(actor, date, now, s.loc); err != nil {
		observability.RecordGuardRejection()
		return err
	}
	return nil
}

func (s *ActivityService) authorizeInput(actor Actor, raw string, now time.Time) error {
	if !actor.IsAdmin() {
		if _, err := ParseDate(raw, s.loc); err != nil {
			s.logger.Warn("edit window guard skipped for unparseable date", zap.String("user_id", actor.UserID), zap.String("date", raw))
		}
	}
	if err := AuthorizeEditInput(actor, raw, now, s.loc); err != nil {
		observability.RecordGuardRejection()
		return err
	}
	return nil
}

// touch stamps the update audit fields; a non-admin change always sends the activity back to review.
func (s *ActivityService) touch(actor Actor, activity *Attivita, now time.Time) {
	if !actor.IsAdmin() {
		activity.IsChecked = false
	}
	activity.UpdatedBy = actor.UserID
	activity.UpdatedAt = now
}

func (s *ActivityService) invalidateActivity(ctx context.Context, owner string) {
	s.invalidate(ctx, cache.TagAttivita, cache.TagInterazioni, cache.TagCantieri, cache.UserTag(owner))
}

func newInteraction(in InteractionInput, audit Audit) Interazione {
	var mezzoID *int64
	if in.MezzoID != nil {
		id := *in.MezzoID
		mezzoID = &id
	}
	return Interazione{
		CantiereID:  in.CantiereID,
		MezzoID:     mezzoID,
		Ore:         in.Ore,
		Minuti:      in.Minuti,
		TempoTotale: ComputeTempoTotale(in.Ore, in.Minuti),
		Audit:       audit,
	}
}

func formatOptionalDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return FormatDate(t)
}

// IsUserFacing reports whether err carries a message that is safe to show verbatim.
func IsUserFacing(err error) bool {
	var validation *ValidationError
	var refusal *RefusalError
	switch {
	case errors.As(err, &validation), errors.As(err, &refusal):
		return true
	case errors.Is(err, ErrEditWindow), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrLastInteraction), errors.Is(err, ErrCreateFailed), errors.Is(err, ErrUpdateFailed),
		errors.Is(err, ErrLoadFailed):
		return true
	}
	return false
}
