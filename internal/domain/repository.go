package domain

import (
	"context"
	"time"
)

// ActivityFilter narrows activity listings. Zero values mean "no constraint".
type ActivityFilter struct {
	UserID string
	From   time.Time
	To     time.Time
	Limit  int
}

// ActivityRepository captures persistence operations on activities and their interactions.
// Every write is atomic: the row changes and the matching change event commit together.
type ActivityRepository interface {
	// CreateActivity inserts the activity and all of its interactions, filling in the generated IDs.
	CreateActivity(ctx context.Context, activity *Attivita) error
	GetActivity(ctx context.Context, id int64) (*Attivita, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Attivita, error)
	// UpdateActivity persists date, checked flag and update audit fields.
	UpdateActivity(ctx context.Context, activity Attivita) error
	DeleteActivity(ctx context.Context, activity Attivita) error
	// AddInteraction inserts the interaction and persists the parent's checked flag and audit fields.
	AddInteraction(ctx context.Context, parent Attivita, interaction *Interazione) error
	GetInteraction(ctx context.Context, id int64) (*Interazione, error)
	// DeleteInteraction removes the interaction and persists the parent's checked flag and audit fields.
	// It returns ErrLastInteraction, without writing, when the parent has no other interaction.
	DeleteInteraction(ctx context.Context, parent Attivita, interactionID int64) error
}

// RegistryRepository exposes sites, vehicles, equipment, transports and user assignments.
type RegistryRepository interface {
	// ListCantieri returns every site, or only those assigned to userID when it is not empty.
	ListCantieri(ctx context.Context, userID string) ([]Cantiere, error)
	SetCantiereStatus(ctx context.Context, id int64, open bool, closedAt *time.Time, by string, at time.Time) error
	ListMezzi(ctx context.Context, userID string) ([]Mezzo, error)
	ListAttrezzature(ctx context.Context) ([]Attrezzatura, error)
	ListTrasporti(ctx context.Context, from, to time.Time) ([]Trasporto, error)
	AssignCantiere(ctx context.Context, userID string, cantiereID int64, by string, at time.Time) error
	UnassignCantiere(ctx context.Context, userID string, cantiereID int64) error
	AssignMezzo(ctx context.Context, userID string, mezzoID int64, by string, at time.Time) error
	UnassignMezzo(ctx context.Context, userID string, mezzoID int64) error
}

// UserRepository reads the user directory.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
}

// UserModerator bans and unbans accounts at the session provider.
type UserModerator interface {
	BanUser(ctx context.Context, userID, reason string) error
	UnbanUser(ctx context.Context, userID string) error
}
