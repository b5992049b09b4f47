// Package events defines the change events published for activities.
package events

import (
	"time"

	"example.com/movimentoterra/internal/domain"
)

// Event types written to the outbox.
const (
	TypeAttivitaCreated = "attivita.created"
	TypeAttivitaUpdated = "attivita.updated"
	TypeAttivitaDeleted = "attivita.deleted"
)

// TopicAttivita carries every activity change event.
const TopicAttivita = "attivita_events"

// AttivitaChanged is the payload of every activity change event.
type AttivitaChanged struct {
	AttivitaID    int64     `json:"attivita_id"`
	UserID        string    `json:"user_id"`
	Date          string    `json:"date"`
	IsChecked     bool      `json:"is_checked"`
	Interazioni   int       `json:"interazioni"`
	TempoTotaleMs int64     `json:"tempo_totale_ms"`
	CantiereIDs   []int64   `json:"cantiere_ids"`
	ChangedBy     string    `json:"changed_by"`
	OccurredAt    time.Time `json:"occurred_at"`
	Version       string    `json:"version"`
}

// SchemaVersion is stamped on every payload.
const SchemaVersion = "v1"

// NewAttivitaChanged builds the payload describing the current state of an activity.
func NewAttivitaChanged(a domain.Attivita, changedBy string, at time.Time) AttivitaChanged {
	seen := make(map[int64]struct{}, len(a.Interazioni))
	sites := make([]int64, 0, len(a.Interazioni))
	for _, in := range a.Interazioni {
		if _, ok := seen[in.CantiereID]; ok {
			continue
		}
		seen[in.CantiereID] = struct{}{}
		sites = append(sites, in.CantiereID)
	}
	return AttivitaChanged{
		AttivitaID:    a.ID,
		UserID:        a.UserID,
		Date:          domain.FormatDate(a.Date),
		IsChecked:     a.IsChecked,
		Interazioni:   len(a.Interazioni),
		TempoTotaleMs: a.TempoTotale(),
		CantiereIDs:   sites,
		ChangedBy:     changedBy,
		OccurredAt:    at.UTC(),
		Version:       SchemaVersion,
	}
}
