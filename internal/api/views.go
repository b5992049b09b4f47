package api

import (
	"time"

	"example.com/movimentoterra/internal/domain"
)

// DurationView presents a stored duration both raw and as hours plus minutes.
type DurationView struct {
	Millis  int64 `json:"ms"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
}

func toDurationView(total int64) DurationView {
	hours, minutes := domain.SplitDuration(total)
	return DurationView{Millis: total, Hours: hours, Minutes: minutes}
}

// InterazioneView exposes one time entry.
type InterazioneView struct {
	ID          int64        `json:"id"`
	AttivitaID  int64        `json:"attivitaId"`
	CantiereID  int64        `json:"cantiereId"`
	MezzoID     *int64       `json:"mezzoId"`
	Ore         int          `json:"ore"`
	Minuti      int          `json:"minuti"`
	TempoTotale DurationView `json:"tempoTotale"`
	CreatedBy   string       `json:"createdBy"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedBy   string       `json:"updatedBy"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// AttivitaView exposes an activity with its interactions.
type AttivitaView struct {
	ID          int64             `json:"id"`
	Date        string            `json:"date"`
	UserID      string            `json:"userId"`
	UserName    string            `json:"userName,omitempty"`
	IsChecked   bool              `json:"isChecked"`
	TempoTotale DurationView      `json:"tempoTotale"`
	Interazioni []InterazioneView `json:"interazioni"`
	CreatedBy   string            `json:"createdBy"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedBy   string            `json:"updatedBy"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func toInterazioneView(in domain.Interazione) InterazioneView {
	return InterazioneView{
		ID:          in.ID,
		AttivitaID:  in.AttivitaID,
		CantiereID:  in.CantiereID,
		MezzoID:     in.MezzoID,
		Ore:         in.Ore,
		Minuti:      in.Minuti,
		TempoTotale: toDurationView(in.TempoTotale),
		CreatedBy:   in.CreatedBy,
		CreatedAt:   in.CreatedAt,
		UpdatedBy:   in.UpdatedBy,
		UpdatedAt:   in.UpdatedAt,
	}
}

func toAttivitaView(a domain.Attivita) AttivitaView {
	view := AttivitaView{
		ID:          a.ID,
		Date:        domain.FormatDate(a.Date),
		UserID:      a.UserID,
		UserName:    a.UserName,
		IsChecked:   a.IsChecked,
		TempoTotale: toDurationView(a.TempoTotale()),
		Interazioni: make([]InterazioneView, 0, len(a.Interazioni)),
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
		UpdatedBy:   a.UpdatedBy,
		UpdatedAt:   a.UpdatedAt,
	}
	for _, in := range a.Interazioni {
		view.Interazioni = append(view.Interazioni, toInterazioneView(in))
	}
	return view
}

// ActivityStatsView is one row of the dashboard.
type ActivityStatsView struct {
	AttivitaID    int64        `json:"attivitaId"`
	Date          string       `json:"date"`
	UserID        string       `json:"userId"`
	UserName      string       `json:"userName,omitempty"`
	IsChecked     bool         `json:"isChecked"`
	CantieriCount int          `json:"cantieriCount"`
	MezziCount    int          `json:"mezziCount"`
	TempoTotale   DurationView `json:"tempoTotale"`
}

// DashboardView is the response of GET /api/dashboard.
type DashboardView struct {
	Days          int                 `json:"days"`
	From          string              `json:"from"`
	To            string              `json:"to"`
	AttivitaCount int                 `json:"attivitaCount"`
	CantieriCount int                 `json:"cantieriCount"`
	MezziCount    int                 `json:"mezziCount"`
	TempoTotale   DurationView        `json:"tempoTotale"`
	Attivita      []ActivityStatsView `json:"attivita"`
}

func toDashboardView(s domain.DashboardSummary) DashboardView {
	view := DashboardView{
		Days:          s.Days,
		From:          domain.FormatDate(s.From),
		To:            domain.FormatDate(s.To),
		AttivitaCount: s.AttivitaCount,
		CantieriCount: s.CantieriCount,
		MezziCount:    s.MezziCount,
		TempoTotale:   toDurationView(s.TempoTotale),
		Attivita:      make([]ActivityStatsView, 0, len(s.Attivita)),
	}
	for _, a := range s.Attivita {
		view.Attivita = append(view.Attivita, ActivityStatsView{
			AttivitaID:    a.AttivitaID,
			Date:          domain.FormatDate(a.Date),
			UserID:        a.UserID,
			UserName:      a.UserName,
			IsChecked:     a.IsChecked,
			CantieriCount: a.CantieriCount,
			MezziCount:    a.MezziCount,
			TempoTotale:   toDurationView(a.TempoTotale),
		})
	}
	return view
}

// UserRefView is the compact user projection.
type UserRefView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func toUserRefs(refs []domain.UserRef) []UserRefView {
	out := make([]UserRefView, 0, len(refs))
	for _, ref := range refs {
		out = append(out, UserRefView{ID: ref.ID, Name: ref.Name})
	}
	return out
}

// CantiereView exposes a site.
type CantiereView struct {
	ID          int64         `json:"id"`
	Nome        string        `json:"nome"`
	Descrizione string        `json:"descrizione"`
	Open        bool          `json:"open"`
	ClosedAt    *time.Time    `json:"closedAt"`
	Users       []UserRefView `json:"users"`
}

// MezzoView exposes a vehicle.
type MezzoView struct {
	ID                int64         `json:"id"`
	Nome              string        `json:"nome"`
	Descrizione       string        `json:"descrizione"`
	RequiresLicenseC  bool          `json:"requiresLicenseC"`
	RequiresLicenseCE bool          `json:"requiresLicenseCE"`
	Users             []UserRefView `json:"users"`
}

// AttrezzaturaView exposes a piece of equipment.
type AttrezzaturaView struct {
	ID          int64  `json:"id"`
	Nome        string `json:"nome"`
	Descrizione string `json:"descrizione"`
	CantiereID  *int64 `json:"cantiereId"`
}

// TrasportoView exposes a transport.
type TrasportoView struct {
	ID             int64  `json:"id"`
	MezzoID        int64  `json:"mezzoId"`
	AttrezzaturaID *int64 `json:"attrezzaturaId"`
	FromCantiereID int64  `json:"fromCantiereId"`
	ToCantiereID   int64  `json:"toCantiereId"`
	Date           string `json:"date"`
	UserID         string `json:"userId"`
}

// UserView exposes a user account.
type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Banned    bool      `json:"banned"`
	BanReason string    `json:"banReason,omitempty"`
	LicenseB  bool      `json:"licenseB"`
	LicenseC  bool      `json:"licenseC"`
	LicenseCE bool      `json:"licenseCE"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateAttivitaResponse is the body of a successful POST /api/attivita.
type CreateAttivitaResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// SuccessResponse acknowledges a mutation without a body of its own.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SetCheckedRequest is the body of PUT /api/attivita/{id}/checked.
type SetCheckedRequest struct {
	IsChecked bool `json:"isChecked"`
}

// SetStatusRequest is the body of PUT /api/cantieri/{id}/status.
type SetStatusRequest struct {
	Open bool `json:"open"`
}

// BanRequest is the optional body of POST /api/users/{id}/ban.
type BanRequest struct {
	Reason string `json:"reason"`
}
