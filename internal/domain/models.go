// Package domain defines the business rules for activities, sites, vehicles and users.
package domain

import "time"

// MillisPerMinute is the number of duration ticks stored per minute of work.
const MillisPerMinute int64 = 60_000

// Role names mirrored from the session provider.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Actor is the acting session user, passed explicitly into every guard and service call.
type Actor struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Audit carries the created/updated bookkeeping shared by most rows.
type Audit struct {
	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// Attivita is a dated record of work performed by a user.
type Attivita struct {
	ID          int64
	Date        time.Time // calendar date, midnight UTC
	UserID      string
	UserName    string
	IsChecked   bool
	Interazioni []Interazione
	Audit
}

// TempoTotale sums the stored duration of every interaction.
func (a Attivita) TempoTotale() int64 {
	var total int64
	for _, in := range a.Interazioni {
		total += in.TempoTotale
	}
	return total
}

// Interazione links an activity to a site and, optionally, a vehicle for a logged amount of time.
type Interazione struct {
	ID          int64
	AttivitaID  int64
	CantiereID  int64
	MezzoID     *int64
	Ore         int
	Minuti      int
	TempoTotale int64 // milliseconds
	Audit
}

// Cantiere is a construction site.
type Cantiere struct {
	ID          int64
	Nome        string
	Descrizione string
	Open        bool
	ClosedAt    *time.Time
	Users       []UserRef
	Audit
}

// Mezzo is a vehicle or machine assignable to users.
type Mezzo struct {
	ID                int64
	Nome              string
	Descrizione       string
	RequiresLicenseC  bool
	RequiresLicenseCE bool
	Users             []UserRef
	Audit
}

// Attrezzatura is a piece of equipment, optionally parked at a site.
type Attrezzatura struct {
	ID          int64
	Nome        string
	Descrizione string
	CantiereID  *int64
	Audit
}

// Trasporto records a vehicle moving equipment between two sites.
type Trasporto struct {
	ID             int64
	MezzoID        int64
	AttrezzaturaID *int64
	FromCantiereID int64
	ToCantiereID   int64
	Date           time.Time
	UserID         string
	Audit
}

// User is an application account as mirrored from the session provider.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      string
	Banned    bool
	BanReason string
	LicenseB  bool
	LicenseC  bool
	LicenseCE bool
	Phone     string
	CreatedAt time.Time
}

// UserRef is the compact user projection embedded in site and vehicle listings.
type UserRef struct {
	ID   string
	Name string
}

// ComputeTempoTotale converts hours and minutes into duration ticks.
func ComputeTempoTotale(ore, minuti int) int64 {
	return (int64(ore)*60 + int64(minuti)) * MillisPerMinute
}

// SplitDuration presents a tick count as whole hours plus the remaining minutes.
func SplitDuration(total int64) (hours, minutes int64) {
	totalMinutes := total / MillisPerMinute
	return totalMinutes / 60, totalMinutes % 60
}
