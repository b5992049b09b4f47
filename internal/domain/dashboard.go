package domain

import (
	"strconv"
	"strings"
	"time"
)

// Dashboard window bounds, in days.
const (
	DefaultDashboardDays = 30
	MinDashboardDays     = 1
	MaxDashboardDays     = 365
)

// ClampDays parses the days query value. Missing or non-numeric input yields the
// default; numeric input is clamped to [MinDashboardDays, MaxDashboardDays].
func ClampDays(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultDashboardDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultDashboardDays
	}
	if days < MinDashboardDays {
		return MinDashboardDays
	}
	if days > MaxDashboardDays {
		return MaxDashboardDays
	}
	return days
}

// DashboardWindow returns the inclusive calendar range [today-days, today] in loc.
func DashboardWindow(days int, now time.Time, loc *time.Location) (from, to time.Time) {
	to = CalendarDate(now, loc)
	return to.AddDate(0, 0, -days), to
}

// ActivityStats summarises one activity inside the dashboard window.
type ActivityStats struct {
	AttivitaID    int64
	Date          time.Time
	UserID        string
	UserName      string
	IsChecked     bool
	CantieriCount int
	MezziCount    int
	TempoTotale   int64
}

// DashboardSummary is the aggregate returned for a dashboard window.
type DashboardSummary struct {
	Days          int
	From          time.Time
	To            time.Time
	AttivitaCount int
	CantieriCount int
	MezziCount    int
	TempoTotale   int64
	Attivita      []ActivityStats
}

// Aggregate computes per-activity and global statistics over the activities dated
// inside [from, to]. Rows outside the window are ignored. Durations are summed as int64.
func Aggregate(days int, from, to time.Time, activities []Attivita) DashboardSummary {
	summary := DashboardSummary{
		Days:     days,
		From:     from,
		To:       to,
		Attivita: make([]ActivityStats, 0, len(activities)),
	}
	sites := make(map[int64]struct{})
	vehicles := make(map[int64]struct{})

	for _, a := range activities {
		day := CalendarDate(a.Date, time.UTC)
		if day.Before(from) || day.After(to) {
			continue
		}
		ownSites := make(map[int64]struct{})
		ownVehicles := make(map[int64]struct{})
		var total int64
		for _, in := range a.Interazioni {
			ownSites[in.CantiereID] = struct{}{}
			sites[in.CantiereID] = struct{}{}
			if in.MezzoID != nil {
				ownVehicles[*in.MezzoID] = struct{}{}
				vehicles[*in.MezzoID] = struct{}{}
			}
			total += in.TempoTotale
		}
		summary.Attivita = append(summary.Attivita, ActivityStats{
			AttivitaID:    a.ID,
			Date:          day,
			UserID:        a.UserID,
			UserName:      a.UserName,
			IsChecked:     a.IsChecked,
			CantieriCount: len(ownSites),
			MezziCount:    len(ownVehicles),
			TempoTotale:   total,
		})
		summary.TempoTotale += total
	}

	summary.AttivitaCount = len(summary.Attivita)
	summary.CantieriCount = len(sites)
	summary.MezziCount = len(vehicles)
	return summary
}
