// Package memory keeps every repository in process memory for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/events"
)

// ErrUnknownReference mirrors a foreign key violation: the row points at a site, vehicle or user that does not exist.
var ErrUnknownReference = errors.New("memory: unknown reference")

// Event is a change event recorded alongside a write, as the outbox would.
type Event struct {
	Type    string
	Payload events.AttivitaChanged
}

// Repository implements the activity, registry and user repositories.
type Repository struct {
	mu sync.RWMutex

	nextID int64

	users        map[string]domain.User
	cantieri     map[int64]domain.Cantiere
	mezzi        map[int64]domain.Mezzo
	attrezzature map[int64]domain.Attrezzatura
	trasporti    map[int64]domain.Trasporto
	attivita     map[int64]domain.Attivita
	interazioni  map[int64]int64 // interaction id -> activity id

	userCantieri map[string]map[int64]struct{}
	userMezzi    map[string]map[int64]struct{}

	events []Event

	// FailWrites makes every write return the error, for failure-path tests.
	FailWrites error
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{
		users:        make(map[string]domain.User),
		cantieri:     make(map[int64]domain.Cantiere),
		mezzi:        make(map[int64]domain.Mezzo),
		attrezzature: make(map[int64]domain.Attrezzatura),
		trasporti:    make(map[int64]domain.Trasporto),
		attivita:     make(map[int64]domain.Attivita),
		interazioni:  make(map[int64]int64),
		userCantieri: make(map[string]map[int64]struct{}),
		userMezzi:    make(map[string]map[int64]struct{}),
	}
}

// NewSeededRepository returns a repository with a small demo registry.
func NewSeededRepository() *Repository {
	r := NewRepository()
	now := time.Now().UTC()
	r.AddUser(domain.User{ID: "admin", Name: "Amministratore", Email: "admin@example.com", Role: domain.RoleAdmin, CreatedAt: now})
	r.AddUser(domain.User{ID: "operaio", Name: "Mario Rossi", Email: "mario.rossi@example.com", Role: domain.RoleUser, LicenseB: true, LicenseC: true, CreatedAt: now})
	nord := r.AddCantiere(domain.Cantiere{Nome: "Cantiere Nord", Descrizione: "Scavo fondazioni", Open: true})
	sud := r.AddCantiere(domain.Cantiere{Nome: "Cantiere Sud", Descrizione: "Rifacimento strada", Open: true})
	escavatore := r.AddMezzo(domain.Mezzo{Nome: "Escavatore CAT 320", RequiresLicenseC: false})
	camion := r.AddMezzo(domain.Mezzo{Nome: "Camion Iveco", RequiresLicenseC: true})
	martello := r.AddAttrezzatura(domain.Attrezzatura{Nome: "Martello demolitore", CantiereID: &nord})
	r.AddTrasporto(domain.Trasporto{MezzoID: camion, AttrezzaturaID: &martello, FromCantiereID: nord, ToCantiereID: sud, Date: domain.CalendarDate(now, time.UTC), UserID: "operaio"})
	_ = r.AssignCantiere(context.Background(), "operaio", nord, "admin", now)
	_ = r.AssignMezzo(context.Background(), "operaio", escavatore, "admin", now)
	return r
}

// AddUser stores or replaces a user.
func (r *Repository) AddUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// AddCantiere stores a site and returns its ID.
func (r *Repository) AddCantiere(c domain.Cantiere) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.Users = nil
	r.cantieri[c.ID] = c
	return c.ID
}

// AddMezzo stores a vehicle and returns its ID.
func (r *Repository) AddMezzo(m domain.Mezzo) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.id()
	m.Users = nil
	r.mezzi[m.ID] = m
	return m.ID
}

// AddAttrezzatura stores a piece of equipment and returns its ID.
func (r *Repository) AddAttrezzatura(a domain.Attrezzatura) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = r.id()
	r.attrezzature[a.ID] = a
	return a.ID
}

// AddTrasporto stores a transport and returns its ID.
func (r *Repository) AddTrasporto(t domain.Trasporto) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	r.trasporti[t.ID] = t
	return t.ID
}

// Events returns the change events recorded so far.
func (r *Repository) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// CountAttivita returns the number of stored activities.
func (r *Repository) CountAttivita() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attivita)
}

// CountInterazioni returns the number of stored interactions.
func (r *Repository) CountInterazioni() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.interazioni)
}

// CreateActivity implements domain.ActivityRepository.
func (r *Repository) CreateActivity(ctx context.Context, activity *domain.Attivita) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	if _, ok := r.users[activity.UserID]; !ok && len(r.users) > 0 {
		return fmt.Errorf("user %q: %w", activity.UserID, ErrUnknownReference)
	}
	for _, in := range activity.Interazioni {
		if err := r.checkInteraction(in); err != nil {
			return err
		}
	}

	activity.ID = r.id()
	for i := range activity.Interazioni {
		activity.Interazioni[i].ID = r.id()
		activity.Interazioni[i].AttivitaID = activity.ID
		r.interazioni[activity.Interazioni[i].ID] = activity.ID
	}
	r.attivita[activity.ID] = cloneAttivita(*activity)
	r.record(events.TypeAttivitaCreated, *activity, activity.CreatedBy, activity.CreatedAt)
	return nil
}

// GetActivity implements domain.ActivityRepository.
func (r *Repository) GetActivity(ctx context.Context, id int64) (*domain.Attivita, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.attivita[id]
	if !ok {
		return nil, nil
	}
	out := r.view(a)
	return &out, nil
}

// ListActivities implements domain.ActivityRepository. Newest first.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Attivita, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Attivita, 0)
	for _, a := range r.attivita {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if !filter.From.IsZero() && a.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && a.Date.After(filter.To) {
			continue
		}
		out = append(out, r.view(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateActivity implements domain.ActivityRepository.
func (r *Repository) UpdateActivity(ctx context.Context, activity domain.Attivita) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	stored, ok := r.attivita[activity.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Date = activity.Date
	stored.IsChecked = activity.IsChecked
	stored.UpdatedBy = activity.UpdatedBy
	stored.UpdatedAt = activity.UpdatedAt
	r.attivita[stored.ID] = stored
	r.record(events.TypeAttivitaUpdated, stored, activity.UpdatedBy, activity.UpdatedAt)
	return nil
}

// DeleteActivity implements domain.ActivityRepository.
func (r *Repository) DeleteActivity(ctx context.Context, activity domain.Attivita) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	stored, ok := r.attivita[activity.ID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, in := range stored.Interazioni {
		delete(r.interazioni, in.ID)
	}
	delete(r.attivita, stored.ID)
	r.record(events.TypeAttivitaDeleted, stored, activity.UpdatedBy, activity.UpdatedAt)
	return nil
}

// AddInteraction implements domain.ActivityRepository.
func (r *Repository) AddInteraction(ctx context.Context, parent domain.Attivita, interaction *domain.Interazione) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	stored, ok := r.attivita[parent.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := r.checkInteraction(*interaction); err != nil {
		return err
	}
	interaction.ID = r.id()
	interaction.AttivitaID = stored.ID
	r.interazioni[interaction.ID] = stored.ID
	stored.Interazioni = append(stored.Interazioni, cloneInterazione(*interaction))
	stored.IsChecked = parent.IsChecked
	stored.UpdatedBy, stored.UpdatedAt = parent.UpdatedBy, parent.UpdatedAt
	r.attivita[stored.ID] = stored
	r.record(events.TypeAttivitaUpdated, stored, parent.UpdatedBy, parent.UpdatedAt)
	return nil
}

// GetInteraction implements domain.ActivityRepository.
func (r *Repository) GetInteraction(ctx context.Context, id int64) (*domain.Interazione, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parentID, ok := r.interazioni[id]
	if !ok {
		return nil, nil
	}
	for _, in := range r.attivita[parentID].Interazioni {
		if in.ID == id {
			out := cloneInterazione(in)
			return &out, nil
		}
	}
	return nil, nil
}

// DeleteInteraction implements domain.ActivityRepository.
func (r *Repository) DeleteInteraction(ctx context.Context, parent domain.Attivita, interactionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	stored, ok := r.attivita[parent.ID]
	if !ok || r.interazioni[interactionID] != parent.ID {
		return domain.ErrNotFound
	}
	if len(stored.Interazioni) <= 1 {
		return domain.ErrLastInteraction
	}
	kept := stored.Interazioni[:0:0]
	for _, in := range stored.Interazioni {
		if in.ID != interactionID {
			kept = append(kept, in)
		}
	}
	delete(r.interazioni, interactionID)
	stored.Interazioni = kept
	stored.IsChecked = parent.IsChecked
	stored.UpdatedBy, stored.UpdatedAt = parent.UpdatedBy, parent.UpdatedAt
	r.attivita[stored.ID] = stored
	r.record(events.TypeAttivitaUpdated, stored, parent.UpdatedBy, parent.UpdatedAt)
	return nil
}

// ListCantieri implements domain.RegistryRepository.
func (r *Repository) ListCantieri(ctx context.Context, userID string) ([]domain.Cantiere, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Cantiere, 0, len(r.cantieri))
	for _, c := range r.cantieri {
		if userID != "" && !r.assigned(r.userCantieri, userID, c.ID) {
			continue
		}
		c.Users = r.refs(r.userCantieri, c.ID)
		if c.ClosedAt != nil {
			closed := *c.ClosedAt
			c.ClosedAt = &closed
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nome < out[j].Nome })
	return out, nil
}

// SetCantiereStatus implements domain.RegistryRepository.
func (r *Repository) SetCantiereStatus(ctx context.Context, id int64, open bool, closedAt *time.Time, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	c, ok := r.cantieri[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Open = open
	c.ClosedAt = nil
	if closedAt != nil {
		closed := *closedAt
		c.ClosedAt = &closed
	}
	c.UpdatedBy, c.UpdatedAt = by, at
	r.cantieri[id] = c
	return nil
}

// ListMezzi implements domain.RegistryRepository.
func (r *Repository) ListMezzi(ctx context.Context, userID string) ([]domain.Mezzo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Mezzo, 0, len(r.mezzi))
	for _, m := range r.mezzi {
		if userID != "" && !r.assigned(r.userMezzi, userID, m.ID) {
			continue
		}
		m.Users = r.refs(r.userMezzi, m.ID)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nome < out[j].Nome })
	return out, nil
}

// ListAttrezzature implements domain.RegistryRepository.
func (r *Repository) ListAttrezzature(ctx context.Context) ([]domain.Attrezzatura, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Attrezzatura, 0, len(r.attrezzature))
	for _, a := range r.attrezzature {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nome < out[j].Nome })
	return out, nil
}

// ListTrasporti implements domain.RegistryRepository.
func (r *Repository) ListTrasporti(ctx context.Context, from, to time.Time) ([]domain.Trasporto, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Trasporto, 0, len(r.trasporti))
	for _, t := range r.trasporti {
		if !from.IsZero() && t.Date.Before(from) {
			continue
		}
		if !to.IsZero() && t.Date.After(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

// AssignCantiere implements domain.RegistryRepository.
func (r *Repository) AssignCantiere(ctx context.Context, userID string, cantiereID int64, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	if _, ok := r.cantieri[cantiereID]; !ok {
		return domain.ErrNotFound
	}
	return r.link(r.userCantieri, userID, cantiereID)
}

// UnassignCantiere implements domain.RegistryRepository.
func (r *Repository) UnassignCantiere(ctx context.Context, userID string, cantiereID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	delete(r.userCantieri[userID], cantiereID)
	return nil
}

// AssignMezzo implements domain.RegistryRepository.
func (r *Repository) AssignMezzo(ctx context.Context, userID string, mezzoID int64, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	if _, ok := r.mezzi[mezzoID]; !ok {
		return domain.ErrNotFound
	}
	return r.link(r.userMezzi, userID, mezzoID)
}

// UnassignMezzo implements domain.RegistryRepository.
func (r *Repository) UnassignMezzo(ctx context.Context, userID string, mezzoID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites != nil {
		return r.FailWrites
	}
	delete(r.userMezzi[userID], mezzoID)
	return nil
}

// ListUsers implements domain.UserRepository.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetUser implements domain.UserRepository.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// SetBanned flips the ban flag, used by the in-memory moderator.
func (r *Repository) SetBanned(id string, banned bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Banned = banned
	u.BanReason = ""
	if banned {
		u.BanReason = reason
	}
	r.users[id] = u
	return nil
}

func (r *Repository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *Repository) checkInteraction(in domain.Interazione) error {
	if _, ok := r.cantieri[in.CantiereID]; !ok {
		return fmt.Errorf("cantiere %d: %w", in.CantiereID, ErrUnknownReference)
	}
	if in.MezzoID != nil {
		if _, ok := r.mezzi[*in.MezzoID]; !ok {
			return fmt.Errorf("mezzo %d: %w", *in.MezzoID, ErrUnknownReference)
		}
	}
	return nil
}

func (r *Repository) record(eventType string, a domain.Attivita, by string, at time.Time) {
	r.events = append(r.events, Event{Type: eventType, Payload: events.NewAttivitaChanged(a, by, at)})
}

func (r *Repository) view(a domain.Attivita) domain.Attivita {
	out := cloneAttivita(a)
	if u, ok := r.users[a.UserID]; ok {
		out.UserName = u.Name
	}
	return out
}

func (r *Repository) assigned(links map[string]map[int64]struct{}, userID string, id int64) bool {
	_, ok := links[userID][id]
	return ok
}

func (r *Repository) refs(links map[string]map[int64]struct{}, id int64) []domain.UserRef {
	refs := make([]domain.UserRef, 0)
	for userID, ids := range links {
		if _, ok := ids[id]; !ok {
			continue
		}
		refs = append(refs, domain.UserRef{ID: userID, Name: r.users[userID].Name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func (r *Repository) link(links map[string]map[int64]struct{}, userID string, id int64) error {
	if _, ok := r.users[userID]; !ok {
		return domain.ErrNotFound
	}
	if links[userID] == nil {
		links[userID] = make(map[int64]struct{})
	}
	links[userID][id] = struct{}{}
	return nil
}

func cloneAttivita(a domain.Attivita) domain.Attivita {
	out := a
	out.Interazioni = make([]domain.Interazione, len(a.Interazioni))
	for i, in := range a.Interazioni {
		out.Interazioni[i] = cloneInterazione(in)
	}
	return out
}

func cloneInterazione(in domain.Interazione) domain.Interazione {
	if in.MezzoID != nil {
		id := *in.MezzoID
		in.MezzoID = &id
	}
	return in
}
