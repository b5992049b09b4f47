// Package api exposes the JSON HTTP surface of the movimento terra backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/domain"
)

// Services groups the domain services the handlers delegate to.
type Services struct {
	Activities *domain.ActivityService
	Dashboard  *domain.DashboardService
	Registry   *domain.RegistryService
	Users      *domain.UserService
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	services Services
	baseURL  string
	location *time.Location
	logger   *zap.Logger
	limiter  *RateLimiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request and failure logs.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithBaseURL sets the absolute application URL used for Location headers and CORS.
func WithBaseURL(baseURL string) Option {
	return func(h *Handler) {
		h.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimiter throttles mutating routes.
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

// WithLocation sets the timezone used to parse query dates.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.location = loc
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(services Services, opts ...Option) *Handler {
	h := &Handler{
		services: services,
		location: time.UTC,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router. Everything under /api requires a session.
func (h *Handler) Routes(authn auth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(instrument)
	r.Use(cors(h.baseURL))

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Wrap)
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}

		r.Get("/dashboard", h.dashboard)

		r.Get("/attivita", h.listAttivita)
		r.Post("/attivita", h.createAttivita)
		r.Get("/attivita/{id}", h.getAttivita)
		r.Patch("/attivita/{id}", h.updateAttivita)
		r.Delete("/attivita/{id}", h.deleteAttivita)
		r.Post("/attivita/{id}/interazioni", h.addInterazione)
		r.Put("/attivita/{id}/checked", h.setChecked)
		r.Delete("/interazioni/{id}", h.deleteInterazione)

		r.Get("/cantieri", h.listCantieri)
		r.Put("/cantieri/{id}/status", h.setCantiereStatus)
		r.Get("/mezzi", h.listMezzi)
		r.Get("/attrezzature", h.listAttrezzature)
		r.Get("/trasporti", h.listTrasporti)

		r.Get("/users", h.listUsers)
		r.Post("/users/{id}/ban", h.banUser)
		r.Delete("/users/{id}/ban", h.unbanUser)
		r.Put("/users/{id}/cantieri/{cantiereId}", h.assignCantiere)
		r.Delete("/users/{id}/cantieri/{cantiereId}", h.unassignCantiere)
		r.Put("/users/{id}/mezzi/{mezzoId}", h.assignMezzo)
		r.Delete("/users/{id}/mezzi/{mezzoId}", h.unassignMezzo)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", domain.ErrNotFound.Error())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "metodo non supportato")
	})
	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	days := domain.ClampDays(r.URL.Query().Get("days"))
	summary, err := h.services.Dashboard.Summary(r.Context(), actor, days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardView(summary))
}

func (h *Handler) listAttivita(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ActivityFilter{UserID: strings.TrimSpace(q.Get("user_id"))}

	var err error
	if filter.From, err = h.queryDate(q.Get("from")); err != nil {
		h.fail(w, r, &domain.ValidationError{Fields: map[string]string{"from": "data non valida"}})
		return
	}
	if filter.To, err = h.queryDate(q.Get("to")); err != nil {
		h.fail(w, r, &domain.ValidationError{Fields: map[string]string{"to": "data non valida"}})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	activities, err := h.services.Activities.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]AttivitaView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toAttivitaView(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) createAttivita(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAttivitaInput
	if !h.decode(w, r, &req) {
		return
	}

	activity, err := h.services.Activities.Create(r.Context(), actorFrom(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", h.baseURL+"/api/attivita/"+strconv.FormatInt(activity.ID, 10))
	writeJSON(w, http.StatusCreated, CreateAttivitaResponse{Success: true, ID: activity.ID})
}

func (h *Handler) getAttivita(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	activity, err := h.services.Activities.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttivitaView(*activity))
}

func (h *Handler) updateAttivita(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.UpdateAttivitaInput
	if !h.decode(w, r, &req) {
		return
	}
	activity, err := h.services.Activities.UpdateDate(r.Context(), actorFrom(r), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttivitaView(*activity))
}

func (h *Handler) deleteAttivita(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.services.Activities.Delete(r.Context(), actorFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) addInterazione(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.InteractionInput
	if !h.decode(w, r, &req) {
		return
	}
	interaction, err := h.services.Activities.AddInteraction(r.Context(), actorFrom(r), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInterazioneView(*interaction))
}

func (h *Handler) deleteInterazione(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.services.Activities.RemoveInteraction(r.Context(), actorFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) setChecked(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req SetCheckedRequest
	if !h.decode(w, r, &req) {
		return
	}
	activity, err := h.services.Activities.SetChecked(r.Context(), actorFrom(r), id, req.IsChecked)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttivitaView(*activity))
}

func (h *Handler) listCantieri(w http.ResponseWriter, r *http.Request) {
	sites, err := h.services.Registry.Cantieri(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]CantiereView, 0, len(sites))
	for _, c := range sites {
		out = append(out, CantiereView{ID: c.ID, Nome: c.Nome, Descrizione: c.Descrizione, Open: c.Open, ClosedAt: c.ClosedAt, Users: toUserRefs(c.Users)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) setCantiereStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req SetStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.services.Registry.SetCantiereStatus(r.Context(), actorFrom(r), id, req.Open); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) listMezzi(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.services.Registry.Mezzi(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]MezzoView, 0, len(vehicles))
	for _, m := range vehicles {
		out = append(out, MezzoView{
			ID:                m.ID,
			Nome:              m.Nome,
			Descrizione:       m.Descrizione,
			RequiresLicenseC:  m.RequiresLicenseC,
			RequiresLicenseCE: m.RequiresLicenseCE,
			Users:             toUserRefs(m.Users),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listAttrezzature(w http.ResponseWriter, r *http.Request) {
	items, err := h.services.Registry.Attrezzature(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]AttrezzaturaView, 0, len(items))
	for _, a := range items {
		out = append(out, AttrezzaturaView{ID: a.ID, Nome: a.Nome, Descrizione: a.Descrizione, CantiereID: a.CantiereID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listTrasporti(w http.ResponseWriter, r *http.Request) {
	from, err := h.queryDate(r.URL.Query().Get("from"))
	if err != nil {
		h.fail(w, r, &domain.ValidationError{Fields: map[string]string{"from": "data non valida"}})
		return
	}
	to, err := h.queryDate(r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, r, &domain.ValidationError{Fields: map[string]string{"to": "data non valida"}})
		return
	}
	items, err := h.services.Registry.Trasporti(r.Context(), actorFrom(r), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]TrasportoView, 0, len(items))
	for _, t := range items {
		out = append(out, TrasportoView{
			ID:             t.ID,
			MezzoID:        t.MezzoID,
			AttrezzaturaID: t.AttrezzaturaID,
			FromCantiereID: t.FromCantiereID,
			ToCantiereID:   t.ToCantiereID,
			Date:           domain.FormatDate(t.Date),
			UserID:         t.UserID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.services.Users.List(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, UserView{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      u.Role,
			Banned:    u.Banned,
			BanReason: u.BanReason,
			LicenseB:  u.LicenseB,
			LicenseC:  u.LicenseC,
			LicenseCE: u.LicenseCE,
			Phone:     u.Phone,
			CreatedAt: u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) banUser(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if err := h.services.Users.Ban(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) unbanUser(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Users.Unban(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) assignCantiere(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, "cantiereId", h.services.Registry.AssignCantiere)
}

func (h *Handler) unassignCantiere(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, "cantiereId", h.services.Registry.UnassignCantiere)
}

func (h *Handler) assignMezzo(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, "mezzoId", h.services.Registry.AssignMezzo)
}

func (h *Handler) unassignMezzo(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, "mezzoId", h.services.Registry.UnassignMezzo)
}

type assignFunc func(ctx context.Context, actor domain.Actor, userID string, id int64) error

func (h *Handler) assignment(w http.ResponseWriter, r *http.Request, param string, apply assignFunc) {
	id, ok := h.pathID(w, r, param)
	if !ok {
		return
	}
	if err := apply(r.Context(), actorFrom(r), chi.URLParam(r, "id"), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// actorFrom returns the acting user. Routes under /api always run behind the auth middleware.
func actorFrom(r *http.Request) domain.Actor {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		return domain.Actor{}
	}
	return domain.Actor{UserID: session.UserID, Role: session.Role}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "identificativo non valido")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "corpo della richiesta mancante")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "corpo della richiesta non valido")
		return false
	}
	return true
}

func (h *Handler) queryDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(raw, h.location)
}
