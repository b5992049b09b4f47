package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/persistence/memory"
)

var authConfig = auth.Config{Secret: "handler-secret", Issuer: "lmt.test"}

type testServer struct {
	t      *testing.T
	repo   *memory.Repository
	router http.Handler
	nord   int64
	sud    int64
	now    time.Time
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	repo := memory.NewRepository()
	repo.AddUser(domain.User{ID: "admin", Name: "Amministratore", Role: domain.RoleAdmin})
	repo.AddUser(domain.User{ID: "operaio", Name: "Mario Rossi", Role: domain.RoleUser})
	nord := repo.AddCantiere(domain.Cantiere{Nome: "Cantiere Nord", Open: true})
	sud := repo.AddCantiere(domain.Cantiere{Nome: "Cantiere Sud", Open: true})

	now := time.Now().UTC()
	clock := domain.WithClock(func() time.Time { return now })
	services := Services{
		Activities: domain.NewActivityService(repo, clock),
		Dashboard:  domain.NewDashboardService(repo, clock),
		Registry:   domain.NewRegistryService(repo, clock),
		Users:      domain.NewUserService(repo, memory.Moderator{Repo: repo}, clock),
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithBaseURL("https://lmt.example.com/")}, opts...)
	handler := NewHandler(services, opts...)

	return &testServer{
		t:      t,
		repo:   repo,
		router: handler.Routes(auth.NewMiddleware(authConfig)),
		nord:   nord,
		sud:    sud,
		now:    now,
	}
}

func (s *testServer) token(userID, role string) string {
	s.t.Helper()
	token, err := auth.Issue(auth.Session{UserID: userID, Role: role}, authConfig, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) day(offset int) string {
	return s.now.AddDate(0, 0, offset).Format("2006-01-02")
}

func (s *testServer) createBody(date string) map[string]interface{} {
	return map[string]interface{}{
		"date": date,
		"interazioni": []map[string]interface{}{
			{"cantiereId": s.nord, "ore": 2, "minuti": 15},
			{"cantiereId": s.sud, "ore": 0, "minuti": 45},
		},
	}
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
	require.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestAPIRequiresSession(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodGet, "/api/attivita", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateAttivitaReturnsLocation(t *testing.T) {
	s := newTestServer(t)
	token := s.token("operaio", auth.RoleUser)

	rr := s.do(http.MethodPost, "/api/attivita", token, s.createBody(s.day(0)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decodeBody[CreateAttivitaResponse](t, rr)
	require.True(t, created.Success)
	require.Positive(t, created.ID)
	require.Equal(t, fmt.Sprintf("https://lmt.example.com/api/attivita/%d", created.ID), rr.Header().Get("Location"))

	rr = s.do(http.MethodGet, fmt.Sprintf("/api/attivita/%d", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[AttivitaView](t, rr)
	require.Equal(t, s.day(0), view.Date)
	require.Len(t, view.Interazioni, 2)
	require.Equal(t, int64(3*60*60*1000), view.TempoTotale.Millis)
	require.Equal(t, int64(3), view.TempoTotale.Hours)
	require.Zero(t, view.TempoTotale.Minutes)
}

func TestCreateAttivitaReportsFieldErrors(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"date":        s.day(0),
		"interazioni": []map[string]interface{}{{"cantiereId": 0, "ore": 1, "minuti": 75}},
	}

	rr := s.do(http.MethodPost, "/api/attivita", s.token("operaio", auth.RoleUser), body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeBody[ErrorResponse](t, rr)
	require.Equal(t, "validation_failed", resp.Type)
	require.Contains(t, resp.Fields, "interazioni[0].cantiereId")
	require.Contains(t, resp.Fields, "interazioni[0].minuti")
	require.Zero(t, s.repo.CountAttivita())
}

func TestCreateAttivitaRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/attivita", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+s.token("operaio", auth.RoleUser))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", decodeBody[ErrorResponse](t, rr).Type)
}

func TestEditWindowIsEnforcedForWorkers(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodPost, "/api/attivita", s.token("operaio", auth.RoleUser), s.createBody(s.day(-8)))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "edit_window", decodeBody[ErrorResponse](t, rr).Type)

	rr = s.do(http.MethodPost, "/api/attivita", s.token("admin", auth.RoleAdmin), s.createBody(s.day(-8)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestWorkersCannotSeeOthersActivities(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodPost, "/api/attivita", s.token("admin", auth.RoleAdmin), s.createBody(s.day(0)))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody[CreateAttivitaResponse](t, rr).ID

	worker := s.token("operaio", auth.RoleUser)
	rr = s.do(http.MethodGet, fmt.Sprintf("/api/attivita/%d", id), worker, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/api/attivita?user_id=admin", worker, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decodeBody[[]AttivitaView](t, rr))
}

func TestSetCheckedIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	worker := s.token("operaio", auth.RoleUser)
	rr := s.do(http.MethodPost, "/api/attivita", worker, s.createBody(s.day(0)))
	require.Equal(t, http.StatusCreated, rr.Code)
	path := fmt.Sprintf("/api/attivita/%d/checked", decodeBody[CreateAttivitaResponse](t, rr).ID)

	rr = s.do(http.MethodPut, path, worker, SetCheckedRequest{IsChecked: true})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(http.MethodPut, path, s.token("admin", auth.RoleAdmin), SetCheckedRequest{IsChecked: true})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decodeBody[AttivitaView](t, rr).IsChecked)
}

func TestDeleteLastInteractionIsRejected(t *testing.T) {
	s := newTestServer(t)
	token := s.token("operaio", auth.RoleUser)
	body := map[string]interface{}{
		"date":        s.day(0),
		"interazioni": []map[string]interface{}{{"cantiereId": s.nord, "ore": 1, "minuti": 0}},
	}
	rr := s.do(http.MethodPost, "/api/attivita", token, body)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody[CreateAttivitaResponse](t, rr).ID

	rr = s.do(http.MethodGet, fmt.Sprintf("/api/attivita/%d", id), token, nil)
	interaction := decodeBody[AttivitaView](t, rr).Interazioni[0]

	rr = s.do(http.MethodDelete, fmt.Sprintf("/api/interazioni/%d", interaction.ID), token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, domain.ErrLastInteraction.Error(), decodeBody[ErrorResponse](t, rr).Detail)
}

func TestDashboardClampsDays(t *testing.T) {
	s := newTestServer(t)
	token := s.token("operaio", auth.RoleUser)
	rr := s.do(http.MethodPost, "/api/attivita", token, s.createBody(s.day(-1)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(http.MethodGet, "/api/dashboard?days=9999", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[DashboardView](t, rr)
	require.Equal(t, domain.MaxDashboardDays, view.Days)
	require.Equal(t, 1, view.AttivitaCount)
	require.Equal(t, 2, view.CantieriCount)
	require.Equal(t, int64(3), view.TempoTotale.Hours)

	rr = s.do(http.MethodGet, "/api/dashboard?days=abc", token, nil)
	require.Equal(t, domain.DefaultDashboardDays, decodeBody[DashboardView](t, rr).Days)
}

func TestBanRefusalIsReported(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)

	rr := s.do(http.MethodPost, "/api/users/sconosciuto/ban", admin, BanRequest{Reason: "test"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeBody[ErrorResponse](t, rr)
	require.Equal(t, "refused", resp.Type)
	require.Equal(t, "Utente non trovato", resp.Detail)

	rr = s.do(http.MethodPost, "/api/users/operaio/ban", admin, BanRequest{Reason: "assenze"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/api/users", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var banned bool
	for _, u := range decodeBody[[]UserView](t, rr) {
		if u.ID == "operaio" {
			banned = u.Banned
		}
	}
	require.True(t, banned)

	rr = s.do(http.MethodPost, "/api/users/admin/ban", s.token("operaio", auth.RoleUser), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAssignmentsScopeWorkerRegistry(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("admin", auth.RoleAdmin)
	worker := s.token("operaio", auth.RoleUser)

	rr := s.do(http.MethodGet, "/api/cantieri", worker, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decodeBody[[]CantiereView](t, rr))

	rr = s.do(http.MethodPut, fmt.Sprintf("/api/users/operaio/cantieri/%d", s.nord), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodGet, "/api/cantieri", worker, nil)
	sites := decodeBody[[]CantiereView](t, rr)
	require.Len(t, sites, 1)
	require.Equal(t, "Cantiere Nord", sites[0].Nome)

	rr = s.do(http.MethodPut, "/api/users/operaio/cantieri/abc", admin, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimiterThrottlesMutations(t *testing.T) {
	s := newTestServer(t, WithRateLimiter(NewRateLimiter(0.001, 1)))
	token := s.token("operaio", auth.RoleUser)

	rr := s.do(http.MethodPost, "/api/attivita", token, s.createBody(s.day(0)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(http.MethodPost, "/api/attivita", token, s.createBody(s.day(0)))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "rate_limited", decodeBody[ErrorResponse](t, rr).Type)

	rr = s.do(http.MethodGet, "/api/attivita", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
