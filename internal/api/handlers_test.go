package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emilgoldsmith/strafforts/internal/auth"
	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/strava"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

const appURL = "https://www.strafforts.test"

func newTestHandler() (*Handler, *apiFakes) {
	fakes := &apiFakes{}
	return NewHandler(fakes, fakes, fakes, fakes, fakes, appURL), fakes
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func withClaims(req *http.Request, athleteID int64, scopes ...string) *http.Request {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	claims := &auth.Claims{AthleteID: athleteID, Scopes: set}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestExchangeTokenRedirectsDeniedGrantTo400(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/auth/exchange-token?error=access_denied", nil)
	rec := serve(handler, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, appURL+"/errors/400", rec.Header().Get("Location"))
}

func TestExchangeTokenRedirectsMissingScopeTo400(t *testing.T) {
	handler, fakes := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/auth/exchange-token?code=abc&scope=read", nil)
	rec := serve(handler, req)

	require.Equal(t, appURL+"/errors/400", rec.Header().Get("Location"))
	require.Equal(t, 0, fakes.exchangeCalls)
}

func TestExchangeTokenRedirectsUpstreamFailureTo503(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.exchangeErr = &domain.AuthError{Op: "exchange", Status: 502, Err: errors.New("bad gateway")}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/exchange-token?code=abc&scope=read,profile:read_all,activity:read", nil)
	rec := serve(handler, req)

	require.Equal(t, appURL+"/errors/503", rec.Header().Get("Location"))
}

func TestExchangeTokenHappyPath(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.exchange = strava.TokenExchange{
		Grant:   domain.TokenGrant{AccessToken: "tok", RefreshToken: "ref", ExpiresAt: time.Now().Add(6 * time.Hour)},
		Athlete: strava.AthleteProfile{ID: 42, FirstName: "Ada", Email: "ada@example.com"},
	}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/exchange-token?code=abc&scope=read,profile:read_all,activity:read", nil)
	rec := serve(handler, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, appURL+"/athletes/42", rec.Header().Get("Location"))

	require.NotNil(t, fakes.upserted)
	require.Equal(t, "tok", fakes.upserted.AccessToken)
	require.True(t, fakes.promosGranted)
	require.Len(t, fakes.enqueued, 1)
	require.Equal(t, tasks.TypeSyncAthlete, fakes.enqueued[0].taskType)
	require.Equal(t, "athlete:42", fakes.enqueued[0].dedupeKey)
}

func TestDeauthorizeRequiresToken(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/auth/deauthorize",
		bytes.NewBufferString(`{"access_token":"  "}`))
	rec := serve(handler, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeauthorizeQueuesRemoval(t *testing.T) {
	handler, fakes := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/auth/deauthorize",
		bytes.NewBufferString(`{"access_token":"tok"}`))
	rec := serve(handler, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fakes.enqueued, 1)
	require.Equal(t, tasks.TypeDeauthorizeAthlete, fakes.enqueued[0].taskType)
}

func TestConfirmEmailUnknownTokenRedirects400(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/auth/confirm-email?token=nope", nil)
	rec := serve(handler, req)

	require.Equal(t, appURL+"/errors/400", rec.Header().Get("Location"))
}

func TestConfirmEmailSubscribesAndRedirects(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.athlete = &domain.Athlete{ID: 42, Email: "ada@example.com", ConfirmationToken: "tok123"}

	req := httptest.NewRequest(http.MethodGet, "/auth/confirm-email?token=tok123", nil)
	rec := serve(handler, req)

	require.Equal(t, appURL+"/athletes/42", rec.Header().Get("Location"))
	require.True(t, fakes.emailConfirmed)
	require.Len(t, fakes.enqueued, 1)
	require.Equal(t, tasks.TypeMailingListUpdate, fakes.enqueued[0].taskType)
}

func TestMetaRequiresAuth(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.athlete = &domain.Athlete{ID: 42}

	req := httptest.NewRequest(http.MethodGet, "/api/athletes/42/meta", nil)
	rec := serve(handler, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/meta", nil), 7, auth.ScopeAthleteRead)
	rec = serve(handler, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetaReturnsSummary(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.athlete = &domain.Athlete{ID: 42, FirstName: "Ada", TotalRunCount: 12, EmailConfirmed: true}
	fakes.summary = domain.Summary{
		IsPro:            true,
		TotalRunCount:    12,
		BestEffortCounts: map[string]int{"5k": 3},
		RaceCountsByYear: map[int]int{2024: 2},
	}

	req := withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/meta", nil), 42, auth.ScopeAthleteRead)
	rec := serve(handler, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view MetaView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.IsPro)
	require.Equal(t, 12, view.TotalRunCount)
	require.Equal(t, 3, view.BestEffortCounts["5k"])
}

func TestBestEffortsRejectsUnknownType(t *testing.T) {
	handler, _ := newTestHandler()

	req := withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/best-efforts?type=7k", nil), 42, auth.ScopeAthleteRead)
	rec := serve(handler, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBestEffortsReturnsRanking(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.bestEfforts = []domain.BestEffort{
		{ActivityID: 1, ElapsedTime: 1180, Rank: 1, PersonalBest: true},
		{ActivityID: 2, ElapsedTime: 1240, Rank: 2},
	}

	req := withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/best-efforts?type=5k", nil), 42, auth.ScopeAthleteRead)
	rec := serve(handler, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BestEffortsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "5k", resp.EffortType)
	require.Len(t, resp.Items, 2)
	require.True(t, resp.Items[0].PersonalBest)
}

func TestRacesRejectsUnknownDistance(t *testing.T) {
	handler, _ := newTestHandler()

	req := withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/races?distance=7k", nil), 42, auth.ScopeAthleteRead)
	rec := serve(handler, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRacesFiltersByYear(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.races = []domain.Race{
		{ActivityID: 3, RaceDistance: domain.RaceDistance{Name: "5k"}, StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	req := withClaims(httptest.NewRequest(http.MethodGet, "/api/athletes/42/races?year=2024", nil), 42, auth.ScopeAthleteRead)
	rec := serve(handler, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2024, fakes.racesYear)
	var resp RacesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, "5k", resp.Items[0].RaceDistance)
}

func TestChargeMapsProviderDecline(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.athlete = &domain.Athlete{ID: 42}
	fakes.chargeErr = &domain.PaymentError{Op: "charge", Status: 402, Code: "card_declined", Err: errors.New("declined")}

	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/athletes/42/subscriptions",
		bytes.NewBufferString(`{"plan_name":"Annual PRO","card_token":"tok_visa"}`)), 42, auth.ScopeBilling)
	rec := serve(handler, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestChargeSucceeds(t *testing.T) {
	handler, fakes := newTestHandler()
	fakes.athlete = &domain.Athlete{ID: 42}
	expires := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	fakes.chargeResult = domain.ChargeResult{
		Subscription:     domain.Subscription{ID: "sub-1", PlanName: "Annual PRO", ExpiresAt: &expires},
		ProviderChargeID: "ch_1",
		AmountCents:      599,
	}

	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/athletes/42/subscriptions",
		bytes.NewBufferString(`{"plan_name":"Annual PRO","card_token":"tok_visa"}`)), 42, auth.ScopeBilling)
	rec := serve(handler, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp ChargeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "sub-1", resp.SubscriptionID)
	require.Equal(t, int64(599), resp.AmountCents)
}

func TestRequestSyncEnqueuesFullSync(t *testing.T) {
	handler, fakes := newTestHandler()

	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/athletes/42/sync?full=true", nil), 42, auth.ScopeAthleteWrite)
	rec := serve(handler, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fakes.enqueued, 1)
	require.Equal(t, tasks.TypeSyncAthlete, fakes.enqueued[0].taskType)
	require.True(t, fakes.enqueued[0].payload.(tasks.SyncPayload).Full)
}

type enqueuedTask struct {
	taskType  string
	dedupeKey string
	payload   interface{}
}

type apiFakes struct {
	exchange      strava.TokenExchange
	exchangeErr   error
	exchangeCalls int

	athlete        *domain.Athlete
	upserted       *domain.Athlete
	emailConfirmed bool
	bestEfforts    []domain.BestEffort
	races          []domain.Race
	racesYear      int

	summary domain.Summary

	chargeResult  domain.ChargeResult
	chargeErr     error
	promosGranted bool

	enqueued []enqueuedTask
}

func (f *apiFakes) Exchange(_ context.Context, _ string) (strava.TokenExchange, error) {
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return strava.TokenExchange{}, f.exchangeErr
	}
	return f.exchange, nil
}

func (f *apiFakes) UpsertAthlete(_ context.Context, a domain.Athlete) (domain.Athlete, error) {
	f.upserted = &a
	return a, nil
}

func (f *apiFakes) GetAthlete(_ context.Context, athleteID int64) (domain.Athlete, error) {
	if f.athlete == nil || f.athlete.ID != athleteID {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return *f.athlete, nil
}

func (f *apiFakes) GetAthleteByConfirmationToken(_ context.Context, token string) (domain.Athlete, error) {
	if f.athlete == nil || f.athlete.ConfirmationToken != token {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return *f.athlete, nil
}

func (f *apiFakes) ConfirmEmail(context.Context, int64) error {
	f.emailConfirmed = true
	return nil
}

func (f *apiFakes) ListBestEfforts(context.Context, int64, string) ([]domain.BestEffort, error) {
	return f.bestEfforts, nil
}

func (f *apiFakes) ListRaces(_ context.Context, _ int64, _ string, year int) ([]domain.Race, error) {
	f.racesYear = year
	return f.races, nil
}

func (f *apiFakes) Charge(_ context.Context, _ domain.Athlete, _, _ string) (domain.ChargeResult, error) {
	if f.chargeErr != nil {
		return domain.ChargeResult{}, f.chargeErr
	}
	return f.chargeResult, nil
}

func (f *apiFakes) MaybeGrantPromotions(context.Context, domain.Athlete) {
	f.promosGranted = true
}

func (f *apiFakes) Summary(context.Context, int64) (domain.Summary, error) {
	return f.summary, nil
}

func (f *apiFakes) Enqueue(_ context.Context, taskType, dedupeKey string, payload interface{}) (bool, error) {
	f.enqueued = append(f.enqueued, enqueuedTask{taskType: taskType, dedupeKey: dedupeKey, payload: payload})
	return true, nil
}
