// Package api exposes the HTTP surface: the OAuth callback flow, athlete
// profile reads and the subscription endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emilgoldsmith/strafforts/internal/auth"
	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/reference"
	"github.com/emilgoldsmith/strafforts/internal/strava"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

// Repository is the read/write surface the handlers use.
type Repository interface {
	UpsertAthlete(ctx context.Context, a domain.Athlete) (domain.Athlete, error)
	GetAthlete(ctx context.Context, athleteID int64) (domain.Athlete, error)
	GetAthleteByConfirmationToken(ctx context.Context, token string) (domain.Athlete, error)
	ConfirmEmail(ctx context.Context, athleteID int64) error
	ListBestEfforts(ctx context.Context, athleteID int64, effortType string) ([]domain.BestEffort, error)
	ListRaces(ctx context.Context, athleteID int64, distanceName string, year int) ([]domain.Race, error)
}

// Exchanger swaps an OAuth authorization code for tokens and a profile.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (strava.TokenExchange, error)
}

// Billing is the subscription surface the handlers use.
type Billing interface {
	Charge(ctx context.Context, athlete domain.Athlete, planName, cardToken string) (domain.ChargeResult, error)
	MaybeGrantPromotions(ctx context.Context, athlete domain.Athlete)
}

// Summarizer serves cached profile summaries.
type Summarizer interface {
	Summary(ctx context.Context, athleteID int64) (domain.Summary, error)
}

// Enqueuer schedules background work.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType, dedupeKey string, payload interface{}) (bool, error)
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	repo       Repository
	exchanger  Exchanger
	billing    Billing
	summaries  Summarizer
	queue      Enqueuer
	appBaseURL string
}

// NewHandler builds a Handler. appBaseURL is where browser-facing flows
// redirect to.
func NewHandler(repo Repository, exchanger Exchanger, billing Billing, summaries Summarizer, queue Enqueuer, appBaseURL string) *Handler {
	return &Handler{
		repo:       repo,
		exchanger:  exchanger,
		billing:    billing,
		summaries:  summaries,
		queue:      queue,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/exchange-token", h.exchangeToken)
	mux.HandleFunc("/auth/deauthorize", h.deauthorize)
	mux.HandleFunc("/auth/confirm-email", h.confirmEmail)
	mux.HandleFunc("/api/athletes/", h.athleteRoutes)
	mux.HandleFunc("/healthz", healthz)
}

// PublicPath reports whether a request path skips bearer authentication. The
// auth flows carry their own credentials.
func PublicPath(r *http.Request) bool {
	if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/auth/")
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// exchangeToken is the OAuth callback. Browser-facing, so failures redirect
// to the app's error pages: a denied or under-scoped grant is the visitor's
// doing (400), an upstream exchange failure is not (503).
func (h *Handler) exchangeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	code := r.URL.Query().Get("code")
	scope := r.URL.Query().Get("scope")
	if r.URL.Query().Get("error") != "" || code == "" {
		h.redirect(w, r, "/errors/400")
		return
	}
	if err := strava.ValidateScopes(scope); err != nil {
		log.Printf("api: exchange rejected: %v", err)
		h.redirect(w, r, "/errors/400")
		return
	}

	exchange, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("api: token exchange failed: %v", err)
		h.redirect(w, r, "/errors/503")
		return
	}

	athlete, err := h.repo.UpsertAthlete(r.Context(), domain.Athlete{
		ID:             exchange.Athlete.ID,
		FirstName:      exchange.Athlete.FirstName,
		LastName:       exchange.Athlete.LastName,
		Email:          exchange.Athlete.Email,
		ProfileURL:     exchange.Athlete.Profile,
		AccessToken:    exchange.Grant.AccessToken,
		RefreshToken:   exchange.Grant.RefreshToken,
		TokenExpiresAt: exchange.Grant.ExpiresAt,
	})
	if err != nil {
		log.Printf("api: athlete upsert failed: %v", err)
		h.redirect(w, r, "/errors/503")
		return
	}

	h.billing.MaybeGrantPromotions(r.Context(), athlete)

	if _, err := h.queue.Enqueue(r.Context(), tasks.TypeSyncAthlete,
		"athlete:"+strconv.FormatInt(athlete.ID, 10),
		tasks.SyncPayload{AthleteID: athlete.ID}); err != nil {
		log.Printf("api: sync enqueue failed for athlete %d: %v", athlete.ID, err)
	}

	h.redirect(w, r, "/athletes/"+strconv.FormatInt(athlete.ID, 10))
}

// deauthorize queues the athlete's removal. The access token is the
// credential here, so the endpoint is public.
func (h *Handler) deauthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req DeauthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "access_token is required")
		return
	}

	if _, err := h.queue.Enqueue(r.Context(), tasks.TypeDeauthorizeAthlete, req.AccessToken,
		tasks.DeauthorizePayload{AccessToken: req.AccessToken}); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// confirmEmail flips the confirmation flag for the one-shot token and
// subscribes the address to the mailing list.
func (h *Handler) confirmEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.redirect(w, r, "/errors/400")
		return
	}

	athlete, err := h.repo.GetAthleteByConfirmationToken(r.Context(), token)
	if err != nil {
		h.redirect(w, r, "/errors/400")
		return
	}
	if err := h.repo.ConfirmEmail(r.Context(), athlete.ID); err != nil {
		log.Printf("api: email confirmation failed for athlete %d: %v", athlete.ID, err)
		h.redirect(w, r, "/errors/503")
		return
	}

	if athlete.Email != "" {
		if _, err := h.queue.Enqueue(r.Context(), tasks.TypeMailingListUpdate, athlete.Email,
			tasks.MailingListPayload{Email: athlete.Email, Subscribe: true}); err != nil {
			log.Printf("api: mailing list enqueue failed for athlete %d: %v", athlete.ID, err)
		}
	}

	h.redirect(w, r, "/athletes/"+strconv.FormatInt(athlete.ID, 10))
}

// athleteRoutes dispatches /api/athletes/{id}/... subresources.
func (h *Handler) athleteRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/athletes/")
	parts := strings.SplitN(rest, "/", 2)
	athleteID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || athleteID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid athlete id")
		return
	}

	resource := ""
	if len(parts) == 2 {
		resource = parts[1]
	}

	switch {
	case resource == "meta" && r.Method == http.MethodGet:
		h.meta(w, r, athleteID)
	case resource == "best-efforts" && r.Method == http.MethodGet:
		h.bestEfforts(w, r, athleteID)
	case resource == "races" && r.Method == http.MethodGet:
		h.races(w, r, athleteID)
	case resource == "subscriptions" && r.Method == http.MethodPost:
		h.charge(w, r, athleteID)
	case resource == "sync" && r.Method == http.MethodPost:
		h.requestSync(w, r, athleteID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) meta(w http.ResponseWriter, r *http.Request, athleteID int64) {
	if !h.authorize(w, r, athleteID, auth.ScopeAthleteRead) {
		return
	}

	athlete, err := h.repo.GetAthlete(r.Context(), athleteID)
	if err != nil {
		writeAthleteError(w, err)
		return
	}

	summary, err := h.summaries.Summary(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toMetaView(athlete, summary))
}

func (h *Handler) bestEfforts(w http.ResponseWriter, r *http.Request, athleteID int64) {
	if !h.authorize(w, r, athleteID, auth.ScopeAthleteRead) {
		return
	}

	effortType := r.URL.Query().Get("type")
	if _, ok := reference.BestEffortTypeByName(effortType); !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown best-effort type")
		return
	}

	efforts, err := h.repo.ListBestEfforts(r.Context(), athleteID, effortType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]BestEffortView, 0, len(efforts))
	for _, effort := range efforts {
		items = append(items, toBestEffortView(effort))
	}
	writeJSON(w, http.StatusOK, BestEffortsResponse{EffortType: effortType, Items: items})
}

func (h *Handler) races(w http.ResponseWriter, r *http.Request, athleteID int64) {
	if !h.authorize(w, r, athleteID, auth.ScopeAthleteRead) {
		return
	}

	distance := r.URL.Query().Get("distance")
	if distance != "" {
		if _, ok := reference.RaceDistanceByName(distance); !ok {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown race distance")
			return
		}
	}
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid year")
			return
		}
		year = parsed
	}

	races, err := h.repo.ListRaces(r.Context(), athleteID, distance, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]RaceView, 0, len(races))
	for _, race := range races {
		items = append(items, RaceView{
			ActivityID:   race.ActivityID,
			RaceDistance: race.RaceDistance.Name,
			StartDate:    race.StartDate,
		})
	}
	writeJSON(w, http.StatusOK, RacesResponse{Items: items})
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request, athleteID int64) {
	if !h.authorize(w, r, athleteID, auth.ScopeBilling) {
		return
	}

	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	athlete, err := h.repo.GetAthlete(r.Context(), athleteID)
	if err != nil {
		writeAthleteError(w, err)
		return
	}

	result, err := h.billing.Charge(r.Context(), athlete, req.PlanName, req.CardToken)
	if err != nil {
		writeChargeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ChargeResponse{
		SubscriptionID:   result.Subscription.ID,
		PlanName:         result.Subscription.PlanName,
		ExpiresAt:        result.Subscription.ExpiresAt,
		ProviderChargeID: result.ProviderChargeID,
		AmountCents:      result.AmountCents,
		Skipped:          result.Skipped,
	})
}

func (h *Handler) requestSync(w http.ResponseWriter, r *http.Request, athleteID int64) {
	if !h.authorize(w, r, athleteID, auth.ScopeAthleteWrite) {
		return
	}

	full := r.URL.Query().Get("full") == "true"
	if _, err := h.queue.Enqueue(r.Context(), tasks.TypeSyncAthlete,
		"athlete:"+strconv.FormatInt(athleteID, 10),
		tasks.SyncPayload{AthleteID: athleteID, Full: full}); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// authorize enforces the bearer scope and that the token belongs to the
// addressed athlete.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, athleteID int64, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	if claims.AthleteID != athleteID {
		writeError(w, http.StatusForbidden, "forbidden", "token does not match athlete")
		return false
	}
	return true
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.appBaseURL+path, http.StatusFound)
}

// DeauthorizeRequest is the payload for POST /auth/deauthorize.
type DeauthorizeRequest struct {
	AccessToken string `json:"access_token"`
}

// ChargeRequest is the payload for POST /api/athletes/{id}/subscriptions.
type ChargeRequest struct {
	PlanName  string `json:"plan_name"`
	CardToken string `json:"card_token"`
}

// ChargeResponse describes a completed subscription purchase.
type ChargeResponse struct {
	SubscriptionID   string     `json:"subscription_id"`
	PlanName         string     `json:"plan_name"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ProviderChargeID string     `json:"provider_charge_id,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	Skipped          bool       `json:"skipped"`
}

// MetaView is the athlete profile summary response.
type MetaView struct {
	AthleteID            int64          `json:"athlete_id"`
	FirstName            string         `json:"first_name"`
	LastName             string         `json:"last_name"`
	ProfileURL           string         `json:"profile_url"`
	IsPro                bool           `json:"is_pro"`
	EmailConfirmed       bool           `json:"email_confirmed"`
	TotalRunCount        int            `json:"total_run_count"`
	BestEffortCounts     map[string]int `json:"best_effort_counts"`
	PersonalBestCounts   map[string]int `json:"personal_best_counts"`
	RaceCountsByDistance map[string]int `json:"race_counts_by_distance"`
	RaceCountsByYear     map[int]int    `json:"race_counts_by_year"`
	ComputedAt           time.Time      `json:"computed_at"`
}

// BestEffortView is one ranked best-effort entry.
type BestEffortView struct {
	ActivityID   int64     `json:"activity_id"`
	ElapsedTime  int       `json:"elapsed_time"`
	Rank         int       `json:"rank"`
	PersonalBest bool      `json:"personal_best"`
	StartDate    time.Time `json:"start_date"`
}

// BestEffortsResponse packages a ranked best-effort list.
type BestEffortsResponse struct {
	EffortType string           `json:"effort_type"`
	Items      []BestEffortView `json:"items"`
}

// RaceView is one classified race.
type RaceView struct {
	ActivityID   int64     `json:"activity_id"`
	RaceDistance string    `json:"race_distance"`
	StartDate    time.Time `json:"start_date"`
}

// RacesResponse packages a race list.
type RacesResponse struct {
	Items []RaceView `json:"items"`
}

func toMetaView(athlete domain.Athlete, summary domain.Summary) MetaView {
	return MetaView{
		AthleteID:            athlete.ID,
		FirstName:            athlete.FirstName,
		LastName:             athlete.LastName,
		ProfileURL:           athlete.ProfileURL,
		IsPro:                summary.IsPro,
		EmailConfirmed:       athlete.EmailConfirmed,
		TotalRunCount:        summary.TotalRunCount,
		BestEffortCounts:     summary.BestEffortCounts,
		PersonalBestCounts:   summary.PersonalBestCounts,
		RaceCountsByDistance: summary.RaceCountsByDistance,
		RaceCountsByYear:     summary.RaceCountsByYear,
		ComputedAt:           summary.ComputedAt,
	}
}

func toBestEffortView(effort domain.BestEffort) BestEffortView {
	return BestEffortView{
		ActivityID:   effort.ActivityID,
		ElapsedTime:  effort.ElapsedTime,
		Rank:         effort.Rank,
		PersonalBest: effort.PersonalBest,
		StartDate:    effort.StartDate,
	}
}

func writeAthleteError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrAthleteNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeChargeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
		return
	}
	if errors.Is(err, domain.ErrPlanNotFound) {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown plan")
		return
	}
	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) {
		writeError(w, http.StatusPaymentRequired, "payment_failed", paymentErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
