// Package api exposes resolve and record over HTTP along with the catalog
// reads a record-entry UI needs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-resolver/internal/config"
	"github.com/sells-group/entity-resolver/internal/learning"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

// Resolver ranks candidates for a raw name.
type Resolver interface {
	Resolve(ctx context.Context, raw string, kind model.EntityKind) (*model.CandidateList, error)
}

// Recorder applies a user's decision.
type Recorder interface {
	Record(ctx context.Context, d learning.Decision) (*learning.Outcome, error)
}

// Catalog manages canonical entities.
type Catalog interface {
	CreateEntity(ctx context.Context, kind model.EntityKind, name string) (*model.CanonicalEntity, error)
	Rename(ctx context.Context, id, name string) (*model.CanonicalEntity, error)
	Get(ctx context.Context, id string) (*model.CanonicalEntity, error)
	List(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error)
	Aliases(ctx context.Context, entityID string) ([]model.Alias, error)
	AddManualAlias(ctx context.Context, entityID, rawText string) (*model.Alias, error)
}

// Decisions reads the decision log.
type Decisions interface {
	ListDecisions(ctx context.Context, filter model.DecisionFilter) ([]model.DecisionLogEntry, error)
}

// Stats summarizes recent decisions.
type Stats interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the collaborators behind the routes. Stats may be nil.
type Deps struct {
	Resolver  Resolver
	Recorder  Recorder
	Catalog   Catalog
	Decisions Decisions
	Stats     Stats
}

type handler struct {
	deps    Deps
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, cfg config.ServerConfig) http.Handler {
	log := zap.L().With(zap.String("component", "api"))
	bc := cfg.Breaker()
	bc.ShouldTrip = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	bc.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("resolve breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	h := &handler{deps: deps, breaker: resilience.NewCircuitBreaker(bc), log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Post("/resolve", h.resolve)
		r.Post("/decisions", h.record)
		r.Get("/decisions", h.listDecisions)
		r.Get("/stats", h.stats)

		r.Get("/entities", h.listEntities)
		r.Post("/entities", h.createEntity)
		r.Get("/entities/{id}", h.getEntity)
		r.Patch("/entities/{id}", h.renameEntity)
		r.Get("/entities/{id}/aliases", h.listAliases)
		r.Post("/entities/{id}/aliases", h.addAlias)
	})

	return r
}

// rateLimit rejects requests beyond rps with 429. A zero rps disables it.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type resolveRequest struct {
	RawName string           `json:"raw_name"`
	Kind    model.EntityKind `json:"kind"`
}

type resolveResponse struct {
	*model.CandidateList
	Degraded bool `json:"degraded,omitempty"`
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be supplier or bank")
		return
	}

	list, err := resilience.ExecuteVal(r.Context(), h.breaker, func(ctx context.Context) (*model.CandidateList, error) {
		return h.deps.Resolver.Resolve(ctx, req.RawName, req.Kind)
	})
	if err != nil {
		// No suggestions rather than blocking the user's choice.
		h.log.Error("resolve failed", zap.String("raw", req.RawName), zap.Error(err))
		writeJSON(w, http.StatusOK, resolveResponse{
			CandidateList: &model.CandidateList{RawInput: req.RawName, Kind: req.Kind, Candidates: []model.Candidate{}},
			Degraded:      true,
		})
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{CandidateList: list})
}

type recordResponse struct {
	*learning.Outcome
	Warning string `json:"warning,omitempty"`
}

func (h *handler) record(w http.ResponseWriter, r *http.Request) {
	var d learning.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.deps.Recorder.Record(r.Context(), d)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, recordResponse{Outcome: out})
	case learning.IsIncomplete(err) && out != nil:
		// Saved, but the system may ask the same question again.
		writeJSON(w, http.StatusAccepted, recordResponse{Outcome: out, Warning: err.Error()})
	default:
		h.fail(w, "record decision", err)
	}
}

func (h *handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DecisionFilter{
		EntityID:       q.Get("entity_id"),
		SourceRecordID: q.Get("source_record_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := h.deps.Decisions.ListDecisions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list decisions", err)
		return
	}
	if entries == nil {
		entries = []model.DecisionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stats == nil {
		writeError(w, http.StatusNotFound, "stats are not enabled")
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		hours = n
	}

	snap, err := h.deps.Stats.Collect(r.Context(), hours)
	if err != nil {
		h.fail(w, "collect stats", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) listEntities(w http.ResponseWriter, r *http.Request) {
	kind := model.EntityKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be supplier or bank")
		return
	}
	entities, err := h.deps.Catalog.List(r.Context(), kind)
	if err != nil {
		h.fail(w, "list entities", err)
		return
	}
	if entities == nil {
		entities = []model.CanonicalEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

type entityRequest struct {
	Kind model.EntityKind `json:"kind"`
	Name string           `json:"name"`
}

func (h *handler) createEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be supplier or bank")
		return
	}
	e, err := h.deps.Catalog.CreateEntity(r.Context(), req.Kind, req.Name)
	if err != nil {
		h.fail(w, "create entity", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handler) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) renameEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.deps.Catalog.Rename(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, "rename entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) listAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.deps.Catalog.Aliases(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list aliases", err)
		return
	}
	if aliases == nil {
		aliases = []model.Alias{}
	}
	writeJSON(w, http.StatusOK, aliases)
}

func (h *handler) addAlias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawText string `json:"raw_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := h.deps.Catalog.AddManualAlias(r.Context(), chi.URLParam(r, "id"), req.RawText)
	if err != nil {
		h.fail(w, "add alias", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// fail maps domain errors to status codes. Server errors are logged and
// their detail withheld.
func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", zap.Error(err))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateEntity):
		return http.StatusConflict
	case errors.Is(err, store.ErrEmptyKey), errors.Is(err, learning.ErrInvalidDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
