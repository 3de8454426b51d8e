package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/fuelguard/internal/cases"
	"github.com/opensource-finance/fuelguard/internal/detector"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/ingest"
	"github.com/opensource-finance/fuelguard/internal/monitor"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/repository"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = validator.New()

// Deps are the services the handlers call. Repo, Cache, Bus and Monitor may
// be nil.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Registry *detector.Registry
	Rules    *rules.Engine
	Patterns *pattern.Matcher
	Cases    *cases.Manager
	Accuracy *cases.AccuracyTracker
	Monitor  *monitor.Scheduler
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// EvaluateResponse is the response for POST /events/{kind}.
type EvaluateResponse struct {
	Assessment detector.Assessment `json:"assessment"`
	Case       *domain.FraudCase   `json:"case,omitempty"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /events/{kind}: the record is stored and scored
// synchronously by the detector of its kind.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	rec, err := ingest.Decode(kind, body)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownKind):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	// Claimed before it is stored so a monitoring scan never scores it twice.
	h.deps.Registry.Claim(ctx, rec)
	if h.deps.Repo != nil {
		stored, err := domain.Envelope(rec)
		if err == nil {
			err = h.deps.Repo.SaveRecord(ctx, stored)
		}
		if err != nil {
			slog.Error("failed to save record", "kind", kind, "record_id", rec.RecordID(), "error", err)
		}
	}

	out, err := h.deps.Registry.Evaluate(ctx, rec)
	if err != nil {
		slog.Error("detection failed", "kind", kind, "record_id", rec.RecordID(), "error", err)
		writeError(w, http.StatusInternalServerError, "detection failed")
		return
	}

	resp := EvaluateResponse{Assessment: out.Assessment, Case: out.Case}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.deps.Version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(ctx); err != nil {
			slog.Warn("repository unhealthy", "error", err)
			status = "degraded"
		}
	}
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(ctx); err != nil {
			slog.Warn("cache unhealthy", "error", err)
			status = "degraded"
		}
	}
	if h.deps.Bus != nil {
		if err := h.deps.Bus.Ping(ctx); err != nil {
			slog.Warn("event bus unhealthy", "error", err)
			status = "degraded"
		}
	}

	accuracy := cases.DefaultAccuracy
	if h.deps.Accuracy != nil {
		acc, err := h.deps.Accuracy.CurrentAccuracy(ctx)
		if err != nil {
			slog.Warn("failed to compute accuracy", "error", err)
			status = "degraded"
		} else {
			accuracy = acc
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"timestamp":        time.Now().UTC(),
		"accuracy":         accuracy,
		"detectorStatuses": h.deps.Registry.Statuses(),
		"version":          h.deps.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListCases handles GET /cases with optional type, status, location,
// since, until and limit query parameters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CaseFilter{
		Type:     domain.FraudType(q.Get("type")),
		Status:   domain.CaseStatus(q.Get("status")),
		Location: q.Get("location"),
		Limit:    100,
	}

	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown fraud type")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	for param, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, param+" must be an RFC 3339 timestamp")
				return
			}
			*dst = t
		}
	}

	list, err := h.deps.Cases.ListCases(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if list == nil {
		list = []*domain.FraudCase{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": list,
		"count": len(list),
	})
}

// GetCase retrieves a case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.deps.Cases.GetCase(r.Context(), id)
	if err != nil {
		writeStoreError(w, "case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateStatusRequest is the request body for PATCH /cases/{id}/status.
type UpdateStatusRequest struct {
	Status domain.CaseStatus `json:"status" validate:"required,oneof=investigating confirmed false_positive"`
}

// UpdateCaseStatus moves a case forward in its lifecycle.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	c, err := h.deps.Cases.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, cases.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeStoreError(w, "case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.deps.Rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule definition from the store.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.deps.Repo == nil {
		for _, rule := range h.deps.Rules.GetLoadedRules() {
			if rule.ID == id {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	rule, err := h.deps.Repo.GetRuleConfig(r.Context(), id)
	if err != nil {
		writeStoreError(w, "rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	Domain      string  `json:"domain" validate:"required,oneof=pump transaction inventory driver pricing document"`
	Expression  string  `json:"expression" validate:"required"`
	Weight      float64 `json:"weight" validate:"gte=0,lte=1"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates a rule and saves it to the store. Call
// POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Domain:      req.Domain,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Confidence:  req.Confidence,
		Enabled:     req.Enabled,
	}

	if err := h.deps.Rules.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.deps.Repo.SaveRuleConfig(r.Context(), rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "domain", rule.Domain)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules swaps the engine's rule table for the stored definitions.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.deps.Repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.deps.Rules.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", h.deps.Rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.deps.Rules.RulesCount(),
	})
}

// ListPatterns returns the loaded fraud pattern library.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	loaded := h.deps.Patterns.Patterns()

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": loaded,
		"count":    len(loaded),
	})
}

// CreatePatternRequest is the request body for adding a fraud pattern.
type CreatePatternRequest struct {
	ID          string   `json:"id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" validate:"required,oneof=pump transaction inventory driver pricing document"`
	Indicators  []string `json:"indicators" validate:"required,min=1,dive,required"`
	RiskScore   float64  `json:"riskScore" validate:"gte=0,lte=1"`
}

// CreatePattern validates a pattern and saves it to the store. Call
// POST /patterns/reload to apply it.
func (h *Handler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	var req CreatePatternRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	p := &domain.FraudPattern{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Indicators:  req.Indicators,
		RiskScore:   req.RiskScore,
	}

	if err := h.deps.Patterns.Validate(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern: "+err.Error())
		return
	}

	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.deps.Repo.SavePattern(r.Context(), p); err != nil {
		slog.Error("failed to save pattern", "id", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save pattern")
		return
	}

	slog.Info("pattern created", "id", p.ID, "category", p.Category)
	writeJSON(w, http.StatusCreated, map[string]any{
		"pattern": p,
		"message": "Pattern created. Call POST /patterns/reload to apply changes.",
	})
}

// ReloadPatterns swaps the matcher's library for the stored patterns.
func (h *Handler) ReloadPatterns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.deps.Repo.ListPatterns(r.Context())
	if err != nil {
		slog.Error("failed to list patterns from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load patterns from database")
		return
	}

	if err := h.deps.Patterns.Reload(stored); err != nil {
		slog.Error("failed to reload patterns", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "failed to reload patterns: "+err.Error())
		return
	}

	slog.Info("patterns reloaded from database", "count", h.deps.Patterns.Count())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "patterns reloaded successfully",
		"count":   h.deps.Patterns.Count(),
	})
}

// Accuracy returns detection accuracy over the trailing window.
func (h *Handler) Accuracy(w http.ResponseWriter, r *http.Request) {
	if h.deps.Accuracy == nil {
		writeError(w, http.StatusServiceUnavailable, "accuracy tracking not available")
		return
	}

	a, err := h.deps.Accuracy.Breakdown(r.Context())
	if err != nil {
		slog.Error("failed to compute accuracy", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute accuracy")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Monitor reports the background scan loops.
func (h *Handler) Monitor(w http.ResponseWriter, r *http.Request) {
	if h.deps.Monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"running": false,
			"loops":   []monitor.LoopStats{},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.deps.Monitor.Running(),
		"loops":   h.deps.Monitor.Stats(),
	})
}

// decodeRequest parses and validates a JSON body. It writes the error
// response and returns false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			writeError(w, http.StatusBadRequest, fe.Field()+" failed "+fe.Tag()+" validation")
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, what+" was modified concurrently")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("store operation failed", "entity", what, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
