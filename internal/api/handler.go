package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencredit/kestrel/internal/agent"
	"github.com/opencredit/kestrel/internal/appraisal"
	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/review"
	"github.com/opencredit/kestrel/internal/sanitize"
	"github.com/opencredit/kestrel/internal/schema"
	"github.com/opencredit/kestrel/internal/synth"
	"github.com/opencredit/kestrel/internal/tabular"
)

// maxUploadBytes bounds multipart CSV uploads.
const maxUploadBytes = 32 << 20

// reportCacheTTL is how long rendered reports stay cached.
const reportCacheTTL = time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *appraisal.Pipeline
	agent    *agent.Client
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline *appraisal.Pipeline, agentClient *agent.Client, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		pipeline: pipeline,
		agent:    agentClient,
		version:  version,
	}
}

// AppraisalResponse is the response for POST /v1/appraisals.
type AppraisalResponse struct {
	Run       *domain.Run       `json:"run"`
	Decisions []domain.Decision `json:"decisions"`
	Metadata  struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// CreateAppraisal handles POST /v1/appraisals: a multipart upload with the
// applicant batch in the "file" part and policy thresholds as form fields.
func (h *Handler) CreateAppraisal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart form expected",
		})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "file part is required",
		})
		return
	}
	defer file.Close()

	batch, err := tabular.DecodeBatch(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CSV: " + err.Error(),
		})
		return
	}

	policy, err := h.resolvePolicy(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	currency := domain.CurrencyOrDefault(r.FormValue("currency_code"))

	result, err := h.pipeline.Run(ctx, &appraisal.Input{
		TenantID:     tenantID,
		Batch:        batch,
		Policy:       policy,
		CurrencyCode: currency.Code,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	resp := AppraisalResponse{
		Run:       result.Run,
		Decisions: result.Decisions,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// resolvePolicy loads a stored policy when policy_id is given, otherwise
// builds one from the form fields.
func (h *Handler) resolvePolicy(r *http.Request) (*domain.RulePolicy, error) {
	if policyID := r.FormValue("policy_id"); policyID != "" {
		if h.repo == nil {
			return nil, errors.New("policy storage not available")
		}
		return h.repo.GetPolicy(r.Context(), GetTenantID(r.Context()), policyID)
	}
	return parsePolicyForm(r)
}

// ListRuns returns the tenant's appraisal runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = t
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, since)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetRunReport renders a run report in the requested format. Rendered
// reports are cached per run and format.
func (h *Handler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = appraisal.FormatJSON
	}
	if !appraisal.ValidFormat(format) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown report format: " + format,
		})
		return
	}

	if h.cache != nil {
		if data, err := h.cache.GetReport(ctx, tenantID, runID, format); err == nil && data != nil {
			w.Header().Set("Content-Type", appraisal.ContentType(format))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	decisions, err := h.repo.ListDecisions(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to list decisions", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load decisions",
		})
		return
	}

	data, err := appraisal.RenderReport(run, decisions, format)
	if err != nil {
		slog.Error("failed to render report", "run_id", runID, "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to render report",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, runID, format, data, reportCacheTTL); err != nil {
			slog.Warn("failed to cache report", "run_id", runID, "error", err)
		}
	}

	w.Header().Set("Content-Type", appraisal.ContentType(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// CreatePolicy stores a named rule policy for later runs.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var policy domain.RulePolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if policy.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if err := policy.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	policy.TenantID = tenantID
	policy.Enabled = true

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, tenantID, &policy); err != nil {
		slog.Error("failed to save policy", "id", policy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	slog.Info("policy created", "id", policy.ID, "name", policy.Name, "kind", policy.Kind)
	writeJSON(w, http.StatusCreated, policy)
}

// ListPolicies returns the tenant's stored policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policies", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list policies",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
	})
}

// GetPolicy retrieves a stored policy by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	policy, err := h.repo.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "policy not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

// DeletePolicy disables a stored policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicy(ctx, tenantID, policyID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "policy not found",
		})
		return
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "policy deleted",
	})
}

// SubmitReviews records human review decisions for a run and returns the
// refreshed agreement report.
func (h *Handler) SubmitReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	var records []domain.ReviewRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	for i := range records {
		records[i].RunID = runID
	}

	if err := review.ValidateRecords(records); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if _, err := h.repo.GetRun(ctx, tenantID, runID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	if err := h.repo.SaveReviews(ctx, tenantID, records); err != nil {
		slog.Error("failed to save reviews", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save reviews",
		})
		return
	}

	decisions, err := h.repo.ListDecisions(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to list decisions", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load decisions",
		})
		return
	}

	all, err := h.repo.ListReviews(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to list reviews", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load reviews",
		})
		return
	}

	report := review.Agreement(runID, all, decisions)
	if err := h.repo.SaveAgreement(ctx, tenantID, report); err != nil {
		slog.Error("failed to save agreement", "run_id", runID, "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"run_id":    runID,
			"tenant_id": tenantID,
			"reviews":   len(records),
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicReviewRecorded, payload); err != nil {
			slog.Error("failed to publish review event", "run_id", runID, "error", err)
		}
	}

	slog.Info("reviews recorded",
		"run_id", runID,
		"tenant_id", tenantID,
		"count", len(records),
		"agreement_score", report.Score,
	)
	writeJSON(w, http.StatusOK, report)
}

// GetAgreement retrieves the stored agreement report for a run.
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetAgreement(ctx, tenantID, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "agreement not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// SynthRequest is the request body for POST /v1/synthetic.
type SynthRequest struct {
	Count        int     `json:"count"`
	NonBankRatio float64 `json:"nonBankRatio,omitempty"`
	CurrencyCode string  `json:"currencyCode,omitempty"`
	IncludePII   bool    `json:"includePii,omitempty"`
	Seed         int64   `json:"seed,omitempty"`
}

// GenerateSynthetic builds a synthetic applicant batch and returns it as
// CSV for download or for feeding straight back into an appraisal.
func (h *Handler) GenerateSynthetic(w http.ResponseWriter, r *http.Request) {
	var req SynthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	batch, err := synth.Generate(synth.Params{
		Count:        req.Count,
		NonBankRatio: req.NonBankRatio,
		CurrencyCode: req.CurrencyCode,
		IncludePII:   req.IncludePII,
		Seed:         req.Seed,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="synthetic_applications.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := tabular.EncodeBatch(w, batch); err != nil {
		slog.Error("failed to encode synthetic batch", "error", err)
	}
}

// SanitizePreview runs the PII scrubber on an uploaded batch without
// appraising it, so operators can inspect what would be dropped.
func (h *Handler) SanitizePreview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart form expected",
		})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "file part is required",
		})
		return
	}
	defer file.Close()

	batch, err := tabular.DecodeBatch(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CSV: " + err.Error(),
		})
		return
	}

	clean, dropped := sanitize.Sanitize(batch)
	normalized := schema.Normalize(clean)

	writeJSON(w, http.StatusOK, map[string]any{
		"droppedColumns": dropped,
		"columns":        normalized.Columns,
		"recordCount":    normalized.Len(),
	})
}

// Train relays a training request to the scoring agent.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	if h.agent == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring agent not configured",
		})
		return
	}

	var req agent.TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.agent.Train(r.Context(), &req)
	if err != nil {
		slog.Error("training relay failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "training request failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Promote relays a candidate-model promotion to the scoring agent and
// announces it on the bus.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.agent == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring agent not configured",
		})
		return
	}

	meta, err := h.agent.Promote(ctx)
	if err != nil {
		slog.Error("promotion relay failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "promotion failed: " + err.Error(),
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(meta)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTrainingPromoted, payload); err != nil {
			slog.Error("failed to publish promotion event", "error", err)
		}
	}

	slog.Info("model promoted", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, meta)
}

// ProductionMeta relays the production model metadata query.
func (h *Handler) ProductionMeta(w http.ResponseWriter, r *http.Request) {
	if h.agent == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring agent not configured",
		})
		return
	}

	meta, err := h.agent.ProductionMeta(r.Context())
	if err != nil {
		slog.Error("production meta relay failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "production meta query failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// ListCurrencies returns the supported currency table.
func (h *Handler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"currencies": domain.Currencies,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
