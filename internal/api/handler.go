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
	"github.com/openretail/kestrel/internal/audit"
	"github.com/openretail/kestrel/internal/detect"
	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
	"github.com/openretail/kestrel/internal/syncer"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store      domain.Store
	cache      domain.Cache
	bus        domain.EventBus
	engine     *detect.Engine
	syncer     *syncer.Syncer
	recorder   *audit.Recorder
	suppressor *detect.Suppressor
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(s domain.Store, cache domain.Cache, bus domain.EventBus, engine *detect.Engine, sy *syncer.Syncer, recorder *audit.Recorder, suppressor *detect.Suppressor, version string) *Handler {
	return &Handler{
		store:      s,
		cache:      cache,
		bus:        bus,
		engine:     engine,
		syncer:     sy,
		recorder:   recorder,
		suppressor: suppressor,
		version:    version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
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

// DetectionRunRequest is the optional request body for POST /detection/run.
type DetectionRunRequest struct {
	Since  string `json:"since,omitempty"`
	SyncID string `json:"syncId,omitempty"`
}

// RunDetection handles POST /detection/run. The run is synchronous; a
// run already in progress yields 409.
func (h *Handler) RunDetection(w http.ResponseWriter, r *http.Request) {
	var req DetectionRunRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	opts := detect.RunOptions{SyncID: req.SyncID}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		opts.Since = since
	}

	result, err := h.engine.Run(r.Context(), opts)
	if err != nil {
		if errors.Is(err, detect.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "detection run already in progress",
			})
			return
		}
		slog.Error("detection run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "detection run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DetectionStatus handles GET /detection/status.
func (h *Handler) DetectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    h.engine.Running(),
		"lastResult": h.engine.LastResult(),
	})
}

// RunSync handles POST /sync/run. The run is synchronous; a run
// already in progress yields 409.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	var opts syncer.Options
	if err := decodeOptional(r, &opts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.syncer.Sync(r.Context(), opts)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "sync already in progress",
			})
			return
		}
		slog.Error("sync run failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "sync failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SyncStatus handles GET /sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    h.syncer.Running(),
		"lastResult": h.syncer.LastResult(),
	})
}

// TestSync handles POST /sync/test: connectivity probe against the
// configured source.
func (h *Handler) TestSync(w http.ResponseWriter, r *http.Request) {
	ok := h.syncer.TestSource(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]bool{"reachable": ok})
}

// ListAlerts handles GET /alerts with optional type, severity,
// operator, since and limit query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		Type:        domain.AlertType(q.Get("type")),
		Severity:    domain.Severity(q.Get("severity")),
		OperatorCPF: q.Get("operator"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// InvestigationRequest is the request body for updating an alert's
// investigation state.
type InvestigationRequest struct {
	Status domain.InvestigationStatus `json:"status"`
	Notes  string                     `json:"notes,omitempty"`
}

// UpdateInvestigation handles PUT /alerts/{id}/investigation.
func (h *Handler) UpdateInvestigation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req InvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Status {
	case domain.InvestigationPending, domain.InvestigationReviewed,
		domain.InvestigationFalse, domain.InvestigationConfirmed:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid investigation status",
		})
		return
	}

	if err := h.store.UpdateAlertInvestigation(r.Context(), id, req.Status, req.Notes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to update investigation", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update investigation",
		})
		return
	}

	slog.Info("alert investigation updated", "id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(req.Status),
	})
}

// ListRiskScores handles GET /risk-scores with an optional minLevel
// query parameter.
func (h *Handler) ListRiskScores(w http.ResponseWriter, r *http.Request) {
	minLevel := domain.RiskLevel(r.URL.Query().Get("minLevel"))

	scores, err := h.store.ListRiskScores(r.Context(), minLevel)
	if err != nil {
		slog.Error("failed to list risk scores", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list risk scores",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scores": scores,
		"count":  len(scores),
	})
}

// GetRiskScore handles GET /risk-scores/{cpf}.
func (h *Handler) GetRiskScore(w http.ResponseWriter, r *http.Request) {
	cpf := chi.URLParam(r, "cpf")

	score, err := h.store.GetRiskScore(r.Context(), cpf)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "risk score not found",
			})
			return
		}
		slog.Error("failed to get risk score", "cpf", cpf, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get risk score",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// ListSyncRuns handles GET /audit/syncs.
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.recorder.LastSyncs(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("failed to list sync runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list sync runs",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// ListSyncErrors handles GET /audit/syncs/{id}/errors.
func (h *Handler) ListSyncErrors(w http.ResponseWriter, r *http.Request) {
	syncID := chi.URLParam(r, "id")

	errs, err := h.recorder.SyncErrors(r.Context(), syncID)
	if err != nil {
		slog.Error("failed to list sync errors", "sync_id", syncID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list sync errors",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"syncId": syncID,
		"errors": errs,
		"count":  len(errs),
	})
}

// ListDetectionRuns handles GET /audit/detections.
func (h *Handler) ListDetectionRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.recorder.LastDetections(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("failed to list detection runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list detection runs",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// AuditStats handles GET /audit/stats.
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)

	syncStats, err := h.recorder.SyncStatistics(r.Context(), limit)
	if err != nil {
		slog.Error("failed to compute sync stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute statistics",
		})
		return
	}
	detectionStats, err := h.recorder.DetectionStatistics(r.Context(), limit)
	if err != nil {
		slog.Error("failed to compute detection stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute statistics",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sync":      syncStats,
		"detection": detectionStats,
	})
}

// AuditReport handles GET /audit/report.
func (h *Handler) AuditReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.recorder.BuildReport(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("failed to build audit report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build report",
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CleanupDedupKeys handles POST /audit/dedup-keys/cleanup.
func (h *Handler) CleanupDedupKeys(w http.ResponseWriter, r *http.Request) {
	retention := 30 * 24 * time.Hour
	if v := r.URL.Query().Get("retentionHours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "retentionHours must be a positive integer",
			})
			return
		}
		retention = time.Duration(hours) * time.Hour
	}

	deleted, err := h.recorder.CleanupDedupKeys(r.Context(), retention)
	if err != nil {
		slog.Error("dedup key cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cleanup failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// SuppressionRuleRequest is the request body for creating or updating
// a suppression rule.
type SuppressionRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// ListSuppressionRules handles GET /suppression-rules.
func (h *Handler) ListSuppressionRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListSuppressionRules(r.Context())
	if err != nil {
		slog.Error("failed to list suppression rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list suppression rules",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.suppressor.RulesCount(),
	})
}

// GetSuppressionRule handles GET /suppression-rules/{id}, returning
// the latest version.
func (h *Handler) GetSuppressionRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.store.GetSuppressionRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "suppression rule not found",
			})
			return
		}
		slog.Error("failed to get suppression rule", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get suppression rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateSuppressionRule handles POST /suppression-rules. Saving an
// existing id appends a new version; the latest version wins.
func (h *Handler) CreateSuppressionRule(w http.ResponseWriter, r *http.Request) {
	var req SuppressionRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.SuppressionRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     h.nextRuleVersion(r, req.ID),
		Expression:  req.Expression,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.suppressor.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.store.SaveSuppressionRule(r.Context(), rule); err != nil {
		slog.Error("failed to save suppression rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save suppression rule",
		})
		return
	}

	if err := h.suppressor.ReloadFromStore(r.Context(), h.store); err != nil {
		slog.Error("failed to reload suppression rules", "error", err)
	}

	slog.Info("suppression rule saved", "id", rule.ID, "version", rule.Version)
	writeJSON(w, http.StatusCreated, rule)
}

// nextRuleVersion numbers rule versions sequentially per id.
func (h *Handler) nextRuleVersion(r *http.Request, id string) string {
	existing, err := h.store.GetSuppressionRule(r.Context(), id)
	if err != nil {
		return "1"
	}
	if n, convErr := strconv.Atoi(existing.Version); convErr == nil {
		return strconv.Itoa(n + 1)
	}
	return existing.Version + ".1"
}

// DeleteSuppressionRule handles DELETE /suppression-rules/{id},
// removing all versions.
func (h *Handler) DeleteSuppressionRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteSuppressionRule(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "suppression rule not found",
			})
			return
		}
		slog.Error("failed to delete suppression rule", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete suppression rule",
		})
		return
	}

	if err := h.suppressor.ReloadFromStore(r.Context(), h.store); err != nil {
		slog.Error("failed to reload suppression rules", "error", err)
	}

	slog.Info("suppression rule deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ReloadSuppressionRules handles POST /suppression-rules/reload.
func (h *Handler) ReloadSuppressionRules(w http.ResponseWriter, r *http.Request) {
	if err := h.suppressor.ReloadFromStore(r.Context(), h.store); err != nil {
		slog.Error("failed to reload suppression rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload suppression rules",
		})
		return
	}

	count := h.suppressor.RulesCount()
	slog.Info("suppression rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "suppression rules reloaded",
		"count":   count,
	})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 20
}

// decodeOptional parses an optional JSON body. An empty body leaves
// dst at its zero value.
func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
