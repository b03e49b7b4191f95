package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// ErrRunInProgress is returned when a run is requested while another
// one is still executing. Only one run may be active at a time.
var ErrRunInProgress = errors.New("detection run already in progress")

// Engine orchestrates the detection modules: it runs them in parallel,
// filters the candidate alerts through the suppressor, persists the
// survivors and recomputes operator risk scores.
type Engine struct {
	store      domain.Store
	bus        domain.EventBus
	suppressor *Suppressor
	aggregator *RiskAggregator
	modules    []Module
	lookback   time.Duration

	running atomic.Bool

	mu         sync.RWMutex
	lastResult *domain.EngineResult
}

// NewEngine wires the five detection modules from configuration.
// The bus may be nil; completed runs are then simply not announced.
func NewEngine(s domain.Store, bus domain.EventBus, suppressor *Suppressor, cfg domain.DetectionConfig) *Engine {
	lookbackDays := cfg.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = 30
	}

	return &Engine{
		store:      s,
		bus:        bus,
		suppressor: suppressor,
		aggregator: NewRiskAggregator(s),
		lookback:   time.Duration(lookbackDays) * 24 * time.Hour,
		modules: []Module{
			NewGhostCancellation(s, cfg.GhostCancellationDelay),
			NewPbmDeviation(s, cfg.PbmWindow),
			NewNoSale(s, cfg.NoSaleThreshold),
			NewCpfAbuse(s, cfg.CpfThreshold, cfg.CpfEmployeeThreshold),
			NewCashDiscrepancy(s, cfg.CashDiscrepancyMin),
		},
	}
}

// RunOptions tunes a single engine run.
type RunOptions struct {
	// Since overrides the lookback cutoff when non-zero.
	Since time.Time

	// SyncID links the run to the sync that triggered it.
	SyncID string
}

// Run executes all modules once. Concurrent calls beyond the first get
// ErrRunInProgress; nothing queues.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*domain.EngineResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	startedAt := time.Now().UTC()
	since := opts.Since
	if since.IsZero() {
		since = startedAt.Add(-e.lookback)
	}

	result := &domain.EngineResult{
		RunID:     domain.NewDetectionRunID(startedAt),
		StartedAt: startedAt,
		SyncID:    opts.SyncID,
		Modules:   make([]domain.DetectionResult, len(e.modules)),
	}

	slog.Info("detection run starting",
		"run_id", result.RunID,
		"since", since,
		"modules", len(e.modules),
	)

	type moduleOutput struct {
		alerts []*domain.FraudAlert
	}
	outputs := make([]moduleOutput, len(e.modules))

	var wg sync.WaitGroup
	for i, mod := range e.modules {
		wg.Add(1)
		go func(idx int, m Module) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("detection module panicked",
						"module", m.Type(),
						"panic", r,
					)
					result.Modules[idx] = domain.DetectionResult{
						Module: m.Type(),
						Err:    fmt.Sprintf("panic: %v", r),
					}
				}
			}()

			modStart := time.Now()
			alerts, err := m.Detect(ctx, since)
			dr := domain.DetectionResult{
				Module:   m.Type(),
				Duration: time.Since(modStart),
			}
			if err != nil {
				dr.Err = err.Error()
			} else {
				dr.AlertsFound = len(alerts)
				outputs[idx] = moduleOutput{alerts: alerts}
			}
			result.Modules[idx] = dr
		}(i, mod)
	}
	wg.Wait()

	// Suppression and persistence happen after all modules finish so a
	// failed module never leaves a half-written run.
	for i := range outputs {
		for _, alert := range outputs[i].alerts {
			if e.suppressor != nil {
				if suppressed, ruleID := e.suppressor.Suppressed(alert); suppressed {
					result.Suppressed++
					slog.Debug("alert suppressed",
						"alert_type", alert.Type,
						"operator_cpf", alert.OperatorCPF,
						"rule_id", ruleID,
					)
					continue
				}
			}

			if err := e.store.SaveAlert(ctx, alert); err != nil {
				slog.Error("failed to save alert",
					"alert_id", alert.ID,
					"alert_type", alert.Type,
					"error", err,
				)
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to save alert %s: %v", alert.ID, err))
				continue
			}
			result.Alerts = append(result.Alerts, alert)
			result.TotalAlerts++

			e.publishAlert(ctx, alert)
		}
	}

	// A broken aggregator costs the score refresh, not the run: the
	// alerts are already persisted and the audit record still lands.
	scores, err := e.aggregator.Aggregate(ctx, since)
	if err != nil {
		slog.Error("risk aggregation failed", "run_id", result.RunID, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("risk aggregation failed: %v", err))
	}
	for _, score := range scores {
		if score.Score > 0 {
			result.OperatorsAtRisk++
		}
		if score.Level == domain.RiskCritical {
			result.CriticalOperators++
		}
	}

	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Status = moduleRunStatus(result.Modules)
	if len(result.Errors) > 0 && result.Status == domain.RunSuccess {
		result.Status = domain.RunPartial
	}

	if err := e.store.SaveDetectionRun(ctx, &domain.DetectionRun{
		RunID:       result.RunID,
		Status:      result.Status,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Duration:    result.Duration,
		TotalAlerts: result.TotalAlerts,
		Suppressed:  result.Suppressed,
		Errors:      runErrors(result),
		SyncID:      result.SyncID,
	}); err != nil {
		slog.Error("failed to record detection run", "run_id", result.RunID, "error", err)
	}

	e.publishCompleted(ctx, result)

	e.mu.Lock()
	e.lastResult = result
	e.mu.Unlock()

	slog.Info("detection run finished",
		"run_id", result.RunID,
		"status", result.Status,
		"total_alerts", result.TotalAlerts,
		"suppressed", result.Suppressed,
		"operators_at_risk", result.OperatorsAtRisk,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// Running reports whether a run is currently executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the most recent completed run, or nil.
func (e *Engine) LastResult() *domain.EngineResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

func (e *Engine) publishAlert(ctx context.Context, alert *domain.FraudAlert) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.Warn("failed to publish alert", "alert_id", alert.ID, "error", err)
	}
}

func (e *Engine) publishCompleted(ctx context.Context, result *domain.EngineResult) {
	if e.bus == nil {
		return
	}

	// Announce the summary, not the alert bodies.
	trimmed := *result
	trimmed.Alerts = nil

	payload, err := json.Marshal(&trimmed)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicDetectionCompleted, payload); err != nil {
		slog.Warn("failed to publish detection completion", "run_id", result.RunID, "error", err)
	}
}

// runErrors flattens a result's failures into the audit record's
// error list: per-module errors first, then run-level ones.
func runErrors(result *domain.EngineResult) []string {
	var errs []string
	for _, m := range result.Modules {
		if m.Err != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", m.Module, m.Err))
		}
	}
	return append(errs, result.Errors...)
}

// moduleRunStatus folds per-module outcomes into a run status:
// all clean is SUCCESS, all failed is FAILED, anything between PARTIAL.
func moduleRunStatus(modules []domain.DetectionResult) domain.RunStatus {
	failed := 0
	for _, m := range modules {
		if m.Err != "" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return domain.RunSuccess
	case failed == len(modules):
		return domain.RunFailed
	default:
		return domain.RunPartial
	}
}
