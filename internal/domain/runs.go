package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal status of a sync or detection run.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

// SyncError records one row that could not be ingested. The run keeps
// going; errors are collected and reported together.
type SyncError struct {
	RecordID string    `json:"recordId,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// SyncResult summarizes a completed synchronization run.
type SyncResult struct {
	SyncID     string        `json:"syncId"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Duration   time.Duration `json:"duration"`

	RecordsFetched   int `json:"recordsFetched"`
	RecordsProcessed int `json:"recordsProcessed"`
	RecordsInserted  int `json:"recordsInserted"`
	RecordsUpdated   int `json:"recordsUpdated"`
	RecordsSkipped   int `json:"recordsSkipped"`
	DuplicatesFound  int `json:"duplicatesFound"`

	Errors []SyncError `json:"errors,omitempty"`
}

// StatusFor derives the run status from processed and failed counts.
func StatusFor(processed, failed int) RunStatus {
	switch {
	case failed == 0:
		return RunSuccess
	case failed < processed:
		return RunPartial
	default:
		return RunFailed
	}
}

// DetectionResult is the outcome of one detection module pass.
type DetectionResult struct {
	Module      AlertType     `json:"module"`
	AlertsFound int           `json:"alertsFound"`
	Duration    time.Duration `json:"duration"`
	Err         string        `json:"error,omitempty"`
}

// EngineResult summarizes a full detection engine run across all modules.
type EngineResult struct {
	RunID      string            `json:"runId"`
	Status     RunStatus         `json:"status"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Duration   time.Duration     `json:"duration"`
	Modules    []DetectionResult `json:"modules"`
	Alerts     []*FraudAlert     `json:"alerts,omitempty"`

	TotalAlerts       int `json:"totalAlerts"`
	Suppressed        int `json:"suppressed"`
	OperatorsAtRisk   int `json:"operatorsAtRisk"`
	CriticalOperators int `json:"criticalOperators"`

	// Errors collects failures outside the modules themselves, such as
	// alert persistence or risk aggregation. Module failures stay on
	// their DetectionResult.
	Errors []string `json:"errors,omitempty"`

	// SyncID links this run to the sync that triggered it, when any.
	SyncID string `json:"syncId,omitempty"`
}

// Summary renders a one-line digest suitable for operator logs.
func (r *EngineResult) Summary() string {
	parts := make([]string, 0, len(r.Modules))
	for _, m := range r.Modules {
		if m.Err != "" {
			parts = append(parts, fmt.Sprintf("%s=error", m.Module))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", m.Module, m.AlertsFound))
	}
	return fmt.Sprintf("run %s: %d alerts (%s)", r.RunID, r.TotalAlerts, strings.Join(parts, " "))
}

// SyncRun is the persisted audit record of a sync execution.
type SyncRun struct {
	SyncID           string        `json:"syncId"`
	Status           RunStatus     `json:"status"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       time.Time     `json:"finishedAt"`
	Duration         time.Duration `json:"duration"`
	RecordsFetched   int           `json:"recordsFetched"`
	RecordsProcessed int           `json:"recordsProcessed"`
	RecordsInserted  int           `json:"recordsInserted"`
	RecordsUpdated   int           `json:"recordsUpdated"`
	RecordsSkipped   int           `json:"recordsSkipped"`
	DuplicatesFound  int           `json:"duplicatesFound"`
	ErrorCount       int           `json:"errorCount"`
	SourceType       DatabaseType  `json:"sourceType,omitempty"`
	FullSync         bool          `json:"fullSync"`
}

// DetectionRun is the persisted audit record of a detection execution.
type DetectionRun struct {
	RunID       string        `json:"runId"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Duration    time.Duration `json:"duration"`
	TotalAlerts int           `json:"totalAlerts"`
	Suppressed  int           `json:"suppressed"`
	Errors      []string      `json:"errors,omitempty"`
	SyncID      string        `json:"syncId,omitempty"`
}

// NewSyncID mints an identifier for a sync run.
func NewSyncID(at time.Time) string {
	return fmt.Sprintf("SYNC-%s-%s", at.UTC().Format("20060102"), shortUUID())
}

// NewDetectionRunID mints an identifier for a detection run.
func NewDetectionRunID(at time.Time) string {
	return fmt.Sprintf("DET-%s-%s", at.UTC().Format("20060102"), shortUUID())
}

// NewAlertID mints an identifier for a fraud alert.
func NewAlertID(at time.Time) string {
	return fmt.Sprintf("ALERT-%s-%s", at.UTC().Format("20060102"), shortUUID())
}

func shortUUID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
