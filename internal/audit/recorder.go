// Package audit exposes the read side of the run history: recent
// syncs and detections, aggregate statistics, combined reports and
// dedup-key housekeeping.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// Recorder reads and maintains the audit trail written by the sync
// and detection services.
type Recorder struct {
	store domain.Store
}

func NewRecorder(s domain.Store) *Recorder {
	return &Recorder{store: s}
}

// LastSyncs returns the most recent sync runs, newest first.
func (r *Recorder) LastSyncs(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.store.ListSyncRuns(ctx, limit)
}

// LastDetections returns the most recent detection runs, newest first.
func (r *Recorder) LastDetections(ctx context.Context, limit int) ([]*domain.DetectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.store.ListDetectionRuns(ctx, limit)
}

// SyncErrors returns the row-level errors collected during one sync.
func (r *Recorder) SyncErrors(ctx context.Context, syncID string) ([]domain.SyncError, error) {
	return r.store.ListSyncErrors(ctx, syncID)
}

// SyncStats aggregates outcomes over a set of sync runs.
type SyncStats struct {
	TotalRuns       int           `json:"totalRuns"`
	Succeeded       int           `json:"succeeded"`
	Partial         int           `json:"partial"`
	Failed          int           `json:"failed"`
	RecordsFetched  int           `json:"recordsFetched"`
	RecordsInserted int           `json:"recordsInserted"`
	RecordsUpdated  int           `json:"recordsUpdated"`
	DuplicatesFound int           `json:"duplicatesFound"`
	ErrorCount      int           `json:"errorCount"`
	AvgDuration     time.Duration `json:"avgDuration"`
	LastRunAt       time.Time     `json:"lastRunAt,omitempty"`
}

// DetectionStats aggregates outcomes over a set of detection runs.
type DetectionStats struct {
	TotalRuns   int           `json:"totalRuns"`
	Succeeded   int           `json:"succeeded"`
	Partial     int           `json:"partial"`
	Failed      int           `json:"failed"`
	TotalAlerts int           `json:"totalAlerts"`
	Suppressed  int           `json:"suppressed"`
	AvgDuration time.Duration `json:"avgDuration"`
	LastRunAt   time.Time     `json:"lastRunAt,omitempty"`
}

// SyncStatistics aggregates the last N sync runs.
func (r *Recorder) SyncStatistics(ctx context.Context, limit int) (*SyncStats, error) {
	runs, err := r.LastSyncs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync history: %w", err)
	}

	stats := &SyncStats{TotalRuns: len(runs)}
	var totalDuration time.Duration
	for _, run := range runs {
		switch run.Status {
		case domain.RunSuccess:
			stats.Succeeded++
		case domain.RunPartial:
			stats.Partial++
		case domain.RunFailed:
			stats.Failed++
		}
		stats.RecordsFetched += run.RecordsFetched
		stats.RecordsInserted += run.RecordsInserted
		stats.RecordsUpdated += run.RecordsUpdated
		stats.DuplicatesFound += run.DuplicatesFound
		stats.ErrorCount += run.ErrorCount
		totalDuration += run.Duration
		if run.StartedAt.After(stats.LastRunAt) {
			stats.LastRunAt = run.StartedAt
		}
	}
	if len(runs) > 0 {
		stats.AvgDuration = totalDuration / time.Duration(len(runs))
	}
	return stats, nil
}

// DetectionStatistics aggregates the last N detection runs.
func (r *Recorder) DetectionStatistics(ctx context.Context, limit int) (*DetectionStats, error) {
	runs, err := r.LastDetections(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load detection history: %w", err)
	}

	stats := &DetectionStats{TotalRuns: len(runs)}
	var totalDuration time.Duration
	for _, run := range runs {
		switch run.Status {
		case domain.RunSuccess:
			stats.Succeeded++
		case domain.RunPartial:
			stats.Partial++
		case domain.RunFailed:
			stats.Failed++
		}
		stats.TotalAlerts += run.TotalAlerts
		stats.Suppressed += run.Suppressed
		totalDuration += run.Duration
		if run.StartedAt.After(stats.LastRunAt) {
			stats.LastRunAt = run.StartedAt
		}
	}
	if len(runs) > 0 {
		stats.AvgDuration = totalDuration / time.Duration(len(runs))
	}
	return stats, nil
}

// Report is a combined audit export over recent activity.
type Report struct {
	GeneratedAt    time.Time             `json:"generatedAt"`
	Syncs          []*domain.SyncRun     `json:"syncs"`
	Detections     []*domain.DetectionRun `json:"detections"`
	SyncStats      *SyncStats            `json:"syncStats"`
	DetectionStats *DetectionStats       `json:"detectionStats"`
}

// BuildReport assembles the combined view over the last N runs of
// each kind.
func (r *Recorder) BuildReport(ctx context.Context, limit int) (*Report, error) {
	syncs, err := r.LastSyncs(ctx, limit)
	if err != nil {
		return nil, err
	}
	detections, err := r.LastDetections(ctx, limit)
	if err != nil {
		return nil, err
	}
	syncStats, err := r.SyncStatistics(ctx, limit)
	if err != nil {
		return nil, err
	}
	detectionStats, err := r.DetectionStatistics(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &Report{
		GeneratedAt:    time.Now().UTC(),
		Syncs:          syncs,
		Detections:     detections,
		SyncStats:      syncStats,
		DetectionStats: detectionStats,
	}, nil
}

// CleanupDedupKeys deletes fingerprints older than the retention
// window and returns how many were removed.
func (r *Recorder) CleanupDedupKeys(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := r.store.DeleteDedupKeysBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedup key cleanup failed: %w", err)
	}
	if deleted > 0 {
		slog.Info("dedup keys cleaned up", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
