// Package worker chains pipeline stages over the event bus: a
// completed sync triggers a detection run linked to the sync id.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/openretail/kestrel/internal/detect"
	"github.com/openretail/kestrel/internal/domain"
)

// Worker listens for sync completions and runs detection over the
// freshly ingested data.
type Worker struct {
	bus    domain.EventBus
	engine *detect.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	runsTriggered atomic.Int64
	runsSkipped   atomic.Int64
}

// NewWorker creates a worker bound to the bus and detection engine.
func NewWorker(bus domain.EventBus, engine *detect.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to sync completions.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicSyncCompleted, w.handleSyncCompleted)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("detection worker started", "topic", domain.TopicSyncCompleted)
	return nil
}

// Stop cancels all subscriptions.
func (w *Worker) Stop() {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	slog.Info("detection worker stopped")
}

// RunsTriggered reports how many detection runs this worker started.
func (w *Worker) RunsTriggered() int64 {
	return w.runsTriggered.Load()
}

// RunsSkipped reports how many trigger events found a run already in
// progress or an unusable sync result.
func (w *Worker) RunsSkipped() int64 {
	return w.runsSkipped.Load()
}

func (w *Worker) handleSyncCompleted(ctx context.Context, msg *domain.Message) error {
	var result domain.SyncResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		slog.Error("failed to parse sync completion",
			"message_id", msg.ID,
			"error", err,
		)
		w.runsSkipped.Add(1)
		return err
	}

	if result.Status == domain.RunFailed {
		slog.Info("skipping detection for failed sync", "sync_id", result.SyncID)
		w.runsSkipped.Add(1)
		return nil
	}

	slog.Info("sync completed, triggering detection",
		"sync_id", result.SyncID,
		"records_inserted", result.RecordsInserted,
		"records_updated", result.RecordsUpdated,
	)

	engineResult, err := w.engine.Run(ctx, detect.RunOptions{SyncID: result.SyncID})
	if err != nil {
		if errors.Is(err, detect.ErrRunInProgress) {
			slog.Warn("detection already running, skipping trigger", "sync_id", result.SyncID)
			w.runsSkipped.Add(1)
			return nil
		}
		slog.Error("triggered detection failed", "sync_id", result.SyncID, "error", err)
		return err
	}

	w.runsTriggered.Add(1)
	slog.Info("triggered detection finished",
		"sync_id", result.SyncID,
		"run_id", engineResult.RunID,
		"total_alerts", engineResult.TotalAlerts,
	)
	return nil
}
