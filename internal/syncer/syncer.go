// Package syncer pulls transactions from a source system into the
// local store, with batching, retries, deduplication and an audit
// trail for every run.
package syncer

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

// ErrSyncInProgress is returned when a sync is requested while another
// one is still executing. Only one sync may be active at a time.
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer orchestrates one source connector against the local store.
type Syncer struct {
	store     domain.Store
	cache     domain.Cache
	bus       domain.EventBus
	connector domain.Connector
	cfg       domain.SyncConfig

	running atomic.Bool

	mu         sync.RWMutex
	lastResult *domain.SyncResult
}

// New builds a syncer. Cache and bus may be nil; dedup then only spans
// the persisted key table, and completions are not announced.
func New(s domain.Store, cache domain.Cache, bus domain.EventBus, conn domain.Connector, cfg domain.SyncConfig) *Syncer {
	return &Syncer{
		store:     s,
		cache:     cache,
		bus:       bus,
		connector: conn,
		cfg:       cfg,
	}
}

// Options overrides the configured defaults for a single run.
// Zero values keep the configured defaults.
type Options struct {
	BatchSize          int           `json:"batchSize,omitempty"`
	MaxRecords         int           `json:"maxRecords,omitempty"`
	DaysBack           int           `json:"daysBack,omitempty"`
	DedupWindowMinutes int           `json:"dedupWindowMinutes,omitempty"`
	MaxRetries         int           `json:"maxRetries,omitempty"`
	RetryDelay         time.Duration `json:"-"`

	// FullSync ignores DaysBack and pulls the whole source history.
	FullSync bool `json:"fullSync,omitempty"`

	// DisableDedup turns fingerprint checking off for this run.
	DisableDedup bool `json:"disableDedup,omitempty"`
}

type settings struct {
	batchSize   int
	maxRecords  int
	daysBack    int
	dedup       bool
	dedupWindow int
	maxRetries  int
	retryDelay  time.Duration
}

func (s *Syncer) resolve(opts Options) settings {
	eff := settings{
		batchSize:   s.cfg.BatchSize,
		maxRecords:  s.cfg.MaxRecords,
		daysBack:    s.cfg.DaysBack,
		dedup:       s.cfg.DedupEnabled && !opts.DisableDedup,
		dedupWindow: s.cfg.DedupWindowMinutes,
		maxRetries:  s.cfg.MaxRetries,
		retryDelay:  s.cfg.RetryDelay,
	}
	if opts.BatchSize > 0 {
		eff.batchSize = opts.BatchSize
	}
	if opts.MaxRecords > 0 {
		eff.maxRecords = opts.MaxRecords
	}
	if opts.DaysBack > 0 {
		eff.daysBack = opts.DaysBack
	}
	if opts.DedupWindowMinutes > 0 {
		eff.dedupWindow = opts.DedupWindowMinutes
	}
	if opts.MaxRetries > 0 {
		eff.maxRetries = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		eff.retryDelay = opts.RetryDelay
	}
	if eff.batchSize <= 0 {
		eff.batchSize = 1000
	}
	if eff.maxRecords <= 0 {
		eff.maxRecords = 50000
	}
	if eff.daysBack <= 0 {
		eff.daysBack = 30
	}
	if eff.dedupWindow <= 0 {
		eff.dedupWindow = 5
	}
	if eff.maxRetries <= 0 {
		eff.maxRetries = 3
	}
	if eff.retryDelay <= 0 {
		eff.retryDelay = time.Second
	}
	return eff
}

// TestSource checks connectivity to the configured source without
// touching any data.
func (s *Syncer) TestSource(ctx context.Context) bool {
	ok := s.connector.TestConnection(ctx)
	if err := s.connector.Disconnect(); err != nil {
		slog.Warn("failed to disconnect after source test", "error", err)
	}
	return ok
}

// Running reports whether a sync is currently executing.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// LastResult returns the most recent completed run, or nil.
func (s *Syncer) LastResult() *domain.SyncResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// Sync executes one run. Concurrent calls beyond the first get
// ErrSyncInProgress; nothing queues.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*domain.SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	eff := s.resolve(opts)
	startedAt := time.Now().UTC()

	result := &domain.SyncResult{
		SyncID:    domain.NewSyncID(startedAt),
		StartedAt: startedAt,
	}

	slog.Info("sync starting",
		"sync_id", result.SyncID,
		"source", s.connector.DatabaseType(),
		"full_sync", opts.FullSync,
		"batch_size", eff.batchSize,
		"max_records", eff.maxRecords,
	)

	if err := s.connector.Connect(ctx); err != nil {
		return nil, s.finishFailed(ctx, result, opts, fmt.Errorf("source connection failed: %w", err))
	}
	defer func() {
		if err := s.connector.Disconnect(); err != nil {
			slog.Warn("failed to disconnect from source", "error", err)
		}
	}()

	var fromDate time.Time
	if !opts.FullSync {
		fromDate = startedAt.AddDate(0, 0, -eff.daysBack)
	}

	total, err := s.connector.GetTransactionCount(ctx, fromDate)
	if err != nil {
		return nil, s.finishFailed(ctx, result, opts, fmt.Errorf("source count failed: %w", err))
	}

	seen := make(map[string]struct{})
	if eff.dedup {
		s.primeDedupKeys(ctx, seen)
	}

	target := total
	if target > eff.maxRecords {
		target = eff.maxRecords
	}
	batches := (target + eff.batchSize - 1) / eff.batchSize

	slog.Info("sync plan",
		"sync_id", result.SyncID,
		"source_rows", total,
		"target_rows", target,
		"batches", batches,
	)

	var newKeys []domain.DedupKey
	offset := 0

	for batch := 0; batch < batches; batch++ {
		rows, err := s.fetchBatchWithRetry(ctx, offset, eff.batchSize, fromDate, eff)
		if err != nil {
			return nil, s.finishFailed(ctx, result, opts, fmt.Errorf("batch %d fetch failed: %w", batch+1, err))
		}
		result.RecordsFetched += len(rows)

		for _, row := range rows {
			result.RecordsProcessed++

			if eff.dedup {
				key := domain.MakeDedupKey(row, eff.dedupWindow)
				if s.isDuplicate(ctx, seen, key) {
					result.DuplicatesFound++
					continue
				}
				seen[key.String()] = struct{}{}
				newKeys = append(newKeys, key)
			}

			inserted, err := s.upsertRow(ctx, row)
			if err != nil {
				result.Errors = append(result.Errors, domain.SyncError{
					RecordID: row.ID,
					Message:  err.Error(),
					At:       time.Now().UTC(),
				})
				slog.Warn("failed to process source row",
					"sync_id", result.SyncID,
					"record_id", row.ID,
					"error", err,
				)
				continue
			}

			switch inserted {
			case rowInserted:
				result.RecordsInserted++
			case rowUpdated:
				result.RecordsUpdated++
			case rowSkipped:
				result.RecordsSkipped++
			}
		}

		offset += eff.batchSize
		slog.Debug("batch processed",
			"sync_id", result.SyncID,
			"batch", batch+1,
			"batches", batches,
			"inserted", result.RecordsInserted,
			"updated", result.RecordsUpdated,
		)
	}

	if eff.dedup && len(newKeys) > 0 {
		if err := s.store.SaveDedupKeys(ctx, result.SyncID, newKeys); err != nil {
			slog.Warn("failed to persist dedup keys", "sync_id", result.SyncID, "error", err)
		}
		s.cacheDedupKeys(ctx, newKeys)
	}

	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Status = domain.StatusFor(result.RecordsProcessed, len(result.Errors))

	s.record(ctx, result, opts)
	s.publish(ctx, result)

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	slog.Info("sync finished",
		"sync_id", result.SyncID,
		"status", result.Status,
		"fetched", result.RecordsFetched,
		"inserted", result.RecordsInserted,
		"updated", result.RecordsUpdated,
		"skipped", result.RecordsSkipped,
		"duplicates", result.DuplicatesFound,
		"errors", len(result.Errors),
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// fetchBatchWithRetry retries transient fetch failures with a delay
// that grows linearly with the attempt number.
func (s *Syncer) fetchBatchWithRetry(ctx context.Context, offset, limit int, fromDate time.Time, eff settings) ([]domain.TransactionRow, error) {
	var lastErr error
	for attempt := 0; attempt < eff.maxRetries; attempt++ {
		rows, err := s.connector.FetchTransactionsBatch(ctx, offset, limit, fromDate)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if attempt < eff.maxRetries-1 {
			delay := eff.retryDelay * time.Duration(attempt+1)
			slog.Warn("batch fetch failed, retrying",
				"attempt", attempt+1,
				"max_retries", eff.maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

type upsertOutcome int

const (
	rowInserted upsertOutcome = iota
	rowUpdated
	rowSkipped
)

// upsertRow routes a normalized source row to its entity table.
// Refunds and adjustments have no detection module and are skipped.
func (s *Syncer) upsertRow(ctx context.Context, row domain.TransactionRow) (upsertOutcome, error) {
	now := time.Now().UTC()

	switch row.Type {
	case domain.RowSale:
		inserted, err := s.store.SaveSale(ctx, &domain.Sale{
			ID:          row.ID,
			OperatorCPF: row.Operator,
			PDV:         row.PDV,
			TotalAmount: row.Amount,
			CustomerCPF: row.CustomerCPF,
			Timestamp:   row.Timestamp,
			CreatedAt:   now,
		})
		if err != nil {
			return 0, err
		}
		if inserted {
			return rowInserted, nil
		}
		return rowUpdated, nil

	case domain.RowCancellation:
		if row.Reference == "" {
			return 0, fmt.Errorf("cancellation %s has no sale reference", row.ID)
		}
		inserted, err := s.store.SaveCancellation(ctx, &domain.Cancellation{
			ID:          row.ID,
			SaleID:      row.Reference,
			OperatorCPF: row.Operator,
			Timestamp:   row.Timestamp,
			CreatedAt:   now,
		})
		if err != nil {
			return 0, err
		}
		if inserted {
			return rowInserted, nil
		}
		return rowUpdated, nil

	case domain.RowRefund, domain.RowAdjustment:
		slog.Warn("unsupported source row type, skipping",
			"record_id", row.ID,
			"type", row.Type,
		)
		return rowSkipped, nil

	default:
		return 0, fmt.Errorf("unknown source row type %q", row.Type)
	}
}

// primeDedupKeys warms the in-run set with fingerprints from previous
// runs still inside the retention window.
func (s *Syncer) primeDedupKeys(ctx context.Context, seen map[string]struct{}) {
	retention := s.cfg.DedupRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	keys, err := s.store.ListDedupKeysSince(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		slog.Warn("failed to load persisted dedup keys", "error", err)
		return
	}
	for _, k := range keys {
		seen[k.String()] = struct{}{}
	}
	slog.Debug("dedup keys primed", "count", len(keys))
}

// isDuplicate checks the in-run set first, then the shared cache for
// keys written by other instances.
func (s *Syncer) isDuplicate(ctx context.Context, seen map[string]struct{}, key domain.DedupKey) bool {
	if _, ok := seen[key.String()]; ok {
		return true
	}
	if s.cache == nil {
		return false
	}
	val, err := s.cache.Get(ctx, "dedup:"+key.String())
	if err != nil {
		return false
	}
	return val != nil
}

func (s *Syncer) cacheDedupKeys(ctx context.Context, keys []domain.DedupKey) {
	if s.cache == nil {
		return
	}
	retention := s.cfg.DedupRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	for _, k := range keys {
		if err := s.cache.Set(ctx, "dedup:"+k.String(), []byte("1"), retention); err != nil {
			slog.Debug("failed to cache dedup key", "error", err)
			return
		}
	}
}

// finishFailed records a run that died before processing any rows.
func (s *Syncer) finishFailed(ctx context.Context, result *domain.SyncResult, opts Options, cause error) error {
	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Status = domain.RunFailed
	result.Errors = append(result.Errors, domain.SyncError{
		Message: cause.Error(),
		At:      result.FinishedAt,
	})

	s.record(ctx, result, opts)

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	slog.Error("sync failed", "sync_id", result.SyncID, "error", cause)
	return cause
}

func (s *Syncer) record(ctx context.Context, result *domain.SyncResult, opts Options) {
	run := &domain.SyncRun{
		SyncID:           result.SyncID,
		Status:           result.Status,
		StartedAt:        result.StartedAt,
		FinishedAt:       result.FinishedAt,
		Duration:         result.Duration,
		RecordsFetched:   result.RecordsFetched,
		RecordsProcessed: result.RecordsProcessed,
		RecordsInserted:  result.RecordsInserted,
		RecordsUpdated:   result.RecordsUpdated,
		RecordsSkipped:   result.RecordsSkipped,
		DuplicatesFound:  result.DuplicatesFound,
		ErrorCount:       len(result.Errors),
		SourceType:       s.connector.DatabaseType(),
		FullSync:         opts.FullSync,
	}
	if err := s.store.SaveSyncRun(ctx, run); err != nil {
		slog.Error("failed to record sync run", "sync_id", result.SyncID, "error", err)
	}
	if err := s.store.SaveSyncErrors(ctx, result.SyncID, result.Errors); err != nil {
		slog.Error("failed to record sync errors", "sync_id", result.SyncID, "error", err)
	}
}

func (s *Syncer) publish(ctx context.Context, result *domain.SyncResult) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicSyncCompleted, payload); err != nil {
		slog.Warn("failed to publish sync completion", "sync_id", result.SyncID, "error", err)
	}
}
