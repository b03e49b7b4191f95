package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// SaveSyncRun persists the audit record for one sync execution.
func (s *SQLStore) SaveSyncRun(ctx context.Context, run *domain.SyncRun) error {
	if run.SyncID == "" {
		return fmt.Errorf("%w: sync ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO sync_runs (
			sync_id, status, started_at, finished_at, duration_ms,
			records_fetched, records_processed, records_inserted,
			records_updated, records_skipped, duplicates_found,
			error_count, source_type, full_sync
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		run.SyncID, run.Status, run.StartedAt, run.FinishedAt,
		run.Duration.Milliseconds(),
		run.RecordsFetched, run.RecordsProcessed, run.RecordsInserted,
		run.RecordsUpdated, run.RecordsSkipped, run.DuplicatesFound,
		run.ErrorCount, nullString(string(run.SourceType)), boolInt(run.FullSync),
	)
	return err
}

// ListSyncRuns returns the most recent sync runs, newest first.
func (s *SQLStore) ListSyncRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT sync_id, status, started_at, finished_at, duration_ms,
			   records_fetched, records_processed, records_inserted,
			   records_updated, records_skipped, duplicates_found,
			   error_count, source_type, full_sync
		FROM sync_runs ORDER BY started_at DESC LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		var durationMs int64
		var sourceType sql.NullString
		var fullSync int

		err := rows.Scan(
			&run.SyncID, &run.Status, &run.StartedAt, &run.FinishedAt, &durationMs,
			&run.RecordsFetched, &run.RecordsProcessed, &run.RecordsInserted,
			&run.RecordsUpdated, &run.RecordsSkipped, &run.DuplicatesFound,
			&run.ErrorCount, &sourceType, &fullSync,
		)
		if err != nil {
			return nil, err
		}

		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.SourceType = domain.DatabaseType(sourceType.String)
		run.FullSync = fullSync != 0
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveSyncErrors persists the per-row failures of one sync run.
func (s *SQLStore) SaveSyncErrors(ctx context.Context, syncID string, errs []domain.SyncError) error {
	if len(errs) == 0 {
		return nil
	}

	query := s.rebind(`INSERT INTO sync_errors (sync_id, record_id, message, occurred_at) VALUES (?, ?, ?, ?)`)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range errs {
		if _, err := tx.ExecContext(ctx, query, syncID, nullString(e.RecordID), e.Message, e.At); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSyncErrors returns the recorded failures of one sync run.
func (s *SQLStore) ListSyncErrors(ctx context.Context, syncID string) ([]domain.SyncError, error) {
	query := `
		SELECT record_id, message, occurred_at
		FROM sync_errors WHERE sync_id = ? ORDER BY occurred_at
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []domain.SyncError
	for rows.Next() {
		var e domain.SyncError
		var recordID sql.NullString
		if err := rows.Scan(&recordID, &e.Message, &e.At); err != nil {
			return nil, err
		}
		e.RecordID = recordID.String
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

// SaveDetectionRun persists the audit record for one detection run.
func (s *SQLStore) SaveDetectionRun(ctx context.Context, run *domain.DetectionRun) error {
	if run.RunID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	var errsJSON sql.NullString
	if len(run.Errors) > 0 {
		raw, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode run errors: %w", err)
		}
		errsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO detection_runs (
			run_id, status, started_at, finished_at, duration_ms,
			total_alerts, suppressed, errors, sync_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		run.RunID, run.Status, run.StartedAt, run.FinishedAt,
		run.Duration.Milliseconds(),
		run.TotalAlerts, run.Suppressed, errsJSON, nullString(run.SyncID),
	)
	return err
}

// ListDetectionRuns returns the most recent detection runs, newest first.
func (s *SQLStore) ListDetectionRuns(ctx context.Context, limit int) ([]*domain.DetectionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, status, started_at, finished_at, duration_ms,
			   total_alerts, suppressed, errors, sync_id
		FROM detection_runs ORDER BY started_at DESC LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.DetectionRun
	for rows.Next() {
		var run domain.DetectionRun
		var durationMs int64
		var errsJSON, syncID sql.NullString

		err := rows.Scan(
			&run.RunID, &run.Status, &run.StartedAt, &run.FinishedAt, &durationMs,
			&run.TotalAlerts, &run.Suppressed, &errsJSON, &syncID,
		)
		if err != nil {
			return nil, err
		}

		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.SyncID = syncID.String
		if errsJSON.Valid {
			if err := json.Unmarshal([]byte(errsJSON.String), &run.Errors); err != nil {
				return nil, fmt.Errorf("failed to decode run errors: %w", err)
			}
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveDedupKeys persists the dedup fingerprints seen during one run.
// Keys already present are left untouched.
func (s *SQLStore) SaveDedupKeys(ctx context.Context, syncID string, keys []domain.DedupKey) error {
	if len(keys) == 0 {
		return nil
	}

	probe := `SELECT 1 FROM dedup_keys WHERE key = ?`
	insert := s.rebind(`
		INSERT INTO dedup_keys (key, sync_id, pdv, operator_cpf, amount, bucket, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, k := range keys {
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(probe), k.String()).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, insert,
			k.String(), syncID, k.PDV, k.Operator, k.Amount,
			k.TimestampBucket, nullString(k.Reference), now,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDedupKeysSince returns fingerprints recorded at or after the cutoff.
func (s *SQLStore) ListDedupKeysSince(ctx context.Context, since time.Time) ([]domain.DedupKey, error) {
	query := `
		SELECT pdv, operator_cpf, amount, bucket, reference
		FROM dedup_keys WHERE created_at >= ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.DedupKey
	for rows.Next() {
		var k domain.DedupKey
		var reference sql.NullString
		if err := rows.Scan(&k.PDV, &k.Operator, &k.Amount, &k.TimestampBucket, &reference); err != nil {
			return nil, err
		}
		k.Reference = reference.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteDedupKeysBefore drops fingerprints older than the cutoff and
// returns how many were removed.
func (s *SQLStore) DeleteDedupKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dedup_keys WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
