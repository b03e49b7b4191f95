package syncer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-syncer-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	s, err := store.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// fakeConnector serves rows from memory and can be made to fail the
// first N batch fetches to exercise retry behavior.
type fakeConnector struct {
	rows         []domain.TransactionRow
	connectErr   error
	failFetches  int
	fetchCalls   int
	connected    bool
	disconnected bool
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeConnector) Disconnect() error {
	f.connected = false
	f.disconnected = true
	return nil
}

func (f *fakeConnector) TestConnection(ctx context.Context) bool {
	return f.connectErr == nil
}

func (f *fakeConnector) GetLastSyncTimestamp(ctx context.Context) (time.Time, error) {
	if len(f.rows) == 0 {
		return time.Time{}, nil
	}
	return f.rows[len(f.rows)-1].Timestamp, nil
}

func (f *fakeConnector) filtered(fromDate time.Time) []domain.TransactionRow {
	if fromDate.IsZero() {
		return f.rows
	}
	var out []domain.TransactionRow
	for _, r := range f.rows {
		if !r.Timestamp.Before(fromDate) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeConnector) FetchTransactions(ctx context.Context, fromDate time.Time, limit int) ([]domain.TransactionRow, error) {
	return f.FetchTransactionsBatch(ctx, 0, limit, fromDate)
}

func (f *fakeConnector) FetchTransactionsBatch(ctx context.Context, offset, limit int, fromDate time.Time) ([]domain.TransactionRow, error) {
	f.fetchCalls++
	if f.failFetches > 0 {
		f.failFetches--
		return nil, errors.New("source connection reset")
	}
	rows := f.filtered(fromDate)
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (f *fakeConnector) GetTransactionCount(ctx context.Context, fromDate time.Time) (int, error) {
	return len(f.filtered(fromDate)), nil
}

func (f *fakeConnector) DatabaseType() domain.DatabaseType {
	return domain.DialectMySQL
}

func saleRow(id, pdv, operator string, amount float64, ts time.Time) domain.TransactionRow {
	return domain.TransactionRow{
		ID:        id,
		PDV:       pdv,
		Operator:  operator,
		Amount:    decimal.NewFromFloat(amount),
		Timestamp: ts,
		Type:      domain.RowSale,
	}
}

func testConfig() domain.SyncConfig {
	return domain.SyncConfig{
		BatchSize:          2,
		MaxRecords:         100,
		DaysBack:           7,
		DedupEnabled:       true,
		DedupWindowMinutes: 5,
		MaxRetries:         3,
		RetryDelay:         time.Millisecond,
		DedupRetention:     24 * time.Hour,
	}
}

func TestSyncRoutesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	conn := &fakeConnector{rows: []domain.TransactionRow{
		saleRow("tx-1", "PDV-01", "11122233344", 49.90, base),
		saleRow("tx-2", "PDV-01", "11122233344", 120, base.Add(time.Minute)),
		saleRow("tx-3", "PDV-02", "55566677788", 12.50, base.Add(2*time.Minute)),
		{
			ID: "tx-4", PDV: "PDV-01", Operator: "11122233344",
			Amount: decimal.NewFromFloat(49.90), Timestamp: base.Add(3 * time.Minute),
			Type: domain.RowCancellation, Reference: "tx-1",
		},
		{
			ID: "tx-5", PDV: "PDV-02", Operator: "55566677788",
			Amount: decimal.NewFromFloat(30), Timestamp: base.Add(4 * time.Minute),
			Type: domain.RowRefund,
		},
	}}

	sy := New(s, nil, nil, conn, testConfig())
	result, err := sy.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if result.Status != domain.RunSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.RecordsFetched != 5 || result.RecordsProcessed != 5 {
		t.Errorf("expected 5 fetched and processed, got %d/%d", result.RecordsFetched, result.RecordsProcessed)
	}
	if result.RecordsInserted != 4 {
		t.Errorf("expected 4 inserted, got %d", result.RecordsInserted)
	}
	if result.RecordsSkipped != 1 {
		t.Errorf("expected 1 skipped refund, got %d", result.RecordsSkipped)
	}
	if !conn.disconnected {
		t.Error("expected connector to be disconnected after run")
	}

	sale, err := s.GetSale(ctx, "tx-2")
	if err != nil {
		t.Fatalf("synced sale missing: %v", err)
	}
	if sale.PDV != "PDV-01" || !sale.TotalAmount.Equal(decimal.NewFromInt(120)) {
		t.Errorf("unexpected synced sale: %+v", sale)
	}

	cancels, err := s.ListCancellationsSince(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("failed to list cancellations: %v", err)
	}
	if len(cancels) != 1 || cancels[0].SaleID != "tx-1" {
		t.Errorf("expected one cancellation referencing tx-1, got %+v", cancels)
	}

	runs, err := s.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list sync runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].SyncID != result.SyncID || runs[0].Status != domain.RunSuccess {
		t.Errorf("unexpected recorded run: %+v", runs[0])
	}
	if runs[0].SourceType != domain.DialectMySQL {
		t.Errorf("expected mysql source type, got %s", runs[0].SourceType)
	}

	if last := sy.LastResult(); last == nil || last.SyncID != result.SyncID {
		t.Error("expected last result to match returned result")
	}
}

func TestSyncDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)

	// tx-dup shares pdv, operator, amount and dedup bucket with tx-1.
	conn := &fakeConnector{rows: []domain.TransactionRow{
		saleRow("tx-1", "PDV-01", "11122233344", 49.90, base.Add(time.Minute)),
		saleRow("tx-dup", "PDV-01", "11122233344", 49.90, base.Add(2*time.Minute)),
		saleRow("tx-2", "PDV-01", "11122233344", 75, base.Add(time.Minute)),
	}}

	sy := New(s, nil, nil, conn, testConfig())
	result, err := sy.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.DuplicatesFound != 1 {
		t.Errorf("expected 1 duplicate, got %d", result.DuplicatesFound)
	}
	if result.RecordsInserted != 2 {
		t.Errorf("expected 2 inserted, got %d", result.RecordsInserted)
	}

	t.Run("SecondRunSeesPersistedKeys", func(t *testing.T) {
		sy2 := New(s, nil, nil, conn, testConfig())
		result2, err := sy2.Sync(ctx, Options{})
		if err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if result2.DuplicatesFound != 3 {
			t.Errorf("expected all 3 rows deduplicated, got %d", result2.DuplicatesFound)
		}
		if result2.RecordsInserted != 0 {
			t.Errorf("expected 0 inserted on replay, got %d", result2.RecordsInserted)
		}
	})

	t.Run("DisableDedupUpdatesInstead", func(t *testing.T) {
		sy3 := New(s, nil, nil, conn, testConfig())
		result3, err := sy3.Sync(ctx, Options{DisableDedup: true})
		if err != nil {
			t.Fatalf("third sync failed: %v", err)
		}
		if result3.DuplicatesFound != 0 {
			t.Errorf("expected no dedup, got %d duplicates", result3.DuplicatesFound)
		}
		// tx-dup never made it into the store, so it inserts now while
		// tx-1 and tx-2 update in place.
		if result3.RecordsUpdated != 2 {
			t.Errorf("expected 2 updates, got %d", result3.RecordsUpdated)
		}
		if result3.RecordsInserted != 1 {
			t.Errorf("expected 1 insert, got %d", result3.RecordsInserted)
		}
	})
}

func TestSyncCollectsRowErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	conn := &fakeConnector{rows: []domain.TransactionRow{
		saleRow("tx-1", "PDV-01", "11122233344", 10, base),
		{
			ID: "tx-bad", PDV: "PDV-01", Operator: "11122233344",
			Amount: decimal.NewFromInt(5), Timestamp: base.Add(time.Minute),
			Type: domain.RowCancellation,
		},
	}}

	sy := New(s, nil, nil, conn, testConfig())
	result, err := sy.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if result.Status != domain.RunPartial {
		t.Errorf("expected PARTIAL, got %s", result.Status)
	}
	if len(result.Errors) != 1 || result.Errors[0].RecordID != "tx-bad" {
		t.Errorf("expected one error for tx-bad, got %+v", result.Errors)
	}

	saved, err := s.ListSyncErrors(ctx, result.SyncID)
	if err != nil {
		t.Fatalf("failed to list sync errors: %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("expected 1 persisted error, got %d", len(saved))
	}
}

func TestSyncRetriesBatchFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	conn := &fakeConnector{
		rows:        []domain.TransactionRow{saleRow("tx-1", "PDV-01", "11122233344", 10, base)},
		failFetches: 2,
	}

	sy := New(s, nil, nil, conn, testConfig())
	result, err := sy.Sync(ctx, Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.RecordsInserted != 1 {
		t.Errorf("expected 1 inserted after retries, got %d", result.RecordsInserted)
	}
	if conn.fetchCalls != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", conn.fetchCalls)
	}

	t.Run("ExhaustedRetriesFailRun", func(t *testing.T) {
		conn2 := &fakeConnector{
			rows:        []domain.TransactionRow{saleRow("tx-1", "PDV-01", "11122233344", 10, base)},
			failFetches: 3,
		}
		sy2 := New(s, nil, nil, conn2, testConfig())
		if _, err := sy2.Sync(ctx, Options{}); err == nil {
			t.Fatal("expected error after exhausting retries")
		}
		if last := sy2.LastResult(); last == nil || last.Status != domain.RunFailed {
			t.Errorf("expected FAILED last result, got %+v", last)
		}
	})
}

func TestSyncConnectFailureIsRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := &fakeConnector{connectErr: errors.New("host unreachable")}
	sy := New(s, nil, nil, conn, testConfig())

	if _, err := sy.Sync(ctx, Options{}); err == nil {
		t.Fatal("expected connect error")
	}

	runs, err := s.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list sync runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.RunFailed {
		t.Fatalf("expected one FAILED run, got %+v", runs)
	}
	if runs[0].ErrorCount != 1 {
		t.Errorf("expected 1 recorded error, got %d", runs[0].ErrorCount)
	}
	if sy.Running() {
		t.Error("expected running flag to be cleared after failure")
	}
}

func TestSyncSingleFlight(t *testing.T) {
	s := newTestStore(t)
	conn := &fakeConnector{}
	sy := New(s, nil, nil, conn, testConfig())

	sy.running.Store(true)
	defer sy.running.Store(false)

	if _, err := sy.Sync(context.Background(), Options{}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestSyncHonorsMaxRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var rows []domain.TransactionRow
	for i := 0; i < 10; i++ {
		rows = append(rows, saleRow(
			"tx-"+string(rune('a'+i)), "PDV-01", "11122233344",
			float64(10+i), base.Add(time.Duration(i)*10*time.Minute)))
	}
	conn := &fakeConnector{rows: rows}

	sy := New(s, nil, nil, conn, testConfig())
	result, err := sy.Sync(ctx, Options{MaxRecords: 5, BatchSize: 2})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.RecordsFetched != 6 {
		// 3 batches of 2; the cap bounds batch count, not a hard row cut.
		t.Errorf("expected 6 fetched rows, got %d", result.RecordsFetched)
	}
	if conn.fetchCalls != 3 {
		t.Errorf("expected 3 batches, got %d fetch calls", conn.fetchCalls)
	}
}

func TestSyncDaysBackWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conn := &fakeConnector{rows: []domain.TransactionRow{
		saleRow("tx-old", "PDV-01", "11122233344", 10, now.AddDate(0, 0, -20)),
		saleRow("tx-new", "PDV-01", "11122233344", 20, now.Add(-time.Hour)),
	}}

	sy := New(s, nil, nil, conn, testConfig())

	result, err := sy.Sync(ctx, Options{DaysBack: 7})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.RecordsProcessed != 1 || result.RecordsInserted != 1 {
		t.Errorf("expected only the recent row, got %d processed", result.RecordsProcessed)
	}

	t.Run("FullSyncIgnoresWindow", func(t *testing.T) {
		sy2 := New(s, nil, nil, conn, domain.SyncConfig{
			BatchSize: 10, MaxRecords: 100, DaysBack: 7,
			MaxRetries: 1, RetryDelay: time.Millisecond,
		})
		result2, err := sy2.Sync(ctx, Options{FullSync: true})
		if err != nil {
			t.Fatalf("full sync failed: %v", err)
		}
		if result2.RecordsProcessed != 2 {
			t.Errorf("expected both rows on full sync, got %d", result2.RecordsProcessed)
		}
	})
}
