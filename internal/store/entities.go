package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// SaveSale upserts a sale keyed by its source ID. The inserted return
// distinguishes first-time ingestion from a re-sync of the same row.
func (s *SQLStore) SaveSale(ctx context.Context, sale *domain.Sale) (bool, error) {
	if sale.ID == "" {
		return false, fmt.Errorf("%w: sale ID is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM sales WHERE id = ?", sale.ID)
	if err != nil {
		return false, err
	}

	if exists {
		query := `
			UPDATE sales SET operator_cpf = ?, pdv = ?, total_amount = ?,
				customer_cpf = ?, timestamp = ?
			WHERE id = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			sale.OperatorCPF, sale.PDV, sale.TotalAmount,
			nullString(sale.CustomerCPF), sale.Timestamp, sale.ID,
		)
		return false, err
	}

	query := `
		INSERT INTO sales (id, operator_cpf, pdv, total_amount, customer_cpf, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		sale.ID, sale.OperatorCPF, sale.PDV, sale.TotalAmount,
		nullString(sale.CustomerCPF), sale.Timestamp, sale.CreatedAt,
	)
	return err == nil, err
}

// GetSale retrieves a sale by ID.
func (s *SQLStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	query := `
		SELECT id, operator_cpf, pdv, total_amount, customer_cpf, timestamp, created_at
		FROM sales WHERE id = ?
	`

	sale, err := scanSale(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sale, err
}

// ListSalesSince returns sales at or after the cutoff, oldest first.
func (s *SQLStore) ListSalesSince(ctx context.Context, since time.Time) ([]*domain.Sale, error) {
	query := `
		SELECT id, operator_cpf, pdv, total_amount, customer_cpf, timestamp, created_at
		FROM sales WHERE timestamp >= ? ORDER BY timestamp
	`
	return s.querySales(ctx, query, since)
}

func (s *SQLStore) querySales(ctx context.Context, query string, args ...any) ([]*domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var customer sql.NullString
	err := row.Scan(
		&sale.ID, &sale.OperatorCPF, &sale.PDV, &sale.TotalAmount,
		&customer, &sale.Timestamp, &sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.CustomerCPF = customer.String
	return &sale, nil
}

// SaveCancellation upserts a cancellation keyed by its source ID.
func (s *SQLStore) SaveCancellation(ctx context.Context, c *domain.Cancellation) (bool, error) {
	if c.ID == "" {
		return false, fmt.Errorf("%w: cancellation ID is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM cancellations WHERE id = ?", c.ID)
	if err != nil {
		return false, err
	}

	if exists {
		query := `
			UPDATE cancellations SET sale_id = ?, operator_cpf = ?, timestamp = ?, reason = ?
			WHERE id = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			c.SaleID, c.OperatorCPF, c.Timestamp, nullString(c.Reason), c.ID,
		)
		return false, err
	}

	query := `
		INSERT INTO cancellations (id, sale_id, operator_cpf, timestamp, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.SaleID, c.OperatorCPF, c.Timestamp, nullString(c.Reason), c.CreatedAt,
	)
	return err == nil, err
}

// ListCancellationsSince returns cancellations at or after the cutoff.
func (s *SQLStore) ListCancellationsSince(ctx context.Context, since time.Time) ([]*domain.Cancellation, error) {
	query := `
		SELECT id, sale_id, operator_cpf, timestamp, reason, created_at
		FROM cancellations WHERE timestamp >= ? ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cancels []*domain.Cancellation
	for rows.Next() {
		var c domain.Cancellation
		var reason sql.NullString
		if err := rows.Scan(&c.ID, &c.SaleID, &c.OperatorCPF, &c.Timestamp, &reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Reason = reason.String
		cancels = append(cancels, &c)
	}
	return cancels, rows.Err()
}

// SaveDrawerEvent upserts a drawer event keyed by its source ID.
func (s *SQLStore) SaveDrawerEvent(ctx context.Context, ev *domain.DrawerEvent) (bool, error) {
	if ev.ID == "" {
		return false, fmt.Errorf("%w: drawer event ID is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM drawer_events WHERE id = ?", ev.ID)
	if err != nil {
		return false, err
	}

	if exists {
		query := `
			UPDATE drawer_events SET kind = ?, operator_cpf = ?, pdv = ?, timestamp = ?
			WHERE id = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			ev.Kind, ev.OperatorCPF, ev.PDV, ev.Timestamp, ev.ID,
		)
		return false, err
	}

	query := `
		INSERT INTO drawer_events (id, kind, operator_cpf, pdv, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		ev.ID, ev.Kind, ev.OperatorCPF, ev.PDV, ev.Timestamp,
	)
	return err == nil, err
}

// ListDrawerEventsSince returns drawer events of one kind at or after
// the cutoff, oldest first.
func (s *SQLStore) ListDrawerEventsSince(ctx context.Context, kind domain.DrawerEventKind, since time.Time) ([]*domain.DrawerEvent, error) {
	query := `
		SELECT id, kind, operator_cpf, pdv, timestamp
		FROM drawer_events WHERE kind = ? AND timestamp >= ?
		ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), kind, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DrawerEvent
	for rows.Next() {
		var ev domain.DrawerEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.OperatorCPF, &ev.PDV, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// SaveAuthorization upserts an authorization keyed by its source ID.
func (s *SQLStore) SaveAuthorization(ctx context.Context, a *domain.Authorization) (bool, error) {
	if a.ID == "" {
		return false, fmt.Errorf("%w: authorization ID is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM authorizations WHERE id = ?", a.ID)
	if err != nil {
		return false, err
	}

	if exists {
		query := `
			UPDATE authorizations SET code = ?, operator_cpf = ?, pdv = ?,
				amount = ?, status = ?, timestamp = ?
			WHERE id = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			a.Code, a.OperatorCPF, a.PDV, a.Amount, a.Status, a.Timestamp, a.ID,
		)
		return false, err
	}

	query := `
		INSERT INTO authorizations (id, code, operator_cpf, pdv, amount, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		a.ID, a.Code, a.OperatorCPF, a.PDV, a.Amount, a.Status, a.Timestamp,
	)
	return err == nil, err
}

// ListAuthorizationsSince returns authorizations with one status at or
// after the cutoff, oldest first.
func (s *SQLStore) ListAuthorizationsSince(ctx context.Context, status domain.AuthorizationStatus, since time.Time) ([]*domain.Authorization, error) {
	query := `
		SELECT id, code, operator_cpf, pdv, amount, status, timestamp
		FROM authorizations WHERE status = ? AND timestamp >= ?
		ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), status, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*domain.Authorization
	for rows.Next() {
		var a domain.Authorization
		if err := rows.Scan(&a.ID, &a.Code, &a.OperatorCPF, &a.PDV, &a.Amount, &a.Status, &a.Timestamp); err != nil {
			return nil, err
		}
		auths = append(auths, &a)
	}
	return auths, rows.Err()
}

// SaveCashCount inserts a drawer count. A zero ID gets a time-derived
// one; source-keyed counts keep their own.
func (s *SQLStore) SaveCashCount(ctx context.Context, cc *domain.CashCount) error {
	if cc.ID == 0 {
		cc.ID = time.Now().UnixNano()
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM cash_counts WHERE id = ?", cc.ID)
	if err != nil {
		return err
	}

	if exists {
		query := `
			UPDATE cash_counts SET pdv = ?, expected = ?, actual = ?, discrepancy = ?, count_date = ?
			WHERE id = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			cc.PDV, cc.Expected, cc.Actual, cc.Discrepancy, cc.Date, cc.ID,
		)
		return err
	}

	query := `
		INSERT INTO cash_counts (id, pdv, expected, actual, discrepancy, count_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		cc.ID, cc.PDV, cc.Expected, cc.Actual, cc.Discrepancy, cc.Date,
	)
	return err
}

// ListCashCountsSince returns drawer counts at or after the cutoff.
func (s *SQLStore) ListCashCountsSince(ctx context.Context, since time.Time) ([]*domain.CashCount, error) {
	query := `
		SELECT id, pdv, expected, actual, discrepancy, count_date
		FROM cash_counts WHERE count_date >= ? ORDER BY count_date
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*domain.CashCount
	for rows.Next() {
		var cc domain.CashCount
		if err := rows.Scan(&cc.ID, &cc.PDV, &cc.Expected, &cc.Actual, &cc.Discrepancy, &cc.Date); err != nil {
			return nil, err
		}
		counts = append(counts, &cc)
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
