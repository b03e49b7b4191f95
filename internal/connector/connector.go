// Package connector provides the source-system database adapters.
// Every adapter speaks the same contract; only connection setup and
// SQL syntax differ per dialect.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openretail/kestrel/internal/domain"
)

var (
	ErrNotConnected       = errors.New("not connected to source database")
	ErrUnsupportedDialect = errors.New("unsupported source database type")
	ErrInvalidConfig      = errors.New("invalid connector config")
)

var validate = validator.New()

// dialect localizes the pieces of SQL that differ across source
// systems. Everything else lives in sqlConnector.
type dialect interface {
	driverName() string
	dsn(cfg domain.ConnectorConfig) string

	// rebind converts ? placeholders to the dialect's own style.
	rebind(query string) string

	// limitClause renders row limiting for "ORDER BY timestamp" queries.
	limitClause(limit int) string

	// pageClause renders offset pagination for batch fetches.
	pageClause(offset, limit int) string

	pingQuery() string
}

// New builds a connector for the configured dialect. The config is
// validated up front; a bad config never produces a half-usable
// connector.
func New(cfg domain.ConnectorConfig) (domain.Connector, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var d dialect
	switch cfg.Type {
	case domain.DialectMySQL:
		d = mysqlDialect{}
	case domain.DialectPostgres:
		d = postgresDialect{}
	case domain.DialectOracle:
		d = oracleDialect{}
	case domain.DialectSQLServer:
		d = sqlserverDialect{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, cfg.Type)
	}

	return &sqlConnector{cfg: cfg, d: d}, nil
}

// SupportedDialects lists the source database types New accepts.
func SupportedDialects() []domain.DatabaseType {
	return []domain.DatabaseType{
		domain.DialectMySQL,
		domain.DialectPostgres,
		domain.DialectOracle,
		domain.DialectSQLServer,
	}
}

// sqlConnector implements domain.Connector over database/sql.
type sqlConnector struct {
	cfg domain.ConnectorConfig
	d   dialect

	mu sync.Mutex
	db *sql.DB
}

func (c *sqlConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	db, err := sql.Open(c.d.driverName(), c.d.dsn(c.cfg))
	if err != nil {
		return fmt.Errorf("failed to open %s source: %w", c.cfg.Type, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := c.cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping %s source: %w", c.cfg.Type, err)
	}

	c.db = db
	slog.Info("connected to source database",
		"type", c.cfg.Type,
		"host", c.cfg.Host,
		"database", c.cfg.Database,
	)
	return nil
}

func (c *sqlConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *sqlConnector) TestConnection(ctx context.Context) bool {
	if err := c.Connect(ctx); err != nil {
		slog.Warn("source connection test failed", "type", c.cfg.Type, "error", err)
		return false
	}

	var probe sql.NullString
	err := c.conn().QueryRowContext(ctx, c.d.pingQuery()).Scan(&probe)
	if err != nil {
		slog.Warn("source probe query failed", "type", c.cfg.Type, "error", err)
		return false
	}
	return true
}

func (c *sqlConnector) conn() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

func (c *sqlConnector) GetLastSyncTimestamp(ctx context.Context) (time.Time, error) {
	db := c.conn()
	if db == nil {
		return time.Time{}, ErrNotConnected
	}

	var last sql.NullTime
	err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM sale_transactions`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last source timestamp: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

const rowColumns = `id, pdv, operator, customer_cpf, amount, timestamp, type, reference`

func (c *sqlConnector) FetchTransactions(ctx context.Context, fromDate time.Time, limit int) ([]domain.TransactionRow, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + rowColumns + ` FROM sale_transactions WHERE 1=1`
	var args []any
	if !fromDate.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, fromDate)
	}
	query += ` ORDER BY timestamp ASC ` + c.d.limitClause(limit)

	return c.queryRows(ctx, query, args...)
}

func (c *sqlConnector) FetchTransactionsBatch(ctx context.Context, offset, limit int, fromDate time.Time) ([]domain.TransactionRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + rowColumns + ` FROM sale_transactions WHERE 1=1`
	var args []any
	if !fromDate.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, fromDate)
	}
	query += ` ORDER BY timestamp ASC ` + c.d.pageClause(offset, limit)

	return c.queryRows(ctx, query, args...)
}

func (c *sqlConnector) GetTransactionCount(ctx context.Context, fromDate time.Time) (int, error) {
	db := c.conn()
	if db == nil {
		return 0, ErrNotConnected
	}

	query := `SELECT COUNT(*) FROM sale_transactions WHERE 1=1`
	var args []any
	if !fromDate.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, fromDate)
	}

	var count int
	err := db.QueryRowContext(ctx, c.d.rebind(query), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count source rows: %w", err)
	}
	return count, nil
}

func (c *sqlConnector) DatabaseType() domain.DatabaseType {
	return c.cfg.Type
}

func (c *sqlConnector) queryRows(ctx context.Context, query string, args ...any) ([]domain.TransactionRow, error) {
	db := c.conn()
	if db == nil {
		return nil, ErrNotConnected
	}

	rows, err := db.QueryContext(ctx, c.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source rows: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionRow
	for rows.Next() {
		var row domain.TransactionRow
		var customer, rowType, reference sql.NullString

		err := rows.Scan(
			&row.ID, &row.PDV, &row.Operator, &customer,
			&row.Amount, &row.Timestamp, &rowType, &reference,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}

		row.CustomerCPF = customer.String
		row.Reference = reference.String
		row.Type = normalizeRowType(rowType.String)

		if !validRow(row) {
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeRowType defaults untagged rows to SALE, matching how most
// POS exports omit the type on regular sales.
func normalizeRowType(raw string) domain.RowType {
	if raw == "" {
		return domain.RowSale
	}
	return domain.RowType(raw)
}

// validRow drops malformed source rows with a warning rather than
// failing the whole fetch.
func validRow(row domain.TransactionRow) bool {
	switch {
	case row.ID == "":
		slog.Warn("source row missing id, dropping")
		return false
	case row.PDV == "":
		slog.Warn("source row missing pdv, dropping", "id", row.ID)
		return false
	case row.Operator == "":
		slog.Warn("source row missing operator, dropping", "id", row.ID)
		return false
	case row.Amount.IsNegative():
		slog.Warn("source row has negative amount, dropping", "id", row.ID)
		return false
	case row.Timestamp.IsZero():
		slog.Warn("source row has invalid timestamp, dropping", "id", row.ID)
		return false
	}
	return true
}
