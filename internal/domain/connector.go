package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DatabaseType is a supported source-system SQL dialect.
type DatabaseType string

const (
	DialectMySQL     DatabaseType = "mysql"
	DialectPostgres  DatabaseType = "postgresql"
	DialectOracle    DatabaseType = "oracle"
	DialectSQLServer DatabaseType = "sqlserver"
)

// ConnectorConfig describes how to reach one external source database.
type ConnectorConfig struct {
	Type              DatabaseType  `json:"type" validate:"required,oneof=mysql postgresql oracle sqlserver"`
	Host              string        `json:"host" validate:"required"`
	Port              int           `json:"port" validate:"required,min=1,max=65535"`
	Database          string        `json:"database" validate:"required"`
	Username          string        `json:"username" validate:"required"`
	Password          string        `json:"password"`
	SSL               bool          `json:"ssl,omitempty"`
	ConnectionTimeout time.Duration `json:"connectionTimeout,omitempty"`
}

// RowType classifies a fetched source row.
type RowType string

const (
	RowSale         RowType = "SALE"
	RowCancellation RowType = "CANCELLATION"
	RowRefund       RowType = "REFUND"
	RowAdjustment   RowType = "ADJUSTMENT"
)

// TransactionRow is the canonical shape every dialect adapter
// normalizes its heterogeneous source rows into.
type TransactionRow struct {
	ID          string            `json:"id"`
	PDV         string            `json:"pdv"`
	Operator    string            `json:"operator"`
	CustomerCPF string            `json:"customerCpf,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        RowType           `json:"type"`
	Reference   string            `json:"reference,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Connector is the uniform contract over heterogeneous source systems.
// Adapters differ only in connection setup and SQL syntax.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
	TestConnection(ctx context.Context) bool

	// GetLastSyncTimestamp returns the newest source-side record time,
	// or the zero time when the source is empty.
	GetLastSyncTimestamp(ctx context.Context) (time.Time, error)

	// FetchTransactions returns up to limit rows, oldest first.
	// A zero fromDate means no lower bound.
	FetchTransactions(ctx context.Context, fromDate time.Time, limit int) ([]TransactionRow, error)

	// FetchTransactionsBatch pages through rows with a monotonic offset.
	FetchTransactionsBatch(ctx context.Context, offset, limit int, fromDate time.Time) ([]TransactionRow, error)

	GetTransactionCount(ctx context.Context, fromDate time.Time) (int, error)

	DatabaseType() DatabaseType
}

// DedupKey is the coarse fingerprint used to suppress re-ingesting the
// same external event. Valid only at a fixed bucket width.
type DedupKey struct {
	PDV             string          `json:"pdv"`
	Operator        string          `json:"operator"`
	Amount          decimal.Decimal `json:"amount"`
	TimestampBucket time.Time       `json:"timestampBucket"`
	Reference       string          `json:"reference,omitempty"`
}

// MakeDedupKey fingerprints a row with its timestamp rounded down to
// the dedup window.
func MakeDedupKey(row TransactionRow, windowMinutes int) DedupKey {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	window := time.Duration(windowMinutes) * time.Minute
	return DedupKey{
		PDV:             row.PDV,
		Operator:        row.Operator,
		Amount:          row.Amount,
		TimestampBucket: row.Timestamp.Truncate(window),
		Reference:       row.Reference,
	}
}

// String renders the key in its canonical storage form.
func (k DedupKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%d|%s",
		k.PDV, k.Operator, k.Amount.StringFixed(2), k.TimestampBucket.Unix(), k.Reference)
}
