package domain

import (
	"context"
	"time"
)

// Store defines the interface for Kestrel's own persistence layer.
type Store interface {
	// Operator roster
	SaveOperator(ctx context.Context, op *Operator) error
	GetOperator(ctx context.Context, cpf string) (*Operator, error)
	ListOperators(ctx context.Context) ([]*Operator, error)

	// Retail event entities
	SaveSale(ctx context.Context, sale *Sale) (inserted bool, err error)
	GetSale(ctx context.Context, id string) (*Sale, error)
	ListSalesSince(ctx context.Context, since time.Time) ([]*Sale, error)

	SaveCancellation(ctx context.Context, c *Cancellation) (inserted bool, err error)
	ListCancellationsSince(ctx context.Context, since time.Time) ([]*Cancellation, error)

	SaveDrawerEvent(ctx context.Context, ev *DrawerEvent) (inserted bool, err error)
	ListDrawerEventsSince(ctx context.Context, kind DrawerEventKind, since time.Time) ([]*DrawerEvent, error)

	SaveAuthorization(ctx context.Context, a *Authorization) (inserted bool, err error)
	ListAuthorizationsSince(ctx context.Context, status AuthorizationStatus, since time.Time) ([]*Authorization, error)

	SaveCashCount(ctx context.Context, cc *CashCount) error
	ListCashCountsSince(ctx context.Context, since time.Time) ([]*CashCount, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, id string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*FraudAlert, error)
	UpdateAlertInvestigation(ctx context.Context, id string, status InvestigationStatus, notes string) error

	// Operator risk scores
	GetRiskScore(ctx context.Context, operatorCPF string) (*OperatorRiskScore, error)
	UpsertRiskScore(ctx context.Context, score *OperatorRiskScore) error
	ListRiskScores(ctx context.Context, minLevel RiskLevel) ([]*OperatorRiskScore, error)

	// Audit trail
	SaveSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)
	SaveSyncErrors(ctx context.Context, syncID string, errs []SyncError) error
	ListSyncErrors(ctx context.Context, syncID string) ([]SyncError, error)

	SaveDetectionRun(ctx context.Context, run *DetectionRun) error
	ListDetectionRuns(ctx context.Context, limit int) ([]*DetectionRun, error)

	// Alert suppression rules (latest version wins)
	SaveSuppressionRule(ctx context.Context, rule *SuppressionRule) error
	GetSuppressionRule(ctx context.Context, id string) (*SuppressionRule, error)
	ListSuppressionRules(ctx context.Context) ([]*SuppressionRule, error)
	DeleteSuppressionRule(ctx context.Context, id string) error

	// Dedup keys persisted across runs
	SaveDedupKeys(ctx context.Context, syncID string, keys []DedupKey) error
	ListDedupKeysSince(ctx context.Context, since time.Time) ([]DedupKey, error)
	DeleteDedupKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows alert listings. Zero values mean no constraint.
type AlertFilter struct {
	Type        AlertType
	Severity    Severity
	OperatorCPF string
	Since       time.Time
	Limit       int
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
