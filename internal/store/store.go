// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openretail/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOperator inserts or replaces a roster entry.
func (s *SQLStore) SaveOperator(ctx context.Context, op *domain.Operator) error {
	if op.CPF == "" {
		return fmt.Errorf("%w: operator CPF is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM operators WHERE cpf = ?", op.CPF)
	if err != nil {
		return err
	}

	if exists {
		query := `UPDATE operators SET name = ?, hire_date = ?, status = ? WHERE cpf = ?`
		_, err = s.db.ExecContext(ctx, s.rebind(query), op.Name, op.HireDate, op.Status, op.CPF)
		return err
	}

	query := `INSERT INTO operators (cpf, name, hire_date, status) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, s.rebind(query), op.CPF, op.Name, op.HireDate, op.Status)
	return err
}

// GetOperator retrieves a roster entry by CPF.
func (s *SQLStore) GetOperator(ctx context.Context, cpf string) (*domain.Operator, error) {
	query := `SELECT cpf, name, hire_date, status FROM operators WHERE cpf = ?`

	var op domain.Operator
	err := s.db.QueryRowContext(ctx, s.rebind(query), cpf).Scan(
		&op.CPF, &op.Name, &op.HireDate, &op.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperators returns the full roster ordered by name.
func (s *SQLStore) ListOperators(ctx context.Context) ([]*domain.Operator, error) {
	query := `SELECT cpf, name, hire_date, status FROM operators ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*domain.Operator
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(&op.CPF, &op.Name, &op.HireDate, &op.Status); err != nil {
			return nil, err
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rowExists runs an existence probe. The query must use ? placeholders.
func (s *SQLStore) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
