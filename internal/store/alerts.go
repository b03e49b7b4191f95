package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// SaveAlert stores a fraud alert. Alerts are append-only; only the
// investigation fields change afterwards.
func (s *SQLStore) SaveAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert.ID == "" {
		return fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	evidence, err := domain.MarshalEvidence(alert.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	query := `
		INSERT INTO fraud_alerts (
			id, alert_type, severity, operator_cpf, operator_name,
			pdv, sale_id, cancellation_id, amount, risk_score,
			evidence, investigation, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		alert.ID, alert.Type, alert.Severity,
		alert.OperatorCPF, nullString(alert.OperatorName),
		nullString(alert.PDV), nullString(alert.SaleID), nullString(alert.CancellationID),
		alert.Amount, alert.RiskScore,
		string(evidence), alert.Investigation, nullString(alert.Notes),
		alert.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (s *SQLStore) GetAlert(ctx context.Context, id string) (*domain.FraudAlert, error) {
	query := alertSelect + ` WHERE id = ?`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

const alertSelect = `
	SELECT id, alert_type, severity, operator_cpf, operator_name,
		   pdv, sale_id, cancellation_id, amount, risk_score,
		   evidence, investigation, notes, created_at
	FROM fraud_alerts`

// ListAlerts returns alerts matching the filter, newest first.
func (s *SQLStore) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	query := alertSelect
	var clauses []string
	var args []any

	if filter.Type != "" {
		clauses = append(clauses, "alert_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.OperatorCPF != "" {
		clauses = append(clauses, "operator_cpf = ?")
		args = append(args, filter.OperatorCPF)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since)
	}

	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var alert domain.FraudAlert
	var operatorName, pdv, saleID, cancelID, notes sql.NullString
	var evidence string

	err := row.Scan(
		&alert.ID, &alert.Type, &alert.Severity,
		&alert.OperatorCPF, &operatorName,
		&pdv, &saleID, &cancelID,
		&alert.Amount, &alert.RiskScore,
		&evidence, &alert.Investigation, &notes,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.OperatorName = operatorName.String
	alert.PDV = pdv.String
	alert.SaleID = saleID.String
	alert.CancellationID = cancelID.String
	alert.Notes = notes.String

	if evidence != "" {
		ev, err := domain.UnmarshalEvidence([]byte(evidence))
		if err != nil {
			return nil, fmt.Errorf("failed to decode evidence for alert %s: %w", alert.ID, err)
		}
		alert.Evidence = ev
	}
	return &alert, nil
}

// UpdateAlertInvestigation moves an alert through manual triage.
func (s *SQLStore) UpdateAlertInvestigation(ctx context.Context, id string, status domain.InvestigationStatus, notes string) error {
	query := `UPDATE fraud_alerts SET investigation = ?, notes = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query), status, nullString(notes), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRiskScore retrieves the aggregated risk row for one operator.
func (s *SQLStore) GetRiskScore(ctx context.Context, operatorCPF string) (*domain.OperatorRiskScore, error) {
	query := `
		SELECT operator_cpf, operator_name, total_score, risk_level,
			   ghost_cancellations, pbm_deviations, no_sale_openings,
			   cpf_abuses, cash_discrepancies, calculated_at
		FROM operator_risk_scores WHERE operator_cpf = ?
	`

	score, err := scanRiskScore(s.db.QueryRowContext(ctx, s.rebind(query), operatorCPF))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return score, err
}

// UpsertRiskScore replaces the aggregated risk row for one operator.
func (s *SQLStore) UpsertRiskScore(ctx context.Context, score *domain.OperatorRiskScore) error {
	if score.OperatorCPF == "" {
		return fmt.Errorf("%w: operator CPF is required", ErrInvalidInput)
	}

	exists, err := s.rowExists(ctx, "SELECT 1 FROM operator_risk_scores WHERE operator_cpf = ?", score.OperatorCPF)
	if err != nil {
		return err
	}

	if exists {
		query := `
			UPDATE operator_risk_scores SET operator_name = ?, total_score = ?, risk_level = ?,
				ghost_cancellations = ?, pbm_deviations = ?, no_sale_openings = ?,
				cpf_abuses = ?, cash_discrepancies = ?, calculated_at = ?
			WHERE operator_cpf = ?
		`
		_, err = s.db.ExecContext(ctx, s.rebind(query),
			nullString(score.OperatorName), score.Score, score.Level,
			score.GhostCancellations, score.PbmDeviations, score.NoSaleEvents,
			score.CpfAbuses, score.CashDiscrepancies, score.CalculatedAt,
			score.OperatorCPF,
		)
		return err
	}

	query := `
		INSERT INTO operator_risk_scores (
			operator_cpf, operator_name, total_score, risk_level,
			ghost_cancellations, pbm_deviations, no_sale_openings,
			cpf_abuses, cash_discrepancies, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		score.OperatorCPF, nullString(score.OperatorName), score.Score, score.Level,
		score.GhostCancellations, score.PbmDeviations, score.NoSaleEvents,
		score.CpfAbuses, score.CashDiscrepancies, score.CalculatedAt,
	)
	return err
}

// ListRiskScores returns risk rows at or above the given level,
// highest score first. An empty level returns everything.
func (s *SQLStore) ListRiskScores(ctx context.Context, minLevel domain.RiskLevel) ([]*domain.OperatorRiskScore, error) {
	query := `
		SELECT operator_cpf, operator_name, total_score, risk_level,
			   ghost_cancellations, pbm_deviations, no_sale_openings,
			   cpf_abuses, cash_discrepancies, calculated_at
		FROM operator_risk_scores
	`
	var args []any

	if minLevel != "" {
		query += ` WHERE total_score >= ?`
		args = append(args, minScoreFor(minLevel))
	}
	query += ` ORDER BY total_score DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.OperatorRiskScore
	for rows.Next() {
		score, err := scanRiskScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func scanRiskScore(row rowScanner) (*domain.OperatorRiskScore, error) {
	var score domain.OperatorRiskScore
	var name sql.NullString
	err := row.Scan(
		&score.OperatorCPF, &name, &score.Score, &score.Level,
		&score.GhostCancellations, &score.PbmDeviations, &score.NoSaleEvents,
		&score.CpfAbuses, &score.CashDiscrepancies, &score.CalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	score.OperatorName = name.String
	return &score, nil
}

func minScoreFor(level domain.RiskLevel) int {
	switch level {
	case domain.RiskMedium:
		return 51
	case domain.RiskHigh:
		return 151
	case domain.RiskCritical:
		return 301
	default:
		return 0
	}
}

// SaveSuppressionRule stores a new version of a suppression rule.
func (s *SQLStore) SaveSuppressionRule(ctx context.Context, rule *domain.SuppressionRule) error {
	if rule.ID == "" || rule.Version == "" {
		return fmt.Errorf("%w: rule ID and version are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO suppression_rules (id, name, description, version, expression, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.Name, nullString(rule.Description), rule.Version,
		rule.Expression, boolInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetSuppressionRule returns the latest version of a rule.
func (s *SQLStore) GetSuppressionRule(ctx context.Context, id string) (*domain.SuppressionRule, error) {
	query := `
		SELECT id, name, description, version, expression, enabled, created_at, updated_at
		FROM suppression_rules WHERE id = ?
		ORDER BY updated_at DESC LIMIT 1
	`

	rule, err := scanSuppressionRule(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListSuppressionRules returns the latest version of every rule.
func (s *SQLStore) ListSuppressionRules(ctx context.Context) ([]*domain.SuppressionRule, error) {
	query := `
		SELECT r.id, r.name, r.description, r.version, r.expression, r.enabled, r.created_at, r.updated_at
		FROM suppression_rules r
		INNER JOIN (
			SELECT id, MAX(updated_at) AS max_updated
			FROM suppression_rules GROUP BY id
		) latest ON r.id = latest.id AND r.updated_at = latest.max_updated
		ORDER BY r.id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.SuppressionRule
	for rows.Next() {
		rule, err := scanSuppressionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteSuppressionRule removes every version of a rule.
func (s *SQLStore) DeleteSuppressionRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM suppression_rules WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSuppressionRule(row rowScanner) (*domain.SuppressionRule, error) {
	var rule domain.SuppressionRule
	var description sql.NullString
	var enabled int
	err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.Version,
		&rule.Expression, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.Enabled = enabled != 0
	return &rule, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
