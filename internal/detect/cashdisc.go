package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/kestrel/internal/domain"
)

// CashDiscrepancy flags end-of-shift drawer counts whose difference
// from the expected balance crosses the minimum. Severity scales with
// the magnitude of the difference, not with the fixed risk score.
type CashDiscrepancy struct {
	store domain.Store
	min   decimal.Decimal
}

// NewCashDiscrepancy builds the module with the minimum absolute
// difference, in currency units, worth flagging. Non-positive falls
// back to 10.
func NewCashDiscrepancy(s domain.Store, min float64) *CashDiscrepancy {
	if min <= 0 {
		min = 10
	}
	return &CashDiscrepancy{store: s, min: decimal.NewFromFloat(min)}
}

func (c *CashDiscrepancy) Type() domain.AlertType { return domain.AlertCashDiscrepancy }

// Detect scans drawer counts recorded at or after the cutoff. Drawer
// counts are per terminal, not per operator; several operators may
// share a shift, so the alert carries the PDV instead of a CPF.
func (c *CashDiscrepancy) Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error) {
	counts, err := c.store.ListCashCountsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list cash counts: %w", err)
	}

	var alerts []*domain.FraudAlert
	for _, cc := range counts {
		magnitude := cc.Discrepancy.Abs()
		if magnitude.LessThan(c.min) {
			continue
		}

		alert := newAlert(domain.AlertCashDiscrepancy, time.Now().UTC())
		alert.OperatorCPF = "MULTIPLE"
		alert.OperatorName = "PDV " + cc.PDV
		alert.PDV = cc.PDV
		alert.Amount = magnitude
		alert.RiskScore = domain.ScoreCashDiscrepancy
		alert.Severity = severityForDiscrepancy(magnitude)
		alert.Evidence = domain.CashDiscrepancyEvidence{
			Expected:    cc.Expected,
			Actual:      cc.Actual,
			Discrepancy: cc.Discrepancy,
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// severityForDiscrepancy buckets the absolute difference:
// under 50 LOW, under 200 MEDIUM, under 500 HIGH, else CRITICAL.
func severityForDiscrepancy(magnitude decimal.Decimal) domain.Severity {
	switch {
	case magnitude.LessThan(decimal.NewFromInt(50)):
		return domain.SeverityLow
	case magnitude.LessThan(decimal.NewFromInt(200)):
		return domain.SeverityMedium
	case magnitude.LessThan(decimal.NewFromInt(500)):
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
