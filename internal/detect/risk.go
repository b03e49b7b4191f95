package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// RiskAggregator folds the alert history of a window into one weighted
// score per rostered operator. Recomputing from the same alerts yields
// the same row, so re-running a window is idempotent.
type RiskAggregator struct {
	store domain.Store
}

func NewRiskAggregator(s domain.Store) *RiskAggregator {
	return &RiskAggregator{store: s}
}

// Aggregate recounts alerts per operator and type since the cutoff and
// upserts one risk row per operator. Every rostered operator gets a
// row, including clean ones at score zero.
func (r *RiskAggregator) Aggregate(ctx context.Context, since time.Time) ([]*domain.OperatorRiskScore, error) {
	operators, err := r.store.ListOperators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}

	alerts, err := r.store.ListAlerts(ctx, domain.AlertFilter{
		Since: since,
		Limit: 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	byOperator := make(map[string][]*domain.FraudAlert)
	for _, alert := range alerts {
		byOperator[alert.OperatorCPF] = append(byOperator[alert.OperatorCPF], alert)
	}

	now := time.Now().UTC()
	scores := make([]*domain.OperatorRiskScore, 0, len(operators))
	for _, op := range operators {
		score := &domain.OperatorRiskScore{
			OperatorCPF:  op.CPF,
			OperatorName: op.Name,
			CalculatedAt: now,
		}

		for _, alert := range byOperator[op.CPF] {
			switch alert.Type {
			case domain.AlertGhostCancellation:
				score.GhostCancellations++
			case domain.AlertPbmDeviation:
				score.PbmDeviations++
			case domain.AlertNoSale:
				score.NoSaleEvents++
			case domain.AlertCpfAbuse:
				score.CpfAbuses++
			case domain.AlertCashDiscrepancy:
				score.CashDiscrepancies++
			}
		}

		score.Score = score.Total()
		score.Level = domain.RiskLevelForScore(score.Score)

		if err := r.store.UpsertRiskScore(ctx, score); err != nil {
			return nil, fmt.Errorf("failed to upsert risk score for %s: %w", op.CPF, err)
		}
		scores = append(scores, score)
	}

	return scores, nil
}
