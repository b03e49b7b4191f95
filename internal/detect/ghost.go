package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
)

// GhostCancellation flags cancellations issued long after the sale
// closed, when the customer has already left with the goods.
type GhostCancellation struct {
	store domain.Store
	delay time.Duration
}

// NewGhostCancellation builds the module with the given minimum
// sale-to-cancel delay. Zero or negative falls back to 60 seconds.
func NewGhostCancellation(s domain.Store, delay time.Duration) *GhostCancellation {
	if delay <= 0 {
		delay = 60 * time.Second
	}
	return &GhostCancellation{store: s, delay: delay}
}

func (g *GhostCancellation) Type() domain.AlertType { return domain.AlertGhostCancellation }

// Detect pairs each cancellation with its sale and flags the ones
// whose delay exceeds the threshold. Cancellations pointing at sales
// that were never ingested are skipped.
func (g *GhostCancellation) Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error) {
	cancels, err := g.store.ListCancellationsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list cancellations: %w", err)
	}

	names := operatorNames(ctx, g.store)

	var alerts []*domain.FraudAlert
	for _, c := range cancels {
		sale, err := g.store.GetSale(ctx, c.SaleID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("cancellation references unknown sale",
				"cancellation_id", c.ID,
				"sale_id", c.SaleID,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load sale %s: %w", c.SaleID, err)
		}

		delay := c.Timestamp.Sub(sale.Timestamp)
		if delay <= g.delay {
			continue
		}

		alert := newAlert(domain.AlertGhostCancellation, time.Now().UTC())
		alert.OperatorCPF = sale.OperatorCPF
		alert.OperatorName = names[sale.OperatorCPF]
		alert.PDV = sale.PDV
		alert.SaleID = sale.ID
		alert.CancellationID = c.ID
		alert.Amount = sale.TotalAmount
		alert.RiskScore = domain.ScoreGhostCancellation
		alert.Severity = domain.SeverityFromScore(alert.RiskScore)
		alert.Evidence = domain.GhostCancellationEvidence{
			DelaySeconds:    int64(delay / time.Second),
			CameraAvailable: true,
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}
