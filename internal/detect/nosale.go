package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// Shift boundaries, local to the store's clock. Night wraps midnight.
const (
	shiftMorning   = "Morning"
	shiftAfternoon = "Afternoon"
	shiftNight     = "Night"
)

// noSaleScoreCap bounds the per-shift score regardless of count.
const noSaleScoreCap = 60

// NoSale flags operators who open the cash drawer without a linked
// sale more than the threshold allows within a single shift.
type NoSale struct {
	store     domain.Store
	threshold int
}

// NewNoSale builds the module with the per-shift event threshold.
// Zero or negative falls back to 3.
func NewNoSale(s domain.Store, threshold int) *NoSale {
	if threshold <= 0 {
		threshold = 3
	}
	return &NoSale{store: s, threshold: threshold}
}

func (n *NoSale) Type() domain.AlertType { return domain.AlertNoSale }

// Detect groups drawer-open-no-sale events by operator, calendar day
// and shift, and alerts on any group above the threshold. The score
// grows with the count but is capped per shift.
func (n *NoSale) Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error) {
	events, err := n.store.ListDrawerEventsSince(ctx, domain.DrawerOpenNoSale, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list drawer events: %w", err)
	}

	type group struct {
		operator string
		day      string
		shift    string
	}
	counts := make(map[group]int)
	for _, ev := range events {
		counts[group{
			operator: ev.OperatorCPF,
			day:      ev.Timestamp.Format("2006-01-02"),
			shift:    shiftFor(ev.Timestamp.Hour()),
		}]++
	}

	names := operatorNames(ctx, n.store)

	var alerts []*domain.FraudAlert
	for g, count := range counts {
		if count <= n.threshold {
			continue
		}

		score := domain.ScoreNoSale * count
		if score > noSaleScoreCap {
			score = noSaleScoreCap
		}

		alert := newAlert(domain.AlertNoSale, time.Now().UTC())
		alert.OperatorCPF = g.operator
		alert.OperatorName = names[g.operator]
		alert.RiskScore = score
		alert.Severity = domain.SeverityFromScore(score)
		alert.Evidence = domain.NoSaleEvidence{
			EventCount: count,
			Shift:      g.shift,
			Day:        g.day,
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// shiftFor maps an hour of day onto a shift name. Morning is [6, 12),
// Afternoon [12, 18), Night everything else.
func shiftFor(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return shiftMorning
	case hour >= 12 && hour < 18:
		return shiftAfternoon
	default:
		return shiftNight
	}
}
