package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// PbmDeviation flags approved benefit authorizations that never turned
// into a sale on the same terminal, suggesting the credit was pocketed.
type PbmDeviation struct {
	store  domain.Store
	window time.Duration
}

// NewPbmDeviation builds the module with the given half-width of the
// sale search window. Zero or negative falls back to 5 minutes.
func NewPbmDeviation(s domain.Store, window time.Duration) *PbmDeviation {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &PbmDeviation{store: s, window: window}
}

func (p *PbmDeviation) Type() domain.AlertType { return domain.AlertPbmDeviation }

// Detect checks every approved authorization for a sale on the same
// PDV within the window on either side. Sale timestamps are indexed
// per PDV and binary-searched, so a run is O(n log n) in sales.
func (p *PbmDeviation) Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error) {
	auths, err := p.store.ListAuthorizationsSince(ctx, domain.AuthorizationApproved, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorizations: %w", err)
	}
	if len(auths) == 0 {
		return nil, nil
	}

	// Sales just before the cutoff can still link an authorization at
	// the window edge.
	sales, err := p.store.ListSalesSince(ctx, since.Add(-p.window))
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}

	salesByPDV := make(map[string][]time.Time)
	for _, s := range sales {
		salesByPDV[s.PDV] = append(salesByPDV[s.PDV], s.Timestamp)
	}
	for _, ts := range salesByPDV {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	}

	names := operatorNames(ctx, p.store)

	var alerts []*domain.FraudAlert
	for _, auth := range auths {
		if hasSaleWithin(salesByPDV[auth.PDV], auth.Timestamp, p.window) {
			continue
		}

		alert := newAlert(domain.AlertPbmDeviation, time.Now().UTC())
		alert.OperatorCPF = auth.OperatorCPF
		alert.OperatorName = names[auth.OperatorCPF]
		alert.PDV = auth.PDV
		alert.Amount = auth.Amount
		alert.RiskScore = domain.ScorePbmDeviation
		alert.Severity = domain.SeverityFromScore(alert.RiskScore)
		alert.Evidence = domain.PbmDeviationEvidence{
			AuthorizationCode: auth.Code,
			WindowSeconds:     int64(p.window / time.Second),
			CameraAvailable:   true,
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// hasSaleWithin reports whether a sorted timestamp slice has an entry
// in [center-window, center+window].
func hasSaleWithin(sorted []time.Time, center time.Time, window time.Duration) bool {
	if len(sorted) == 0 {
		return false
	}
	lo := center.Add(-window)
	hi := center.Add(window)

	idx := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].Before(lo)
	})
	return idx < len(sorted) && !sorted[idx].After(hi)
}
