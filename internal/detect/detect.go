// Package detect implements the fraud detection modules and the
// engine that orchestrates them.
package detect

import (
	"context"
	"time"

	"github.com/openretail/kestrel/internal/domain"
)

// Module is one detection strategy. Detect scans entities recorded at
// or after the cutoff and returns the alerts it found. Modules never
// persist anything themselves; the engine owns that.
type Module interface {
	Type() domain.AlertType
	Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error)
}

// operatorNames builds a CPF-to-name lookup from the roster. A missing
// roster is not an error; alerts just carry an empty name.
func operatorNames(ctx context.Context, store domain.Store) map[string]string {
	ops, err := store.ListOperators(ctx)
	if err != nil {
		return nil
	}
	names := make(map[string]string, len(ops))
	for _, op := range ops {
		names[op.CPF] = op.Name
	}
	return names
}

func newAlert(t domain.AlertType, now time.Time) *domain.FraudAlert {
	return &domain.FraudAlert{
		ID:            domain.NewAlertID(now),
		Type:          t,
		CreatedAt:     now,
		Investigation: domain.InvestigationPending,
	}
}
