package domain

import "time"

// SuppressionRule filters alerts out before they are persisted.
// Expressions are written in CEL and evaluated against each candidate
// alert; a rule that evaluates to true suppresses the alert.
//
// Example expressions:
//
//	alert.type == "CASH_DISCREPANCY" && alert.amount < 25.0
//	alert.operatorCpf in ["09876543210"]
type SuppressionRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
