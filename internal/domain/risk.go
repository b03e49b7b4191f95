package domain

import "time"

// RiskLevel is the four-tier operator risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Per-alert score weights used by both the detection modules and the
// risk aggregator.
const (
	ScoreGhostCancellation = 30
	ScorePbmDeviation      = 40
	ScoreNoSale            = 20
	ScoreCpfAbuse          = 50
	ScoreCashDiscrepancy   = 35
)

// RiskLevelForScore maps an aggregated operator score onto a level.
// Bands: LOW 0-50, MEDIUM 51-150, HIGH 151-300, CRITICAL 301+.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score <= 50:
		return RiskLow
	case score <= 150:
		return RiskMedium
	case score <= 300:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// OperatorRiskScore is the aggregated risk row for one operator.
// One row per operator; always reflects the most recent window.
type OperatorRiskScore struct {
	OperatorCPF        string    `json:"operatorCpf"`
	OperatorName       string    `json:"operatorName,omitempty"`
	Score              int       `json:"riskScore"`
	Level              RiskLevel `json:"riskLevel"`
	GhostCancellations int       `json:"ghostCancellations"`
	PbmDeviations      int       `json:"pbmDeviations"`
	NoSaleEvents       int       `json:"noSaleEvents"`
	CpfAbuses          int       `json:"cpfAbuses"`
	CashDiscrepancies  int       `json:"cashDiscrepancies"`
	CalculatedAt       time.Time `json:"calculatedAt"`
}

// Total recomputes the weighted score from the per-type counters.
func (r *OperatorRiskScore) Total() int {
	return r.GhostCancellations*ScoreGhostCancellation +
		r.PbmDeviations*ScorePbmDeviation +
		r.NoSaleEvents*ScoreNoSale +
		r.CpfAbuses*ScoreCpfAbuse +
		r.CashDiscrepancies*ScoreCashDiscrepancy
}
