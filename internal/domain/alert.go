package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType identifies the detection module that produced an alert.
type AlertType string

const (
	AlertGhostCancellation AlertType = "GHOST_CANCELLATION"
	AlertPbmDeviation      AlertType = "PBM_DEVIATION"
	AlertNoSale            AlertType = "NO_SALE"
	AlertCpfAbuse          AlertType = "CPF_ABUSE"
	AlertCashDiscrepancy   AlertType = "CASH_DISCREPANCY"
)

// AllAlertTypes returns the five module tags in a stable order.
func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertGhostCancellation,
		AlertPbmDeviation,
		AlertNoSale,
		AlertCpfAbuse,
		AlertCashDiscrepancy,
	}
}

// Severity is the four-tier alert severity.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFromScore maps a per-alert risk score onto a severity.
// CashDiscrepancy alerts use their own magnitude buckets instead.
func SeverityFromScore(score int) Severity {
	switch {
	case score <= 30:
		return SeverityLow
	case score <= 50:
		return SeverityMedium
	case score <= 80:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// InvestigationStatus tracks the manual triage state of an alert.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "PENDING"
	InvestigationReviewed  InvestigationStatus = "REVIEWED"
	InvestigationFalse     InvestigationStatus = "FALSE_POSITIVE"
	InvestigationConfirmed InvestigationStatus = "CONFIRMED"
)

// Evidence is the typed payload attached to an alert. Each detection
// module has its own variant; Kind ties the variant to its alert type.
type Evidence interface {
	Kind() AlertType
}

// GhostCancellationEvidence backs a GHOST_CANCELLATION alert.
type GhostCancellationEvidence struct {
	DelaySeconds    int64  `json:"delaySeconds"`
	CameraAvailable bool   `json:"cameraAvailable"`
	CameraURL       string `json:"cameraUrl,omitempty"`
}

func (GhostCancellationEvidence) Kind() AlertType { return AlertGhostCancellation }

// PbmDeviationEvidence backs a PBM_DEVIATION alert.
type PbmDeviationEvidence struct {
	AuthorizationCode string `json:"authorizationCode"`
	WindowSeconds     int64  `json:"windowSeconds"`
	CameraAvailable   bool   `json:"cameraAvailable"`
}

func (PbmDeviationEvidence) Kind() AlertType { return AlertPbmDeviation }

// NoSaleEvidence backs a NO_SALE alert.
type NoSaleEvidence struct {
	EventCount int    `json:"eventCount"`
	Shift      string `json:"shift"`
	Day        string `json:"day"`
}

func (NoSaleEvidence) Kind() AlertType { return AlertNoSale }

// CpfAbuseEvidence backs a CPF_ABUSE alert.
type CpfAbuseEvidence struct {
	CustomerCPF     string          `json:"customerCpf"`
	OccurrenceCount int             `json:"occurrenceCount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	EmployeeCPF     bool            `json:"employeeCpf"`
}

func (CpfAbuseEvidence) Kind() AlertType { return AlertCpfAbuse }

// CashDiscrepancyEvidence backs a CASH_DISCREPANCY alert.
type CashDiscrepancyEvidence struct {
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
}

func (CashDiscrepancyEvidence) Kind() AlertType { return AlertCashDiscrepancy }

// FraudAlert is one suspicious behavior flagged by a detection module.
// Created only by detection modules; investigation fields are mutated
// by the triage layer, which is outside this service.
type FraudAlert struct {
	ID             string              `json:"id"`
	Type           AlertType           `json:"alertType"`
	Severity       Severity            `json:"severity"`
	OperatorCPF    string              `json:"operatorCpf"`
	OperatorName   string              `json:"operatorName,omitempty"`
	PDV            string              `json:"pdv,omitempty"`
	SaleID         string              `json:"saleId,omitempty"`
	CancellationID string              `json:"cancellationId,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	RiskScore      int                 `json:"riskScore"`
	Evidence       Evidence            `json:"evidence,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	Investigation  InvestigationStatus `json:"investigationStatus"`
	Notes          string              `json:"investigationNotes,omitempty"`
}

// fraudAlertWire mirrors FraudAlert with the evidence payload in its
// tagged envelope form, so the interface field survives JSON transport.
type fraudAlertWire struct {
	ID             string              `json:"id"`
	Type           AlertType           `json:"alertType"`
	Severity       Severity            `json:"severity"`
	OperatorCPF    string              `json:"operatorCpf"`
	OperatorName   string              `json:"operatorName,omitempty"`
	PDV            string              `json:"pdv,omitempty"`
	SaleID         string              `json:"saleId,omitempty"`
	CancellationID string              `json:"cancellationId,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	RiskScore      int                 `json:"riskScore"`
	Evidence       json.RawMessage     `json:"evidence,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	Investigation  InvestigationStatus `json:"investigationStatus"`
	Notes          string              `json:"investigationNotes,omitempty"`
}

func (a FraudAlert) MarshalJSON() ([]byte, error) {
	ev, err := MarshalEvidence(a.Evidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fraudAlertWire{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		OperatorCPF:    a.OperatorCPF,
		OperatorName:   a.OperatorName,
		PDV:            a.PDV,
		SaleID:         a.SaleID,
		CancellationID: a.CancellationID,
		Amount:         a.Amount,
		RiskScore:      a.RiskScore,
		Evidence:       ev,
		CreatedAt:      a.CreatedAt,
		Investigation:  a.Investigation,
		Notes:          a.Notes,
	})
}

func (a *FraudAlert) UnmarshalJSON(data []byte) error {
	var w fraudAlertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ev, err := UnmarshalEvidence(w.Evidence)
	if err != nil {
		return err
	}
	*a = FraudAlert{
		ID:             w.ID,
		Type:           w.Type,
		Severity:       w.Severity,
		OperatorCPF:    w.OperatorCPF,
		OperatorName:   w.OperatorName,
		PDV:            w.PDV,
		SaleID:         w.SaleID,
		CancellationID: w.CancellationID,
		Amount:         w.Amount,
		RiskScore:      w.RiskScore,
		Evidence:       ev,
		CreatedAt:      w.CreatedAt,
		Investigation:  w.Investigation,
		Notes:          w.Notes,
	}
	return nil
}

// evidenceEnvelope is the wire/storage form of an Evidence variant.
type evidenceEnvelope struct {
	Kind AlertType       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalEvidence encodes an evidence variant with its type tag.
func MarshalEvidence(ev Evidence) ([]byte, error) {
	if ev == nil {
		return nil, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evidenceEnvelope{Kind: ev.Kind(), Data: data})
}

// UnmarshalEvidence decodes a tagged evidence payload.
func UnmarshalEvidence(raw []byte) (Evidence, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env evidenceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var ev Evidence
	switch env.Kind {
	case AlertGhostCancellation:
		ev = &GhostCancellationEvidence{}
	case AlertPbmDeviation:
		ev = &PbmDeviationEvidence{}
	case AlertNoSale:
		ev = &NoSaleEvidence{}
	case AlertCpfAbuse:
		ev = &CpfAbuseEvidence{}
	case AlertCashDiscrepancy:
		ev = &CashDiscrepancyEvidence{}
	default:
		return nil, fmt.Errorf("unknown evidence kind: %s", env.Kind)
	}

	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, err
	}
	return derefEvidence(ev), nil
}

func derefEvidence(ev Evidence) Evidence {
	switch v := ev.(type) {
	case *GhostCancellationEvidence:
		return *v
	case *PbmDeviationEvidence:
		return *v
	case *NoSaleEvidence:
		return *v
	case *CpfAbuseEvidence:
		return *v
	case *CashDiscrepancyEvidence:
		return *v
	default:
		return ev
	}
}
