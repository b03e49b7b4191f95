// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperatorStatus is the employment status of a POS operator.
type OperatorStatus string

const (
	OperatorActive   OperatorStatus = "ACTIVE"
	OperatorInactive OperatorStatus = "INACTIVE"
)

// Operator is a cashier/attendant identified by their CPF.
type Operator struct {
	CPF      string         `json:"cpf"`
	Name     string         `json:"name"`
	HireDate time.Time      `json:"hireDate"`
	Status   OperatorStatus `json:"status"`
}

// Sale is a completed point-of-sale transaction. Immutable once created.
type Sale struct {
	ID          string          `json:"id"`
	OperatorCPF string          `json:"operatorCpf"`
	PDV         string          `json:"pdv"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CustomerCPF string          `json:"customerCpf,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Cancellation voids a previously recorded sale.
// SaleID may reference a sale that was never ingested; such orphans
// are skipped by detection, not treated as errors.
type Cancellation struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"saleId"`
	OperatorCPF string    `json:"operatorCpf"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DrawerEventKind classifies a cash drawer event.
type DrawerEventKind string

const (
	DrawerOpenNoSale   DrawerEventKind = "DRAWER_OPEN_NO_SALE"
	DrawerOpenWithSale DrawerEventKind = "DRAWER_OPEN_WITH_SALE"
	DrawerCashIn       DrawerEventKind = "CASH_IN"
	DrawerCashOut      DrawerEventKind = "CASH_OUT"
)

// DrawerEvent is a raw cash drawer event from the POS terminal.
type DrawerEvent struct {
	ID          string          `json:"id"`
	OperatorCPF string          `json:"operatorCpf"`
	PDV         string          `json:"pdv"`
	Kind        DrawerEventKind `json:"kind"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AuthorizationStatus is the outcome of a PBM authorization request.
type AuthorizationStatus string

const (
	AuthorizationApproved AuthorizationStatus = "APPROVED"
	AuthorizationDeclined AuthorizationStatus = "DECLINED"
	AuthorizationPending  AuthorizationStatus = "PENDING"
)

// Authorization is a PBM (pharmacy benefit) authorization record.
type Authorization struct {
	ID          string              `json:"id"`
	Code        string              `json:"code"`
	OperatorCPF string              `json:"operatorCpf"`
	PDV         string              `json:"pdv"`
	Amount      decimal.Decimal     `json:"amount"`
	Status      AuthorizationStatus `json:"status"`
	Timestamp   time.Time           `json:"timestamp"`
}

// CashCount is the end-of-shift drawer count for a terminal.
// Discrepancy is signed: negative means the drawer came up short.
type CashCount struct {
	ID          int64           `json:"id"`
	PDV         string          `json:"pdv"`
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
	Date        time.Time       `json:"date"`
}
