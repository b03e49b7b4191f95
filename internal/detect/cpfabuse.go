package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/kestrel/internal/domain"
)

// CpfAbuse flags the same customer CPF recurring across many sales by
// one operator, the signature of loyalty-point harvesting. Employee
// CPFs get a tighter threshold and an automatic CRITICAL severity.
type CpfAbuse struct {
	store             domain.Store
	customerThreshold int
	employeeThreshold int
}

// NewCpfAbuse builds the module with its two occurrence thresholds.
// Non-positive values fall back to 20 (customer) and 10 (employee).
func NewCpfAbuse(s domain.Store, customerThreshold, employeeThreshold int) *CpfAbuse {
	if customerThreshold <= 0 {
		customerThreshold = 20
	}
	if employeeThreshold <= 0 {
		employeeThreshold = 10
	}
	return &CpfAbuse{
		store:             s,
		customerThreshold: customerThreshold,
		employeeThreshold: employeeThreshold,
	}
}

func (c *CpfAbuse) Type() domain.AlertType { return domain.AlertCpfAbuse }

// Detect groups sales by customer CPF, then by operator within each
// CPF, and alerts when one operator rang up the same CPF more times
// than the threshold allows. Sales without a customer CPF are ignored.
func (c *CpfAbuse) Detect(ctx context.Context, since time.Time) ([]*domain.FraudAlert, error) {
	sales, err := c.store.ListSalesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}

	operators, err := c.store.ListOperators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}
	employeeCPFs := make(map[string]bool, len(operators))
	names := make(map[string]string, len(operators))
	for _, op := range operators {
		employeeCPFs[op.CPF] = true
		names[op.CPF] = op.Name
	}

	byCustomer := make(map[string][]*domain.Sale)
	for _, sale := range sales {
		if sale.CustomerCPF == "" {
			continue
		}
		byCustomer[sale.CustomerCPF] = append(byCustomer[sale.CustomerCPF], sale)
	}

	var alerts []*domain.FraudAlert
	for customerCPF, cpfSales := range byCustomer {
		isEmployee := employeeCPFs[customerCPF]
		threshold := c.customerThreshold
		if isEmployee {
			threshold = c.employeeThreshold
		}

		byOperator := make(map[string][]*domain.Sale)
		for _, sale := range cpfSales {
			byOperator[sale.OperatorCPF] = append(byOperator[sale.OperatorCPF], sale)
		}

		for operatorCPF, operatorSales := range byOperator {
			if len(operatorSales) <= threshold {
				continue
			}

			total := decimal.Zero
			for _, sale := range operatorSales {
				total = total.Add(sale.TotalAmount)
			}

			severity := domain.SeverityFromScore(domain.ScoreCpfAbuse)
			if isEmployee {
				severity = domain.SeverityCritical
			}

			alert := newAlert(domain.AlertCpfAbuse, time.Now().UTC())
			alert.OperatorCPF = operatorCPF
			alert.OperatorName = names[operatorCPF]
			alert.PDV = operatorSales[0].PDV
			alert.SaleID = operatorSales[0].ID
			alert.Amount = total
			alert.RiskScore = domain.ScoreCpfAbuse
			alert.Severity = severity
			alert.Evidence = domain.CpfAbuseEvidence{
				CustomerCPF:     customerCPF,
				OccurrenceCount: len(operatorSales),
				TotalAmount:     total,
				EmployeeCPF:     isEmployee,
			}
			alerts = append(alerts, alert)
		}
	}

	return alerts, nil
}
