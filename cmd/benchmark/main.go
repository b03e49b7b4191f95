// Benchmark tool for measuring Kestrel's detection quality on
// synthetic labeled POS data.
//
// Usage:
//   go run cmd/benchmark/main.go -operators 200 -days 7 -fraud-rate 0.05
//
// This tool:
//   1. Generates a synthetic roster and sales history with planted
//      ghost-cancellation fraud (labels are known)
//   2. Runs the detection engine over the generated data
//   3. Compares flagged operators with the planted labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openretail/kestrel/internal/detect"
	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
)

// operatorLabel pairs a generated operator with its planted verdict.
type operatorLabel struct {
	CPF   string
	Fraud bool
}

// Metrics tracks benchmark results at operator granularity.
type Metrics struct {
	TruePositives  int // Fraud operators flagged
	FalsePositives int // Clean operators flagged
	TrueNegatives  int // Clean operators not flagged
	FalseNegatives int // Fraud operators missed

	TotalOperators int
	TotalFraud     int
	TotalSales     int
	TotalCancels   int
	TotalAlerts    int
}

func main() {
	operators := flag.Int("operators", 200, "Number of operators to generate")
	days := flag.Int("days", 7, "Days of sales history to generate")
	salesPerDay := flag.Int("sales-per-day", 20, "Average sales per operator per day")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Fraction of operators planted as fraudulent (0.0-1.0)")
	seed := flag.Int64("seed", 42, "Random seed for reproducible datasets")
	dbPath := flag.String("db", "", "Keep the generated SQLite database at this path (default: temp file)")
	verbose := flag.Bool("verbose", false, "Print each operator verdict")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Ghost Cancellation Detection       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nOperators:     %d\n", *operators)
	fmt.Printf("History:       %d days\n", *days)
	fmt.Printf("Sales/day:     %d\n", *salesPerDay)
	fmt.Printf("Fraud Rate:    %.2f\n", *fraudRate)
	fmt.Printf("Seed:          %d\n", *seed)
	fmt.Println()

	path := *dbPath
	if path == "" {
		tmp, err := os.CreateTemp("", "kestrel-benchmark-*.db")
		if err != nil {
			fmt.Printf("ERROR: failed to create temp database: %v\n", err)
			os.Exit(1)
		}
		path = tmp.Name()
		tmp.Close()
		defer os.Remove(path)
	}

	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		fmt.Printf("ERROR: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("Generating dataset...")
	genStart := time.Now()
	labels, metrics, err := generate(ctx, s, rng, *operators, *days, *salesPerDay, *fraudRate)
	if err != nil {
		fmt.Printf("ERROR: failed to generate dataset: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Generated %d sales, %d cancellations for %d operators (%d fraudulent) in %v\n",
		metrics.TotalSales, metrics.TotalCancels, metrics.TotalOperators, metrics.TotalFraud,
		time.Since(genStart).Round(time.Millisecond))

	suppressor, err := detect.NewSuppressor()
	if err != nil {
		fmt.Printf("ERROR: failed to create suppressor: %v\n", err)
		os.Exit(1)
	}
	engine := detect.NewEngine(s, nil, suppressor, domain.DetectionConfig{
		LookbackDays: *days + 1,
	})

	fmt.Println("\nRunning detection...")
	runStart := time.Now()
	result, err := engine.Run(ctx, detect.RunOptions{})
	if err != nil {
		fmt.Printf("ERROR: detection run failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(runStart)
	metrics.TotalAlerts = result.TotalAlerts

	flagged := make(map[string]bool)
	for _, alert := range result.Alerts {
		flagged[alert.OperatorCPF] = true
	}

	for _, label := range labels {
		predicted := flagged[label.CPF]
		switch {
		case predicted && label.Fraud:
			metrics.TruePositives++
		case predicted && !label.Fraud:
			metrics.FalsePositives++
		case !predicted && !label.Fraud:
			metrics.TrueNegatives++
		default:
			metrics.FalseNegatives++
		}

		if *verbose {
			status := "✓"
			if predicted != label.Fraud {
				status = "✗"
			}
			fmt.Printf("%s %s | Planted: %-5v | Flagged: %-5v\n", status, label.CPF, label.Fraud, predicted)
		}
	}

	printResults(metrics, duration)
}

// generate writes a labeled dataset into the store. Fraudulent
// operators cancel a handful of their sales minutes after closing
// them; clean operators only ever cancel within the register window.
func generate(ctx context.Context, s domain.Store, rng *rand.Rand, operators, days, salesPerDay int, fraudRate float64) ([]operatorLabel, *Metrics, error) {
	metrics := &Metrics{TotalOperators: operators}
	labels := make([]operatorLabel, 0, operators)
	now := time.Now().UTC()
	historyStart := now.Add(-time.Duration(days) * 24 * time.Hour)

	fraudCount := int(float64(operators) * fraudRate)

	for i := 0; i < operators; i++ {
		cpf := fmt.Sprintf("%011d", 10000000000+int64(i))
		fraud := i < fraudCount
		labels = append(labels, operatorLabel{CPF: cpf, Fraud: fraud})
		if fraud {
			metrics.TotalFraud++
		}

		op := &domain.Operator{
			CPF:      cpf,
			Name:     fmt.Sprintf("Operator %04d", i),
			HireDate: historyStart.Add(-time.Duration(rng.Intn(720)) * 24 * time.Hour),
			Status:   domain.OperatorActive,
		}
		if err := s.SaveOperator(ctx, op); err != nil {
			return nil, nil, fmt.Errorf("failed to save operator %s: %w", cpf, err)
		}

		total := days * salesPerDay
		var sales []*domain.Sale
		for j := 0; j < total; j++ {
			ts := historyStart.Add(time.Duration(rng.Int63n(int64(days) * 24 * int64(time.Hour))))
			sale := &domain.Sale{
				ID:          uuid.NewString(),
				OperatorCPF: cpf,
				PDV:         fmt.Sprintf("PDV-%02d", rng.Intn(20)+1),
				TotalAmount: decimal.NewFromFloat(10 + rng.Float64()*490).Round(2),
				Timestamp:   ts,
				CreatedAt:   now,
			}
			if _, err := s.SaveSale(ctx, sale); err != nil {
				return nil, nil, fmt.Errorf("failed to save sale: %w", err)
			}
			sales = append(sales, sale)
			metrics.TotalSales++
		}

		// Everyone makes the occasional honest correction right away.
		for j := 0; j < total/20; j++ {
			sale := sales[rng.Intn(len(sales))]
			if err := saveCancel(ctx, s, sale, time.Duration(5+rng.Intn(40))*time.Second, now); err != nil {
				return nil, nil, err
			}
			metrics.TotalCancels++
		}

		if fraud {
			for j := 0; j < 2+rng.Intn(3); j++ {
				sale := sales[rng.Intn(len(sales))]
				if err := saveCancel(ctx, s, sale, time.Duration(2+rng.Intn(28))*time.Minute, now); err != nil {
					return nil, nil, err
				}
				metrics.TotalCancels++
			}
		}
	}

	return labels, metrics, nil
}

func saveCancel(ctx context.Context, s domain.Store, sale *domain.Sale, delay time.Duration, now time.Time) error {
	_, err := s.SaveCancellation(ctx, &domain.Cancellation{
		ID:          uuid.NewString(),
		SaleID:      sale.ID,
		OperatorCPF: sale.OperatorCPF,
		Timestamp:   sale.Timestamp.Add(delay),
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to save cancellation: %w", err)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Operators:        %d\n", m.TotalOperators)
	fmt.Printf("   Fraudulent:       %d\n", m.TotalFraud)
	fmt.Printf("   Sales:            %d\n", m.TotalSales)
	fmt.Printf("   Cancellations:    %d\n", m.TotalCancels)
	fmt.Printf("   Alerts Raised:    %d\n", m.TotalAlerts)

	fmt.Printf("\n📈 CONFUSION MATRIX (operator level)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	accuracy := float64(0)
	if m.TotalOperators > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(m.TotalOperators)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (flagged operators that were fraudulent)\n", precision)
	fmt.Printf("   Recall:     %.4f  (fraudulent operators that were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\n⏱  PERFORMANCE\n")
	fmt.Printf("   Detection Run:  %v\n", duration.Round(time.Millisecond))
}
