package detect

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-detect-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	s, err := store.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func seedOperator(t *testing.T, s domain.Store, cpf, name string) {
	t.Helper()
	err := s.SaveOperator(context.Background(), &domain.Operator{
		CPF:      cpf,
		Name:     name,
		HireDate: time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:   domain.OperatorActive,
	})
	if err != nil {
		t.Fatalf("failed to seed operator: %v", err)
	}
}

func seedSale(t *testing.T, s domain.Store, id, operator, pdv, customer string, amount float64, ts time.Time) {
	t.Helper()
	_, err := s.SaveSale(context.Background(), &domain.Sale{
		ID:          id,
		OperatorCPF: operator,
		PDV:         pdv,
		TotalAmount: decimal.NewFromFloat(amount),
		CustomerCPF: customer,
		Timestamp:   ts,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed sale %s: %v", id, err)
	}
}

func TestGhostCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC)

	seedOperator(t, s, "11122233344", "Joana Pereira")
	seedSale(t, s, "sale-fast", "11122233344", "PDV-01", "", 80, base)
	seedSale(t, s, "sale-slow", "11122233344", "PDV-01", "", 149.90, base.Add(time.Hour))

	cancels := []*domain.Cancellation{
		{ID: "cancel-fast", SaleID: "sale-fast", OperatorCPF: "11122233344", Timestamp: base.Add(30 * time.Second), CreatedAt: time.Now().UTC()},
		{ID: "cancel-slow", SaleID: "sale-slow", OperatorCPF: "11122233344", Timestamp: base.Add(time.Hour + 90*time.Second), CreatedAt: time.Now().UTC()},
		{ID: "cancel-orphan", SaleID: "sale-missing", OperatorCPF: "11122233344", Timestamp: base.Add(2 * time.Hour), CreatedAt: time.Now().UTC()},
	}
	for _, c := range cancels {
		if _, err := s.SaveCancellation(ctx, c); err != nil {
			t.Fatalf("failed to seed cancellation: %v", err)
		}
	}

	mod := NewGhostCancellation(s, 60*time.Second)
	alerts, err := mod.Detect(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.CancellationID != "cancel-slow" {
		t.Errorf("expected cancel-slow flagged, got %s", alert.CancellationID)
	}
	if alert.RiskScore != domain.ScoreGhostCancellation {
		t.Errorf("expected score %d, got %d", domain.ScoreGhostCancellation, alert.RiskScore)
	}
	if alert.Severity != domain.SeverityLow {
		t.Errorf("expected LOW severity, got %s", alert.Severity)
	}
	if alert.OperatorName != "Joana Pereira" {
		t.Errorf("expected operator name resolved, got %q", alert.OperatorName)
	}

	ev, ok := alert.Evidence.(domain.GhostCancellationEvidence)
	if !ok {
		t.Fatalf("expected GhostCancellationEvidence, got %T", alert.Evidence)
	}
	if ev.DelaySeconds != 90 {
		t.Errorf("expected 90s delay, got %d", ev.DelaySeconds)
	}
}

func TestPbmDeviation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 11, 15, 0, 0, 0, time.UTC)

	seedSale(t, s, "sale-linked", "111", "PDV-01", "", 42, base.Add(3*time.Minute))

	auths := []*domain.Authorization{
		{ID: "auth-linked", Code: "A200", OperatorCPF: "111", PDV: "PDV-01", Amount: decimal.NewFromFloat(42), Status: domain.AuthorizationApproved, Timestamp: base},
		{ID: "auth-orphan", Code: "A201", OperatorCPF: "111", PDV: "PDV-02", Amount: decimal.NewFromFloat(60), Status: domain.AuthorizationApproved, Timestamp: base},
		{ID: "auth-declined", Code: "A202", OperatorCPF: "111", PDV: "PDV-03", Amount: decimal.NewFromFloat(70), Status: domain.AuthorizationDeclined, Timestamp: base},
	}
	for _, a := range auths {
		if _, err := s.SaveAuthorization(ctx, a); err != nil {
			t.Fatalf("failed to seed authorization: %v", err)
		}
	}

	mod := NewPbmDeviation(s, 5*time.Minute)
	alerts, err := mod.Detect(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].PDV != "PDV-02" {
		t.Errorf("expected orphan auth on PDV-02 flagged, got %s", alerts[0].PDV)
	}
	if alerts[0].Severity != domain.SeverityMedium {
		t.Errorf("expected MEDIUM severity, got %s", alerts[0].Severity)
	}

	ev, ok := alerts[0].Evidence.(domain.PbmDeviationEvidence)
	if !ok {
		t.Fatalf("expected PbmDeviationEvidence, got %T", alerts[0].Evidence)
	}
	if ev.AuthorizationCode != "A201" {
		t.Errorf("expected code A201, got %s", ev.AuthorizationCode)
	}
}

func TestHasSaleWithin(t *testing.T) {
	center := time.Date(2026, 8, 11, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	tests := []struct {
		name  string
		times []time.Time
		want  bool
	}{
		{"empty", nil, false},
		{"exact lower edge", []time.Time{center.Add(-window)}, true},
		{"exact upper edge", []time.Time{center.Add(window)}, true},
		{"just outside", []time.Time{center.Add(window + time.Second)}, false},
		{"before and after but outside", []time.Time{center.Add(-time.Hour), center.Add(time.Hour)}, false},
		{"one inside among many", []time.Time{center.Add(-time.Hour), center.Add(2 * time.Minute), center.Add(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasSaleWithin(tt.times, center, window); got != tt.want {
				t.Errorf("hasSaleWithin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoSale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	morning := time.Date(2026, 8, 12, 8, 0, 0, 0, time.UTC)

	seedOperator(t, s, "555", "Carlos Souza")

	// Four events in one morning shift for 555, three for 777.
	id := 0
	addEvent := func(operator string, ts time.Time) {
		id++
		_, err := s.SaveDrawerEvent(ctx, &domain.DrawerEvent{
			ID:          time.Now().Format("150405.000000000") + "-" + operator + string(rune('a'+id)),
			Kind:        domain.DrawerOpenNoSale,
			OperatorCPF: operator,
			PDV:         "PDV-01",
			Timestamp:   ts,
		})
		if err != nil {
			t.Fatalf("failed to seed drawer event: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		addEvent("555", morning.Add(time.Duration(i)*20*time.Minute))
	}
	for i := 0; i < 3; i++ {
		addEvent("777", morning.Add(time.Duration(i)*20*time.Minute))
	}
	// A fifth event for 555 in the afternoon shift must not join the
	// morning group.
	addEvent("555", time.Date(2026, 8, 12, 14, 0, 0, 0, time.UTC))

	mod := NewNoSale(s, 3)
	alerts, err := mod.Detect(ctx, morning.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.OperatorCPF != "555" {
		t.Errorf("expected operator 555, got %s", alert.OperatorCPF)
	}
	if alert.RiskScore != 60 {
		t.Errorf("expected capped score 60, got %d", alert.RiskScore)
	}
	if alert.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", alert.Severity)
	}

	ev, ok := alert.Evidence.(domain.NoSaleEvidence)
	if !ok {
		t.Fatalf("expected NoSaleEvidence, got %T", alert.Evidence)
	}
	if ev.EventCount != 4 {
		t.Errorf("expected 4 events, got %d", ev.EventCount)
	}
	if ev.Shift != shiftMorning {
		t.Errorf("expected Morning shift, got %s", ev.Shift)
	}
}

func TestShiftFor(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{6, shiftMorning},
		{11, shiftMorning},
		{12, shiftAfternoon},
		{17, shiftAfternoon},
		{18, shiftNight},
		{23, shiftNight},
		{0, shiftNight},
		{5, shiftNight},
	}
	for _, tt := range tests {
		if got := shiftFor(tt.hour); got != tt.want {
			t.Errorf("shiftFor(%d) = %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestCpfAbuse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 13, 9, 0, 0, 0, time.UTC)

	seedOperator(t, s, "33344455566", "Ana Lima")
	employeeCPF := "33344455566"
	customerCPF := "99988877766"

	// Eleven sales rung by operator 111 with the employee's CPF, and
	// eleven with an ordinary customer CPF. Only the employee CPF
	// crosses its threshold.
	for i := 0; i < 11; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		seedSale(t, s, "sale-emp-"+string(rune('a'+i)), "111", "PDV-01", employeeCPF, 30, ts)
		seedSale(t, s, "sale-cust-"+string(rune('a'+i)), "111", "PDV-01", customerCPF, 30, ts)
	}

	mod := NewCpfAbuse(s, 20, 10)
	alerts, err := mod.Detect(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Severity != domain.SeverityCritical {
		t.Errorf("expected CRITICAL for employee CPF, got %s", alert.Severity)
	}
	if alert.RiskScore != domain.ScoreCpfAbuse {
		t.Errorf("expected score %d, got %d", domain.ScoreCpfAbuse, alert.RiskScore)
	}

	ev, ok := alert.Evidence.(domain.CpfAbuseEvidence)
	if !ok {
		t.Fatalf("expected CpfAbuseEvidence, got %T", alert.Evidence)
	}
	if !ev.EmployeeCPF {
		t.Error("expected employee CPF flagged")
	}
	if ev.OccurrenceCount != 11 {
		t.Errorf("expected 11 occurrences, got %d", ev.OccurrenceCount)
	}
	if !ev.TotalAmount.Equal(decimal.NewFromInt(330)) {
		t.Errorf("expected total 330, got %s", ev.TotalAmount)
	}
}

func TestCashDiscrepancy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 14, 22, 0, 0, 0, time.UTC)

	counts := []struct {
		id   int64
		disc float64
	}{
		{1, -9.99},  // under threshold
		{2, -15},    // LOW
		{3, 250},    // HIGH
		{4, -600.5}, // CRITICAL
	}
	for _, c := range counts {
		err := s.SaveCashCount(ctx, &domain.CashCount{
			ID:          c.id,
			PDV:         "PDV-07",
			Expected:    decimal.NewFromInt(1000),
			Actual:      decimal.NewFromInt(1000).Add(decimal.NewFromFloat(c.disc)),
			Discrepancy: decimal.NewFromFloat(c.disc),
			Date:        base,
		})
		if err != nil {
			t.Fatalf("failed to seed cash count: %v", err)
		}
	}

	mod := NewCashDiscrepancy(s, 10)
	alerts, err := mod.Detect(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}

	severities := map[string]domain.Severity{}
	for _, a := range alerts {
		ev := a.Evidence.(domain.CashDiscrepancyEvidence)
		severities[ev.Discrepancy.String()] = a.Severity
		if a.OperatorCPF != "MULTIPLE" {
			t.Errorf("expected MULTIPLE operator, got %s", a.OperatorCPF)
		}
	}

	if severities["-15"] != domain.SeverityLow {
		t.Errorf("expected LOW for -15, got %s", severities["-15"])
	}
	if severities["250"] != domain.SeverityHigh {
		t.Errorf("expected HIGH for 250, got %s", severities["250"])
	}
	if severities["-600.5"] != domain.SeverityCritical {
		t.Errorf("expected CRITICAL for -600.5, got %s", severities["-600.5"])
	}
}

func TestRiskAggregator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedOperator(t, s, "111", "Maria Silva")
	seedOperator(t, s, "222", "Clean Hands")

	now := time.Now().UTC()
	alerts := []*domain.FraudAlert{
		{ID: "A1", Type: domain.AlertGhostCancellation, Severity: domain.SeverityLow, OperatorCPF: "111", RiskScore: 30, CreatedAt: now, Investigation: domain.InvestigationPending},
		{ID: "A2", Type: domain.AlertGhostCancellation, Severity: domain.SeverityLow, OperatorCPF: "111", RiskScore: 30, CreatedAt: now, Investigation: domain.InvestigationPending},
		{ID: "A3", Type: domain.AlertCpfAbuse, Severity: domain.SeverityCritical, OperatorCPF: "111", RiskScore: 50, CreatedAt: now, Investigation: domain.InvestigationPending},
	}
	for _, a := range alerts {
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatalf("failed to seed alert: %v", err)
		}
	}

	agg := NewRiskAggregator(s)
	since := now.Add(-time.Hour)

	scores, err := agg.Aggregate(ctx, since)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected a row per rostered operator, got %d", len(scores))
	}

	flagged, err := s.GetRiskScore(ctx, "111")
	if err != nil {
		t.Fatalf("GetRiskScore failed: %v", err)
	}
	wantScore := 2*domain.ScoreGhostCancellation + domain.ScoreCpfAbuse
	if flagged.Score != wantScore {
		t.Errorf("expected score %d, got %d", wantScore, flagged.Score)
	}
	if flagged.Level != domain.RiskMedium {
		t.Errorf("expected MEDIUM level for %d, got %s", wantScore, flagged.Level)
	}

	clean, err := s.GetRiskScore(ctx, "222")
	if err != nil {
		t.Fatalf("GetRiskScore for clean operator failed: %v", err)
	}
	if clean.Score != 0 || clean.Level != domain.RiskLow {
		t.Errorf("expected zero LOW row, got score=%d level=%s", clean.Score, clean.Level)
	}

	// Re-running the same window must not inflate anything.
	if _, err := agg.Aggregate(ctx, since); err != nil {
		t.Fatalf("second Aggregate failed: %v", err)
	}
	again, err := s.GetRiskScore(ctx, "111")
	if err != nil {
		t.Fatalf("GetRiskScore after rerun failed: %v", err)
	}
	if again.Score != wantScore {
		t.Errorf("expected idempotent score %d, got %d", wantScore, again.Score)
	}
}

func TestSuppressor(t *testing.T) {
	sup, err := NewSuppressor()
	if err != nil {
		t.Fatalf("NewSuppressor failed: %v", err)
	}

	rule := &domain.SuppressionRule{
		ID:         "small-cash",
		Name:       "Ignore small cash differences",
		Version:    "1.0.0",
		Expression: `alert_type == "CASH_DISCREPANCY" && amount < 25.0`,
		Enabled:    true,
	}
	if err := sup.LoadRule(rule); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	small := &domain.FraudAlert{
		ID:          "A1",
		Type:        domain.AlertCashDiscrepancy,
		Severity:    domain.SeverityLow,
		OperatorCPF: "MULTIPLE",
		Amount:      decimal.NewFromFloat(15),
		RiskScore:   35,
	}
	if suppressed, ruleID := sup.Suppressed(small); !suppressed || ruleID != "small-cash" {
		t.Errorf("expected small cash alert suppressed by small-cash, got %v %q", suppressed, ruleID)
	}

	large := &domain.FraudAlert{
		ID:          "A2",
		Type:        domain.AlertCashDiscrepancy,
		Severity:    domain.SeverityHigh,
		OperatorCPF: "MULTIPLE",
		Amount:      decimal.NewFromFloat(300),
		RiskScore:   35,
	}
	if suppressed, _ := sup.Suppressed(large); suppressed {
		t.Error("expected large cash alert to pass")
	}

	ghost := &domain.FraudAlert{
		ID:          "A3",
		Type:        domain.AlertGhostCancellation,
		Severity:    domain.SeverityLow,
		OperatorCPF: "111",
		Amount:      decimal.NewFromFloat(10),
		RiskScore:   30,
	}
	if suppressed, _ := sup.Suppressed(ghost); suppressed {
		t.Error("expected unrelated alert type to pass")
	}

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		bad := &domain.SuppressionRule{
			ID:         "broken",
			Version:    "1.0.0",
			Expression: `alert_type ==`,
		}
		if err := sup.ValidateRule(bad); err == nil {
			t.Error("expected compile error for invalid expression")
		}
	})
}

func TestEngineRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)

	seedOperator(t, s, "111", "Maria Silva")
	seedSale(t, s, "sale-1", "111", "PDV-01", "", 99.90, base)
	if _, err := s.SaveCancellation(ctx, &domain.Cancellation{
		ID:          "cancel-1",
		SaleID:      "sale-1",
		OperatorCPF: "111",
		Timestamp:   base.Add(5 * time.Minute),
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed cancellation: %v", err)
	}

	sup, err := NewSuppressor()
	if err != nil {
		t.Fatalf("NewSuppressor failed: %v", err)
	}

	engine := NewEngine(s, nil, sup, domain.DetectionConfig{
		LookbackDays:           7,
		GhostCancellationDelay: 60 * time.Second,
		PbmWindow:              5 * time.Minute,
		NoSaleThreshold:        3,
		CpfThreshold:           20,
		CpfEmployeeThreshold:   10,
		CashDiscrepancyMin:     10,
	})

	result, err := engine.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Status != domain.RunSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.TotalAlerts != 1 {
		t.Errorf("expected 1 alert, got %d", result.TotalAlerts)
	}
	if len(result.Modules) != 5 {
		t.Errorf("expected 5 module results, got %d", len(result.Modules))
	}
	if result.OperatorsAtRisk != 1 {
		t.Errorf("expected 1 operator at risk, got %d", result.OperatorsAtRisk)
	}

	stored, err := s.ListAlerts(ctx, domain.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected alert persisted, got %d", len(stored))
	}

	runs, err := s.ListDetectionRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListDetectionRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != result.RunID {
		t.Errorf("expected detection run recorded, got %+v", runs)
	}

	if engine.LastResult() == nil || engine.LastResult().RunID != result.RunID {
		t.Error("expected LastResult to hold the finished run")
	}

	t.Run("SingleFlight", func(t *testing.T) {
		engine.running.Store(true)
		defer engine.running.Store(false)

		_, err := engine.Run(ctx, RunOptions{})
		if !errors.Is(err, ErrRunInProgress) {
			t.Errorf("expected ErrRunInProgress, got: %v", err)
		}
	})
}

func TestEngineSuppression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCashCount(ctx, &domain.CashCount{
		ID:          1,
		PDV:         "PDV-01",
		Expected:    decimal.NewFromInt(500),
		Actual:      decimal.NewFromInt(485),
		Discrepancy: decimal.NewFromInt(-15),
		Date:        time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("failed to seed cash count: %v", err)
	}

	sup, err := NewSuppressor()
	if err != nil {
		t.Fatalf("NewSuppressor failed: %v", err)
	}
	if err := sup.LoadRule(&domain.SuppressionRule{
		ID:         "small-cash",
		Version:    "1.0.0",
		Expression: `alert_type == "CASH_DISCREPANCY" && amount < 25.0`,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	engine := NewEngine(s, nil, sup, domain.DetectionConfig{LookbackDays: 7, CashDiscrepancyMin: 10})

	result, err := engine.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Suppressed != 1 {
		t.Errorf("expected 1 suppressed alert, got %d", result.Suppressed)
	}
	if result.TotalAlerts != 0 {
		t.Errorf("expected no persisted alerts, got %d", result.TotalAlerts)
	}
}

// brokenScoreStore fails every risk score upsert.
type brokenScoreStore struct {
	domain.Store
}

func (s brokenScoreStore) UpsertRiskScore(ctx context.Context, score *domain.OperatorRiskScore) error {
	return errors.New("scores table unavailable")
}

func TestEngineRunSurvivesAggregatorFailure(t *testing.T) {
	s := brokenScoreStore{Store: newTestStore(t)}
	ctx := context.Background()

	seedOperator(t, s, "11122233344", "Ana Ribeiro")

	base := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := s.SaveSale(ctx, &domain.Sale{
		ID:          "sale-1",
		OperatorCPF: "11122233344",
		PDV:         "PDV-01",
		TotalAmount: decimal.NewFromFloat(120),
		Timestamp:   base,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed sale: %v", err)
	}
	if _, err := s.SaveCancellation(ctx, &domain.Cancellation{
		ID:          "cancel-1",
		SaleID:      "sale-1",
		OperatorCPF: "11122233344",
		Timestamp:   base.Add(10 * time.Minute),
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed cancellation: %v", err)
	}

	sup, err := NewSuppressor()
	if err != nil {
		t.Fatalf("NewSuppressor failed: %v", err)
	}
	engine := NewEngine(s, nil, sup, domain.DetectionConfig{LookbackDays: 7})

	result, err := engine.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed instead of containing the aggregation error: %v", err)
	}

	if result.Status != domain.RunPartial {
		t.Errorf("expected PARTIAL, got %s", result.Status)
	}
	if result.TotalAlerts != 1 {
		t.Errorf("expected the alert still persisted, got %d", result.TotalAlerts)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 run error, got %v", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "risk aggregation failed") {
		t.Errorf("unexpected run error: %s", result.Errors[0])
	}

	if engine.LastResult() == nil || engine.LastResult().RunID != result.RunID {
		t.Error("expected LastResult to hold the finished run")
	}

	runs, err := s.ListDetectionRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListDetectionRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the run recorded, got %d rows", len(runs))
	}
	if runs[0].Status != domain.RunPartial {
		t.Errorf("expected recorded status PARTIAL, got %s", runs[0].Status)
	}
	if len(runs[0].Errors) != 1 || !strings.Contains(runs[0].Errors[0], "risk aggregation failed") {
		t.Errorf("expected the aggregation error in the audit row, got %v", runs[0].Errors)
	}
}
