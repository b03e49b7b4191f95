package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSeverityFromScore(t *testing.T) {
	cases := []struct {
		score int
		want  Severity
	}{
		{0, SeverityLow},
		{30, SeverityLow},
		{31, SeverityMedium},
		{50, SeverityMedium},
		{51, SeverityHigh},
		{80, SeverityHigh},
		{81, SeverityCritical},
		{200, SeverityCritical},
	}
	for _, tc := range cases {
		if got := SeverityFromScore(tc.score); got != tc.want {
			t.Errorf("SeverityFromScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestRiskLevelForScore(t *testing.T) {
	cases := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{50, RiskLow},
		{51, RiskMedium},
		{150, RiskMedium},
		{151, RiskHigh},
		{300, RiskHigh},
		{301, RiskCritical},
	}
	for _, tc := range cases {
		if got := RiskLevelForScore(tc.score); got != tc.want {
			t.Errorf("RiskLevelForScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name              string
		processed, failed int
		want              RunStatus
	}{
		{"NoFailures", 10, 0, RunSuccess},
		{"EmptyRun", 0, 0, RunSuccess},
		{"SomeFailures", 10, 3, RunPartial},
		{"AllFailed", 5, 5, RunFailed},
		{"NothingProcessed", 0, 2, RunFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFor(tc.processed, tc.failed); got != tc.want {
				t.Errorf("StatusFor(%d, %d) = %s, want %s", tc.processed, tc.failed, got, tc.want)
			}
		})
	}
}

func TestMakeDedupKey(t *testing.T) {
	row := TransactionRow{
		ID:        "tx-1",
		PDV:       "PDV-01",
		Operator:  "11122233344",
		Amount:    decimal.NewFromFloat(99.9),
		Timestamp: time.Date(2026, 8, 10, 14, 3, 27, 0, time.UTC),
		Type:      RowSale,
		Reference: "ref-1",
	}

	key := MakeDedupKey(row, 5)
	if key.TimestampBucket != time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC) {
		t.Errorf("expected timestamp truncated to the 5 minute bucket, got %v", key.TimestampBucket)
	}

	t.Run("SameBucketSameKey", func(t *testing.T) {
		other := row
		other.ID = "tx-2"
		other.Timestamp = row.Timestamp.Add(90 * time.Second)
		if MakeDedupKey(other, 5).String() != key.String() {
			t.Error("expected rows in the same bucket to share a key")
		}
	})

	t.Run("NextBucketNewKey", func(t *testing.T) {
		other := row
		other.Timestamp = row.Timestamp.Add(5 * time.Minute)
		if MakeDedupKey(other, 5).String() == key.String() {
			t.Error("expected rows in different buckets to get distinct keys")
		}
	})

	t.Run("AmountFixedPrecision", func(t *testing.T) {
		a := row
		a.Amount = decimal.NewFromFloat(99.90)
		if MakeDedupKey(a, 5).String() != key.String() {
			t.Error("expected amounts equal at two decimals to share a key")
		}
	})

	t.Run("ZeroWindowFallsBack", func(t *testing.T) {
		if MakeDedupKey(row, 0).String() != MakeDedupKey(row, 5).String() {
			t.Error("expected zero window to fall back to 5 minutes")
		}
	})
}

func TestEvidenceRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		ev   Evidence
	}{
		{"GhostCancellation", GhostCancellationEvidence{DelaySeconds: 620, CameraAvailable: true}},
		{"PbmDeviation", PbmDeviationEvidence{AuthorizationCode: "AUTH-9", WindowSeconds: 300}},
		{"NoSale", NoSaleEvidence{EventCount: 5, Shift: "NIGHT", Day: "2026-08-10"}},
		{"CpfAbuse", CpfAbuseEvidence{CustomerCPF: "99988877766", OccurrenceCount: 7, TotalAmount: decimal.NewFromInt(310)}},
		{"CashDiscrepancy", CashDiscrepancyEvidence{
			Expected:    decimal.NewFromInt(500),
			Actual:      decimal.NewFromInt(420),
			Discrepancy: decimal.NewFromInt(-80),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := MarshalEvidence(tc.ev)
			if err != nil {
				t.Fatalf("failed to marshal: %v", err)
			}
			got, err := UnmarshalEvidence(raw)
			if err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if got.Kind() != tc.ev.Kind() {
				t.Errorf("kind changed in round trip: %s != %s", got.Kind(), tc.ev.Kind())
			}
		})
	}

	t.Run("NilEvidence", func(t *testing.T) {
		raw, err := MarshalEvidence(nil)
		if err != nil || raw != nil {
			t.Fatalf("expected nil evidence to stay nil, got %q err %v", raw, err)
		}
		got, err := UnmarshalEvidence(nil)
		if err != nil || got != nil {
			t.Fatalf("expected nil payload to stay nil, got %v err %v", got, err)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		if _, err := UnmarshalEvidence([]byte(`{"kind":"MYSTERY","data":{}}`)); err == nil {
			t.Error("expected an error for an unknown evidence kind")
		}
	})
}

func TestFraudAlertJSONRoundTrip(t *testing.T) {
	alert := FraudAlert{
		ID:             "ALERT-20260810-abc12345",
		Type:           AlertGhostCancellation,
		Severity:       SeverityLow,
		OperatorCPF:    "11122233344",
		OperatorName:   "Ana Ribeiro",
		PDV:            "PDV-01",
		SaleID:         "sale-1",
		CancellationID: "cancel-1",
		Amount:         decimal.NewFromFloat(159.90),
		RiskScore:      30,
		Evidence:       GhostCancellationEvidence{DelaySeconds: 620, CameraAvailable: true},
		CreatedAt:      time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC),
		Investigation:  InvestigationPending,
	}

	raw, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("failed to marshal alert: %v", err)
	}

	var got FraudAlert
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("failed to unmarshal alert: %v", err)
	}

	if got.ID != alert.ID || got.Type != alert.Type || got.OperatorCPF != alert.OperatorCPF {
		t.Errorf("alert fields changed in round trip: %+v", got)
	}
	if !got.Amount.Equal(alert.Amount) {
		t.Errorf("amount changed in round trip: %s", got.Amount)
	}
	ev, ok := got.Evidence.(GhostCancellationEvidence)
	if !ok {
		t.Fatalf("expected ghost cancellation evidence, got %T", got.Evidence)
	}
	if ev.DelaySeconds != 620 || !ev.CameraAvailable {
		t.Errorf("evidence changed in round trip: %+v", ev)
	}

	t.Run("NoEvidence", func(t *testing.T) {
		bare := FraudAlert{
			ID:     "ALERT-20260810-def67890",
			Type:   AlertNoSale,
			Amount: decimal.Zero,
		}
		raw, err := json.Marshal(bare)
		if err != nil {
			t.Fatalf("failed to marshal: %v", err)
		}
		var got FraudAlert
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if got.Evidence != nil {
			t.Errorf("expected nil evidence, got %+v", got.Evidence)
		}
	})
}

func TestDefaultDetectionLookback(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Detection.LookbackDays != 30 {
		t.Errorf("expected 30 day default lookback, got %d", cfg.Detection.LookbackDays)
	}
}
