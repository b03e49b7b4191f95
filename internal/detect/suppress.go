package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/openretail/kestrel/internal/domain"
)

// Suppressor filters candidate alerts through CEL expressions before
// they are persisted. A rule that evaluates to true drops the alert.
type Suppressor struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledSuppression
}

type compiledSuppression struct {
	rule    *domain.SuppressionRule
	program cel.Program
}

// NewSuppressor creates the suppression engine with the alert
// variables exposed to expressions.
func NewSuppressor() (*Suppressor, error) {
	env, err := cel.NewEnv(
		cel.Variable("alert", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("alert_type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("operator_cpf", cel.StringType),
		cel.Variable("pdv", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("risk_score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Suppressor{
		env:      env,
		compiled: make(map[string]*compiledSuppression),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (s *Suppressor) ValidateRule(rule *domain.SuppressionRule) error {
	if rule == nil {
		return fmt.Errorf("suppression rule is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.compile(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (s *Suppressor) LoadRule(rule *domain.SuppressionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compiled, err := s.compile(rule)
	if err != nil {
		return err
	}
	s.compiled[rule.ID] = compiled
	return nil
}

// ReloadFromStore clears the engine and loads the latest enabled rules.
func (s *Suppressor) ReloadFromStore(ctx context.Context, store domain.Store) error {
	rules, err := store.ListSuppressionRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list suppression rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]*compiledSuppression, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := s.compile(rule)
		if err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
		fresh[rule.ID] = compiled
	}
	s.compiled = fresh
	return nil
}

func (s *Suppressor) compile(rule *domain.SuppressionRule) (*compiledSuppression, error) {
	ast, issues := s.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &compiledSuppression{rule: rule, program: program}, nil
}

// RulesCount returns the number of loaded rules.
func (s *Suppressor) RulesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.compiled)
}

// Suppressed reports whether any loaded rule matches the alert, and the
// ID of the first rule that did. Evaluation errors never suppress.
func (s *Suppressor) Suppressed(alert *domain.FraudAlert) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.compiled) == 0 {
		return false, ""
	}

	amount, _ := alert.Amount.Float64()
	activation := map[string]any{
		"alert": map[string]any{
			"id":          alert.ID,
			"type":        string(alert.Type),
			"severity":    string(alert.Severity),
			"operatorCpf": alert.OperatorCPF,
			"pdv":         alert.PDV,
			"amount":      amount,
			"riskScore":   alert.RiskScore,
		},
		"alert_type":   string(alert.Type),
		"severity":     string(alert.Severity),
		"operator_cpf": alert.OperatorCPF,
		"pdv":          alert.PDV,
		"amount":       amount,
		"risk_score":   alert.RiskScore,
	}

	for id, c := range s.compiled {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return true, id
		}
	}
	return false, ""
}
