// Package rules evaluates the per-domain CEL rule catalogue that feeds the
// "rules" signal of every detector.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// costLimit caps the runtime cost of a single rule evaluation.
const costLimit = 100_000

// Engine holds the compiled rule table. The table is never mutated in
// place: loads and reloads build a new one and swap the pointer.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	table      *table
	maxWorkers int
}

// CompiledRule pairs a rule with its CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// table indexes compiled rules by ID and by domain. byDomain slices are
// sorted by rule ID so evidence order is stable.
type table struct {
	byID     map[string]*CompiledRule
	byDomain map[string][]*CompiledRule
}

func newTable(rules map[string]*CompiledRule) *table {
	t := &table{byID: rules, byDomain: make(map[string][]*CompiledRule)}
	for _, r := range rules {
		t.byDomain[r.Config.Domain] = append(t.byDomain[r.Config.Domain], r)
	}
	for _, list := range t.byDomain {
		sort.Slice(list, func(i, j int) bool { return list[i].Config.ID < list[j].Config.ID })
	}
	return t
}

// Result is the outcome of checking one record against its domain's rules.
type Result struct {
	Score      float64                `json:"score"`
	Violations []domain.RuleViolation `json:"violations,omitempty"`
	Evidence   []domain.Evidence      `json:"evidence,omitempty"`
}

// NewEngine creates an engine that evaluates at most maxWorkers rules of a
// record concurrently.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	return &Engine{
		env:        env,
		table:      newTable(map[string]*CompiledRule{}),
		maxWorkers: maxWorkers,
	}, nil
}

// NewEnv returns the CEL environment shared by rules and pattern indicators:
// a single map variable r holding the record attributes.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("r", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return env, nil
}

// ValidateRule checks a rule's fields and compiles its expression without
// touching the loaded table.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	_, err := e.compile(cfg)
	return err
}

func checkConfig(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return errors.New("rule config is required")
	}
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if cfg.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if cfg.Weight < 0 || cfg.Weight > 1 {
		errs = append(errs, fmt.Errorf("weight %.2f outside [0,1]", cfg.Weight))
	}
	if cfg.Confidence < 0 || cfg.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %.2f outside [0,1]", cfg.Confidence))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("rule %q: %w", cfg.ID, err)
	}
	return nil
}

func (e *Engine) compile(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	prg, err := CompileBool(e.env, cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", cfg.ID, err)
	}
	return &CompiledRule{Config: cfg, Program: prg}, nil
}

// LoadRule compiles one rule into a copy of the current table. A rule with
// the same ID is replaced.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := make(map[string]*CompiledRule, len(e.table.byID)+1)
	for id, r := range e.table.byID {
		next[id] = r
	}
	next[cfg.ID] = compiled
	e.table = newTable(next)
	return nil
}

// LoadRules loads every enabled rule, stopping at the first failure.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := e.LoadRule(cfg); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces the table with the enabled rules in configs. If any
// of them fails to compile the current table stays active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make(map[string]*CompiledRule, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	t := newTable(next)
	e.mu.Lock()
	e.table = t
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() *table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// CheckRules evaluates every enabled rule of ruleDomain against rec.
// The score is the sum of violated rule weights, capped at 1.
func (e *Engine) CheckRules(ctx context.Context, ruleDomain string, rec domain.Record) Result {
	rules := e.snapshot().byDomain[ruleDomain]
	if len(rules) == 0 {
		return Result{}
	}

	vars := map[string]any{"r": rec.Attributes()}
	hit := make([]bool, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)
	for i, rule := range rules {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			hit[i] = evaluate(ctx, rule, vars, rec.RecordID())
		}()
	}
	wg.Wait()

	var (
		res Result
		sum float64
	)
	for i, rule := range rules {
		if !hit[i] {
			continue
		}
		cfg := rule.Config
		sum += cfg.Weight
		res.Violations = append(res.Violations, domain.RuleViolation{
			RuleID: cfg.ID,
			Name:   cfg.Name,
			Weight: cfg.Weight,
		})
		res.Evidence = append(res.Evidence, domain.Evidence{
			Type:        "rule_violation",
			Description: "Rule violated: " + cfg.Name,
			Source:      "Rule Engine",
			Reliability: cfg.Confidence,
			Data: map[string]any{
				"ruleId":     cfg.ID,
				"weight":     cfg.Weight,
				"expression": cfg.Expression,
				"version":    cfg.Version,
			},
		})
	}
	res.Score = math.Min(1, sum)
	return res
}

// evaluate reports whether rule is violated. Errors such as a missing
// attribute count as not violated.
func evaluate(ctx context.Context, rule *CompiledRule, vars map[string]any, recordID string) bool {
	out, _, err := rule.Program.ContextEval(ctx, vars)
	if err != nil {
		slog.Debug("rule evaluation error",
			"rule_id", rule.Config.ID,
			"record_id", recordID,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.snapshot().byID)
}

// GetLoadedRules returns the loaded rule configurations in ID order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	t := e.snapshot()
	out := make([]*domain.RuleConfig, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Domains returns the domains that have at least one loaded rule.
func (e *Engine) Domains() []string {
	t := e.snapshot()
	out := make([]string, 0, len(t.byDomain))
	for d := range t.byDomain {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Close empties the table.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.table = newTable(map[string]*CompiledRule{})
	e.mu.Unlock()
	return nil
}

// CompileBool compiles an expression that must evaluate to a bool.
// Expressions typed dyn are accepted and checked at evaluation time.
func CompileBool(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("expression must return bool, got %s", t)
	}
	prg, err := env.Program(ast,
		cel.CostLimit(costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("building program: %w", err)
	}
	return prg, nil
}
