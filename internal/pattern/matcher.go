// Package pattern matches records against the library of known fraud schemes.
package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

// MatchThreshold is the similarity a pattern must exceed to count as a match.
const MatchThreshold = 0.7

// evidenceReliability is attached to every pattern match.
const evidenceReliability = 0.85

// Similarity scores how closely rec resembles p, in [0,1].
type Similarity interface {
	Similarity(ctx context.Context, rec domain.Record, p *Compiled) float64
}

// Compiled is a pattern with its indicator programs.
type Compiled struct {
	Pattern    domain.FraudPattern
	Indicators []cel.Program
}

// Result is the outcome of matching one record.
type Result struct {
	Score    float64           `json:"score"`
	Matches  []Match           `json:"matches,omitempty"`
	Evidence []domain.Evidence `json:"evidence,omitempty"`
}

// Match is a pattern whose similarity exceeded the threshold.
type Match struct {
	PatternID  string  `json:"patternId"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

type library struct {
	byCategory map[string][]*Compiled
	count      int
}

// Matcher holds an immutable pattern library that is replaced whole on reload.
type Matcher struct {
	env        *cel.Env
	lib        atomic.Pointer[library]
	similarity Similarity

	// lastDetected is kept outside the library so matching never mutates it.
	lastDetected sync.Map // pattern ID -> time.Time
}

// NewMatcher creates a matcher with the indicator-fraction similarity.
func NewMatcher() (*Matcher, error) {
	env, err := rules.NewEnv()
	if err != nil {
		return nil, err
	}
	m := &Matcher{env: env, similarity: IndicatorFraction{}}
	m.lib.Store(&library{byCategory: map[string][]*Compiled{}})
	return m, nil
}

// WithSimilarity replaces the similarity function.
func (m *Matcher) WithSimilarity(s Similarity) *Matcher {
	m.similarity = s
	return m
}

// Reload compiles the given patterns and swaps them in. On error the
// previous library stays active.
func (m *Matcher) Reload(patterns []*domain.FraudPattern) error {
	next := &library{byCategory: map[string][]*Compiled{}}
	for _, p := range patterns {
		c, err := m.compile(p)
		if err != nil {
			return err
		}
		next.byCategory[p.Category] = append(next.byCategory[p.Category], c)
		next.count++
	}
	for _, list := range next.byCategory {
		sort.Slice(list, func(i, j int) bool { return list[i].Pattern.ID < list[j].Pattern.ID })
	}

	m.lib.Store(next)
	return nil
}

// Validate compiles a pattern without loading it.
func (m *Matcher) Validate(p *domain.FraudPattern) error {
	_, err := m.compile(p)
	return err
}

func (m *Matcher) compile(p *domain.FraudPattern) (*Compiled, error) {
	if p.ID == "" || p.Category == "" {
		return nil, fmt.Errorf("pattern id and category are required")
	}
	if len(p.Indicators) == 0 {
		return nil, fmt.Errorf("pattern %s: at least one indicator is required", p.ID)
	}
	c := &Compiled{Pattern: *p}
	for _, expr := range p.Indicators {
		prg, err := rules.CompileBool(m.env, expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		c.Indicators = append(c.Indicators, prg)
	}
	return c, nil
}

// MatchKnownPatterns compares rec with every pattern of category. The score
// is the highest similarity among matches, or 0 when nothing matches.
func (m *Matcher) MatchKnownPatterns(ctx context.Context, rec domain.Record, category string) Result {
	lib := m.lib.Load()

	var result Result
	for _, c := range lib.byCategory[category] {
		sim := m.similarity.Similarity(ctx, rec, c)
		if sim <= MatchThreshold {
			continue
		}

		m.lastDetected.Store(c.Pattern.ID, time.Now().UTC())

		result.Matches = append(result.Matches, Match{
			PatternID:  c.Pattern.ID,
			Name:       c.Pattern.Name,
			Similarity: sim,
		})
		result.Evidence = append(result.Evidence, domain.Evidence{
			Type:        "pattern",
			Description: "Matches known fraud pattern: " + c.Pattern.Name,
			Source:      "Pattern Recognition",
			Reliability: evidenceReliability,
			Data: map[string]any{
				"patternId":  c.Pattern.ID,
				"similarity": sim,
				"riskScore":  c.Pattern.RiskScore,
			},
		})
		if sim > result.Score {
			result.Score = sim
		}
	}

	if len(result.Matches) > 0 {
		slog.Debug("known patterns matched",
			"record_id", rec.RecordID(),
			"category", category,
			"matches", len(result.Matches),
			"score", result.Score,
		)
	}
	return result
}

// Patterns returns a copy of the loaded library with LastDetected filled in.
func (m *Matcher) Patterns() []domain.FraudPattern {
	lib := m.lib.Load()
	out := make([]domain.FraudPattern, 0, lib.count)
	for _, list := range lib.byCategory {
		for _, c := range list {
			p := c.Pattern
			p.Indicators = append([]string(nil), c.Pattern.Indicators...)
			if v, ok := m.lastDetected.Load(p.ID); ok {
				p.LastDetected = v.(time.Time)
			}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded patterns.
func (m *Matcher) Count() int {
	return m.lib.Load().count
}

// IndicatorFraction scores a pattern as the fraction of its indicators that
// hold for the record. Indicators that fail to evaluate count as not holding.
type IndicatorFraction struct{}

func (IndicatorFraction) Similarity(ctx context.Context, rec domain.Record, c *Compiled) float64 {
	if len(c.Indicators) == 0 {
		return 0
	}
	activation := map[string]any{"r": rec.Attributes()}
	held := 0
	for _, prg := range c.Indicators {
		out, _, err := prg.ContextEval(ctx, activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			held++
		}
	}
	return float64(held) / float64(len(c.Indicators))
}
