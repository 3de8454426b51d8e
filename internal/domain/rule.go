package domain

import (
	"errors"
	"time"
)

// RuleConfig defines a fraud detection rule.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Domain selects which records the rule applies to (pump, transaction, pricing, ...).
	Domain string `json:"domain"`

	// CEL expression over the record attributes map r. True means violated.
	Expression string `json:"expression"`

	// Contribution of a violation to the rule signal score.
	Weight float64 `json:"weight"`

	// Confidence becomes the reliability of the evidence a violation produces.
	Confidence float64 `json:"confidence"`

	Enabled bool `json:"enabled"`
}

// RuleViolation records a rule that fired for a record.
type RuleViolation struct {
	RuleID string  `json:"ruleId"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// FraudPattern is a known fraud scheme the pattern matcher compares records against.
type FraudPattern struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`

	// Indicators are CEL boolean expressions over the record attributes map r.
	Indicators []string `json:"indicators"`

	RiskScore    float64   `json:"riskScore"`
	Frequency    int       `json:"frequency"`
	LastDetected time.Time `json:"lastDetected"`
}

// TrainingRecord is one labelled feature vector used to fit models.
type TrainingRecord struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Features  []float64 `json:"features"`
	Label     bool      `json:"label"`
	Validated bool      `json:"validated"`
	CreatedAt time.Time `json:"createdAt"`
}

// DetectionSignal is the output of a single signal producer.
type DetectionSignal struct {
	Name     string     `json:"name"`
	Score    float64    `json:"score"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// ErrSignalUnavailable is returned by a producer that has nothing to say
// about a record. The signal is left out of the combination without being
// counted as a failure.
var ErrSignalUnavailable = errors.New("signal unavailable")
