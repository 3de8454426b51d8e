package domain

import (
	"math"
	"time"
)

// FraudType identifies the fraud category a case belongs to.
type FraudType string

const (
	FraudPumpTampering     FraudType = "pump_tampering"
	FraudTransaction       FraudType = "transaction_fraud"
	FraudInventoryTheft    FraudType = "inventory_theft"
	FraudDriverDiversion   FraudType = "driver_diversion"
	FraudPriceManipulation FraudType = "price_manipulation"
	FraudDocumentForgery   FraudType = "document_forgery"
)

// AllFraudTypes lists every supported fraud category.
func AllFraudTypes() []FraudType {
	return []FraudType{
		FraudPumpTampering,
		FraudTransaction,
		FraudInventoryTheft,
		FraudDriverDiversion,
		FraudPriceManipulation,
		FraudDocumentForgery,
	}
}

// Valid reports whether t is a known fraud type.
func (t FraudType) Valid() bool {
	for _, known := range AllFraudTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades how urgently a case needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// CaseStatus is the investigation state of a fraud case.
type CaseStatus string

const (
	StatusDetected      CaseStatus = "detected"
	StatusInvestigating CaseStatus = "investigating"
	StatusConfirmed     CaseStatus = "confirmed"
	StatusFalsePositive CaseStatus = "false_positive"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CaseStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFalsePositive
}

// CanTransition reports whether a case may move from s to next.
// Transitions only move forward: detected -> investigating -> confirmed | false_positive.
func (s CaseStatus) CanTransition(next CaseStatus) bool {
	switch s {
	case StatusDetected:
		return next == StatusInvestigating
	case StatusInvestigating:
		return next == StatusConfirmed || next == StatusFalsePositive
	default:
		return false
	}
}

// Evidence is a single piece of supporting information for a score.
type Evidence struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Source      string  `json:"source"`
	Reliability float64 `json:"reliability"`
	Data        any     `json:"data,omitempty"`
}

// Valid reports whether the evidence entry is well formed.
func (e Evidence) Valid() bool {
	if e.Type == "" || e.Description == "" {
		return false
	}
	if math.IsNaN(e.Reliability) || e.Reliability < 0 || e.Reliability > 1 {
		return false
	}
	return true
}

// FraudCase is an investigation record opened when a detector's combined
// score exceeds its threshold.
type FraudCase struct {
	ID                 string     `json:"id"`
	Type               FraudType  `json:"type"`
	Severity           Severity   `json:"severity"`
	Confidence         float64    `json:"confidence"`
	Timestamp          time.Time  `json:"timestamp"`
	Location           string     `json:"location"`
	InvolvedParties    []string   `json:"involvedParties"`
	Evidence           []Evidence `json:"evidence"`
	EstimatedLoss      float64    `json:"estimatedLoss"`
	Status             CaseStatus `json:"status"`
	RecommendedActions []string   `json:"recommendedActions"`
	ResolvedAt         *time.Time `json:"resolvedAt,omitempty"`
}

// CaseInput carries everything a detector knows when it decides to open a case.
type CaseInput struct {
	Type            FraudType
	Confidence      float64
	Evidence        []Evidence
	EstimatedLoss   float64
	InvolvedParties []string
	Location        string
}

// CaseFilter narrows case queries. Zero values match everything.
type CaseFilter struct {
	Type     FraudType
	Status   CaseStatus
	Location string
	Since    time.Time
	Until    time.Time
	Limit    int
}
