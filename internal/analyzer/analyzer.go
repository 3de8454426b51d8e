// Package analyzer provides the behavioural signal producers used by the
// fraud detectors. Every analyzer is deterministic for a given record and
// cache state, and returns scores in [0,1].
package analyzer

import (
	"fmt"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/signal"
	"github.com/shopspring/decimal"
)

// DefaultUnitPrice is used for loss estimates when a record carries no price.
const DefaultUnitPrice = 14.5

// Evidence sources.
const (
	SourceBehavior    = "Behavior Analysis"
	SourceStatistical = "Statistical"
	SourceGPS         = "GPS Analysis"
	SourceDocument    = "Document Analysis"
	SourcePricing     = "Pricing Analysis"
)

func result(name string, score float64, evidence ...domain.Evidence) domain.DetectionSignal {
	return domain.DetectionSignal{
		Name:     name,
		Score:    signal.Clamp(score),
		Evidence: evidence,
	}
}

func evidence(typ, source string, reliability float64, data any, format string, args ...any) domain.Evidence {
	return domain.Evidence{
		Type:        typ,
		Description: fmt.Sprintf(format, args...),
		Source:      source,
		Reliability: reliability,
		Data:        data,
	}
}

// LossValue prices a quantity of fuel, falling back to DefaultUnitPrice.
// The result is rounded to cents.
func LossValue(quantity, unitPrice float64) float64 {
	if quantity < 0 {
		quantity = -quantity
	}
	if unitPrice <= 0 {
		unitPrice = DefaultUnitPrice
	}
	loss := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(unitPrice)).Round(2)
	f, _ := loss.Float64()
	return f
}

// ratio returns (a-b)/b, or 0 when b is not positive.
func ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return (a - b) / b
}
