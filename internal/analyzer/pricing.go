package analyzer

import (
	"context"
	"math"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/shopspring/decimal"
)

// Margin bands for pump prices.
var (
	MinMargin = decimal.NewFromFloat(0.02)
	MaxMargin = decimal.NewFromFloat(0.40)
)

// MinCompetitors is the fewest competitor quotes the collusion check needs.
const MinCompetitors = 3

// UnauthorizedDiscounts scores discounts granted without authorization.
// Any unauthorized discount scores at least 0.5; 10% saturates.
func UnauthorizedDiscounts(ctx context.Context, p *domain.PricingChange) (domain.DetectionSignal, error) {
	if p.DiscountPct <= 0 || p.DiscountAuthorized {
		return result("discounts", 0), nil
	}

	score := math.Max(0.5, p.DiscountPct/10)
	return result("discounts", score,
		evidence("unauthorized_discount", SourcePricing, 0.9,
			map[string]any{"discountPct": p.DiscountPct, "approvedBy": p.ApprovedBy},
			"%.1f%% discount applied without authorization", p.DiscountPct)), nil
}

// Margins scores the price margin over cost. Selling below cost scores 1,
// a thin margin 0.6 and an excessive one 0.5.
func Margins(ctx context.Context, p *domain.PricingChange) (domain.DetectionSignal, error) {
	if p.CostPrice <= 0 || p.NewPrice <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	price := decimal.NewFromFloat(p.NewPrice)
	cost := decimal.NewFromFloat(p.CostPrice)
	margin := price.Sub(cost).Div(price).Round(4)
	data := map[string]string{"margin": margin.String(), "price": price.String(), "cost": cost.String()}

	switch {
	case margin.IsNegative():
		return result("margins", 1, evidence("negative_margin", SourcePricing, 0.9, data,
			"Price %s is below cost %s", price.StringFixed(2), cost.StringFixed(2))), nil
	case margin.LessThan(MinMargin):
		return result("margins", 0.6, evidence("thin_margin", SourcePricing, 0.7, data,
			"Margin %s%% below the %s%% floor", margin.Shift(2).StringFixed(2), MinMargin.Shift(2).String())), nil
	case margin.GreaterThan(MaxMargin):
		return result("margins", 0.5, evidence("excessive_margin", SourcePricing, 0.7, data,
			"Margin %s%% above the %s%% ceiling", margin.Shift(2).StringFixed(2), MaxMargin.Shift(2).String())), nil
	default:
		return result("margins", 0), nil
	}
}

// PriceCollusion scores a price increase that lands on a tightly clustered
// set of competitor prices. Clustering within 1% coefficient of variation
// with the new price inside the cluster is suspicious.
func PriceCollusion(ctx context.Context, p *domain.PricingChange) (domain.DetectionSignal, error) {
	if len(p.CompetitorPrices) < MinCompetitors {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	avg := mean(p.CompetitorPrices)
	if avg <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}
	var variance float64
	for _, c := range p.CompetitorPrices {
		variance += (c - avg) * (c - avg)
	}
	cv := math.Sqrt(variance/float64(len(p.CompetitorPrices))) / avg

	increase := p.NewPrice > p.PreviousPrice
	aligned := math.Abs(ratio(p.NewPrice, avg)) < 0.005
	if !increase || !aligned || cv >= 0.01 {
		return result("collusion", 0), nil
	}

	score := 1 - cv/0.01
	return result("collusion", score,
		evidence("price_alignment", SourcePricing, 0.6,
			map[string]float64{"competitorMean": avg, "cv": cv, "newPrice": p.NewPrice},
			"Price raised to %.2f in lockstep with %d competitors (mean %.2f)", p.NewPrice, len(p.CompetitorPrices), avg)), nil
}
