package rules

import "github.com/opensource-finance/fuelguard/internal/domain"

// BuiltinRules returns the default rule catalogue. It is written to an empty
// rule store at startup when seeding is enabled; after that the store is the
// only source of rules.
func BuiltinRules() []*domain.RuleConfig {
	rules := []*domain.RuleConfig{
		// Pump
		{
			ID:          "pump-flow-deviation",
			Name:        "Flow rate deviates from pump baseline",
			Description: "Flow rate more than 15% away from the pump's rolling baseline",
			Domain:      domain.CategoryPump,
			Expression:  "r.baseline_flow_rate > 0.0 && (r.flow_rate > r.baseline_flow_rate * 1.15 || r.flow_rate < r.baseline_flow_rate * 0.85)",
			Weight:      0.4,
			Confidence:  0.9,
		},
		{
			ID:          "pump-amount-mismatch",
			Name:        "Charged amount does not match dispensed volume",
			Description: "Amount differs from quantity x unit price by more than 2%",
			Domain:      domain.CategoryPump,
			Expression:  "r.expected_amount > 0.0 && (r.amount > r.expected_amount * 1.02 || r.amount < r.expected_amount * 0.98)",
			Weight:      0.35,
			Confidence:  0.85,
		},
		{
			ID:         "pump-temperature-range",
			Name:       "Fuel temperature outside operating range",
			Domain:     domain.CategoryPump,
			Expression: "r.temperature < 5.0 || r.temperature > 45.0",
			Weight:     0.15,
			Confidence: 0.7,
		},
		{
			ID:         "pump-night-bulk",
			Name:       "Bulk dispense outside trading hours",
			Domain:     domain.CategoryPump,
			Expression: "(r.hour < 5.0 || r.hour >= 23.0) && r.quantity > 200.0",
			Weight:     0.2,
			Confidence: 0.75,
		},

		// Sales transactions
		{
			ID:          "txn-above-customer-p95",
			Name:        "Amount above customer 95th percentile",
			Description: "Transaction amount exceeds the customer's trailing 30-day 95th percentile",
			Domain:      domain.CategoryTransaction,
			Expression:  "r.customer_txn_count >= 5.0 && r.amount > r.customer_p95",
			Weight:      0.5,
			Confidence:  0.8,
		},
		{
			ID:         "txn-large-cash",
			Name:       "Large cash sale",
			Domain:     domain.CategoryTransaction,
			Expression: "r.is_cash && r.amount > 10000.0",
			Weight:     0.3,
			Confidence: 0.7,
		},
		{
			ID:         "txn-round-amount",
			Name:       "Large round amount",
			Domain:     domain.CategoryTransaction,
			Expression: "r.amount >= 1000.0 && int(r.amount) % 500 == 0 && double(int(r.amount)) == r.amount",
			Weight:     0.2,
			Confidence: 0.6,
		},

		// Pricing
		{
			ID:         "price-below-floor",
			Name:       "Price below regulated floor",
			Domain:     domain.CategoryPricing,
			Expression: "r.regulated_floor > 0.0 && r.new_price < r.regulated_floor",
			Weight:     0.6,
			Confidence: 0.95,
		},
		{
			ID:         "price-above-ceiling",
			Name:       "Price above regulated ceiling",
			Domain:     domain.CategoryPricing,
			Expression: "r.regulated_ceiling > 0.0 && r.new_price > r.regulated_ceiling",
			Weight:     0.6,
			Confidence: 0.95,
		},
		{
			ID:         "price-unapproved-change",
			Name:       "Price change without approver",
			Domain:     domain.CategoryPricing,
			Expression: "!r.has_approver && r.price_change_pct != 0.0",
			Weight:     0.4,
			Confidence: 0.8,
		},
	}

	for _, r := range rules {
		r.Version = "1.0.0"
		r.Enabled = true
	}
	return rules
}
