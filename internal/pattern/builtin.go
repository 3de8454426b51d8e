package pattern

import "github.com/opensource-finance/fuelguard/internal/domain"

// BuiltinPatterns returns the default library of known fuel retail schemes.
func BuiltinPatterns() []*domain.FraudPattern {
	return []*domain.FraudPattern{
		{
			ID:          "pump-meter-tamper",
			Name:        "Meter calibration tampering",
			Description: "Pump delivers less than it records; flow runs hot against its baseline",
			Category:    domain.CategoryPump,
			Indicators: []string{
				"r.baseline_flow_rate > 0.0 && r.flow_rate > r.baseline_flow_rate * 1.1",
				"r.duration > 0.0 && r.quantity / (r.duration / 60.0) > r.flow_rate * 1.05",
				"r.pressure > 3.5",
			},
			RiskScore: 0.9,
		},
		{
			ID:          "pump-cash-skim",
			Name:        "Cash skimming at the pump",
			Description: "Anonymous night sales charged below the metered value",
			Category:    domain.CategoryPump,
			Indicators: []string{
				"!r.has_customer",
				"r.hour < 6.0 || r.hour >= 22.0",
				"r.expected_amount > 0.0 && r.amount < r.expected_amount * 0.95",
			},
			RiskScore: 0.75,
		},
		{
			ID:          "driver-siphoning",
			Name:        "Fuel siphoning en route",
			Description: "Shortfall at delivery together with unscheduled stops and a slow trip",
			Category:    domain.CategoryDriver,
			Indicators: []string{
				"r.shortfall > r.fuel_loaded * 0.02",
				"r.unscheduled_stops >= 2.0",
				"r.expected_duration_min > 0.0 && r.actual_duration_min > r.expected_duration_min * 1.2",
			},
			RiskScore: 0.85,
		},
		{
			ID:          "driver-ghost-delivery",
			Name:        "Ghost delivery",
			Description: "Load recorded as delivered without the trip taking place",
			Category:    domain.CategoryDriver,
			Indicators: []string{
				"r.fuel_loaded > 0.0 && r.fuel_delivered == 0.0",
				"r.actual_distance_km < r.planned_distance_km * 0.5",
				"r.gps_points < 3.0",
			},
			RiskScore: 0.9,
		},
		{
			ID:          "inventory-gradual-shrinkage",
			Name:        "Gradual stock shrinkage",
			Description: "Small recurring losses hidden behind undocumented adjustments",
			Category:    domain.CategoryInventory,
			Indicators: []string{
				"r.variance < 0.0",
				"r.variance_pct > 0.005",
				"r.undocumented_adjustments > 0.0",
			},
			RiskScore: 0.8,
		},
		{
			ID:          "inventory-night-offload",
			Name:        "After-hours offloading",
			Description: "Stock leaves the tank outside trading hours",
			Category:    domain.CategoryInventory,
			Indicators: []string{
				"r.hour < 6.0 || r.hour >= 22.0",
				"r.variance < 0.0 && r.variance_pct > 0.01",
				"r.movement_count > 0.0",
			},
			RiskScore: 0.85,
		},
	}
}
