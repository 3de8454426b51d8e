package detector

import (
	"time"

	"github.com/opensource-finance/fuelguard/internal/analyzer"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/model"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/rules"
	"github.com/opensource-finance/fuelguard/internal/signal"
	"github.com/opensource-finance/fuelguard/internal/velocity"
)

// Deps are the shared services detectors are built from.
type Deps struct {
	Rules    *rules.Engine
	Patterns *pattern.Matcher
	Models   *model.Suite
	Cache    domain.Cache
	Records  domain.RecordStore
	Cases    CaseCreator

	// LedgerTTL bounds how long scored-record markers are kept. It should
	// cover the longest monitoring lookback.
	LedgerTTL time.Duration
}

// Decision thresholds. A detector triggers when its score is strictly above.
const (
	PumpThreshold        = 0.70
	DriverThreshold      = 0.65
	InventoryThreshold   = 0.75
	TransactionThreshold = 0.68
	PricingThreshold     = 0.70
	DocumentThreshold    = 0.65
)

// Signal weights per detector.
var (
	PumpWeights = signal.Weights{
		"rules":    0.20,
		"anomaly":  0.25,
		"pattern":  0.20,
		"behavior": 0.20,
		"ml":       0.15,
	}

	DriverWeights = signal.Weights{
		"routeDeviation":     0.25,
		"timeAnomalies":      0.20,
		"fuelIrregularities": 0.25,
		"knownSchemes":       0.20,
		"gpsTampering":       0.10,
	}

	InventoryWeights = signal.Weights{
		"variance":   0.10,
		"patterns":   0.10,
		"afterHours": 0.10,
		"documents":  0.10,
		"benford":    0.10,
	}

	TransactionWeights = signal.Weights{
		"velocity": 0.10,
		"amount":   0.10,
		"timing":   0.10,
		"behavior": 0.20,
		"network":  0.10,
		"ml":       0.15,
	}

	PricingWeights = signal.Weights{
		"compliance": 0.10,
		"discounts":  0.10,
		"margins":    0.10,
		"collusion":  0.10,
	}

	DocumentWeights = signal.Weights{
		"ocr":       0.10,
		"signature": 0.10,
		"template":  0.10,
		"metadata":  0.10,
		"hash":      0.10,
	}
)

func (d Deps) ensemble(category string) *model.Ensemble {
	if d.Models == nil {
		return nil
	}
	return d.Models.For(category)
}

// NewPump builds the pump tampering detector.
func NewPump(deps Deps) *Detector[*domain.PumpTransaction] {
	var anomaly, ml Predictor
	if e := deps.ensemble(domain.CategoryPump); e != nil {
		anomaly, ml = e.Isolation, e
	}

	cfg := Config[*domain.PumpTransaction]{
		Name:      "pump",
		Type:      domain.FraudPumpTampering,
		Category:  domain.CategoryPump,
		Threshold: PumpThreshold,
		Weights:   PumpWeights,
		Loss:      analyzer.PumpLoss,
		Producers: []Producer[*domain.PumpTransaction]{
			{Name: "rules", Fn: RuleSignal[*domain.PumpTransaction](deps.Rules, domain.CategoryPump)},
			{Name: "anomaly", Fn: ModelSignal[*domain.PumpTransaction](anomaly, "Pump anomaly")},
			{Name: "pattern", Fn: PatternSignal[*domain.PumpTransaction](deps.Patterns, domain.CategoryPump)},
			{Name: "ml", Fn: ModelSignal[*domain.PumpTransaction](ml, "Pump ensemble")},
		},
	}

	if deps.Cache != nil {
		behavior := analyzer.NewPumpBehavior(deps.Cache)
		cfg.Enrich = behavior.Enrich
		cfg.Producers = append(cfg.Producers,
			Producer[*domain.PumpTransaction]{Name: "behavior", Fn: behavior.Analyze},
		)
	}

	return New(cfg, deps.Cases)
}

// NewDriver builds the fuel diversion detector.
func NewDriver(deps Deps) *Detector[*domain.DriverActivity] {
	return New(Config[*domain.DriverActivity]{
		Name:      "driver",
		Type:      domain.FraudDriverDiversion,
		Category:  domain.CategoryDriver,
		Threshold: DriverThreshold,
		Weights:   DriverWeights,
		Loss:      analyzer.DriverLoss,
		Producers: []Producer[*domain.DriverActivity]{
			{Name: "routeDeviation", Fn: analyzer.RouteDeviation},
			{Name: "timeAnomalies", Fn: analyzer.TimeAnomalies},
			{Name: "fuelIrregularities", Fn: analyzer.FuelIrregularities},
			{Name: "knownSchemes", Fn: PatternSignal[*domain.DriverActivity](deps.Patterns, domain.CategoryDriver)},
			{Name: "gpsTampering", Fn: analyzer.GPSTampering},
		},
	}, deps.Cases)
}

// NewInventory builds the inventory theft detector.
func NewInventory(deps Deps) *Detector[*domain.InventoryRecord] {
	return New(Config[*domain.InventoryRecord]{
		Name:      "inventory",
		Type:      domain.FraudInventoryTheft,
		Category:  domain.CategoryInventory,
		Threshold: InventoryThreshold,
		Weights:   InventoryWeights,
		Loss:      analyzer.InventoryLoss,
		Producers: []Producer[*domain.InventoryRecord]{
			{Name: "variance", Fn: analyzer.StockVariance},
			{Name: "patterns", Fn: PatternSignal[*domain.InventoryRecord](deps.Patterns, domain.CategoryInventory)},
			{Name: "afterHours", Fn: analyzer.AfterHours},
			{Name: "documents", Fn: analyzer.DocumentManipulation},
			{Name: "benford", Fn: analyzer.Benford},
		},
	}, deps.Cases)
}

// NewTransaction builds the sales transaction fraud detector.
func NewTransaction(deps Deps) *Detector[*domain.SalesTransaction] {
	cfg := Config[*domain.SalesTransaction]{
		Name:      "transaction",
		Type:      domain.FraudTransaction,
		Category:  domain.CategoryTransaction,
		Threshold: TransactionThreshold,
		Weights:   TransactionWeights,
		Loss:      analyzer.TransactionLoss,
	}

	var neural Predictor
	if e := deps.ensemble(domain.CategoryTransaction); e != nil {
		neural = e.Neural
	}

	cfg.Producers = append(cfg.Producers,
		Producer[*domain.SalesTransaction]{Name: "amount", Fn: RuleSignal[*domain.SalesTransaction](deps.Rules, domain.CategoryTransaction)},
		Producer[*domain.SalesTransaction]{Name: "timing", Fn: analyzer.Timing},
		Producer[*domain.SalesTransaction]{Name: "ml", Fn: ModelSignal[*domain.SalesTransaction](neural, "Transaction neural")},
	)

	if deps.Cache != nil {
		cfg.Producers = append(cfg.Producers,
			Producer[*domain.SalesTransaction]{Name: "velocity", Fn: analyzer.NewVelocity(velocity.NewService(deps.Cache)).Analyze},
			Producer[*domain.SalesTransaction]{Name: "network", Fn: analyzer.NewNetwork(deps.Cache).Analyze},
		)
	}

	if deps.Records != nil {
		profile := analyzer.NewCustomerProfile(deps.Records)
		cfg.Enrich = profile.Enrich
		cfg.Producers = append(cfg.Producers,
			Producer[*domain.SalesTransaction]{Name: "behavior", Fn: profile.Behavior},
		)
	}

	return New(cfg, deps.Cases)
}

// NewPricing builds the price manipulation detector.
func NewPricing(deps Deps) *Detector[*domain.PricingChange] {
	return New(Config[*domain.PricingChange]{
		Name:      "pricing",
		Type:      domain.FraudPriceManipulation,
		Category:  domain.CategoryPricing,
		Threshold: PricingThreshold,
		Weights:   PricingWeights,
		Producers: []Producer[*domain.PricingChange]{
			{Name: "compliance", Fn: RuleSignal[*domain.PricingChange](deps.Rules, domain.CategoryPricing)},
			{Name: "discounts", Fn: analyzer.UnauthorizedDiscounts},
			{Name: "margins", Fn: analyzer.Margins},
			{Name: "collusion", Fn: analyzer.PriceCollusion},
		},
	}, deps.Cases)
}

// NewDocument builds the document forgery detector.
func NewDocument(deps Deps) *Detector[*domain.Document] {
	return New(Config[*domain.Document]{
		Name:      "document",
		Type:      domain.FraudDocumentForgery,
		Category:  domain.CategoryDocument,
		Threshold: DocumentThreshold,
		Weights:   DocumentWeights,
		Producers: []Producer[*domain.Document]{
			{Name: "ocr", Fn: analyzer.OCR},
			{Name: "signature", Fn: analyzer.Signatures},
			{Name: "template", Fn: analyzer.Template},
			{Name: "metadata", Fn: analyzer.Metadata},
			{Name: "hash", Fn: analyzer.Hash},
		},
	}, deps.Cases)
}
