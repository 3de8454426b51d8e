package detector

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fuelguard/internal/cache"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/model"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/rules"
	"github.com/opensource-finance/fuelguard/internal/signal"
)

type fakeCases struct {
	mu     sync.Mutex
	inputs []domain.CaseInput
	err    error
}

func (f *fakeCases) CreateCase(ctx context.Context, input domain.CaseInput) (*domain.FraudCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, input)
	return &domain.FraudCase{
		ID:         "FRAUD-test",
		Type:       input.Type,
		Confidence: input.Confidence,
		Evidence:   input.Evidence,
		Location:   input.Location,
		Status:     domain.StatusDetected,
	}, nil
}

func (f *fakeCases) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func fixed[R domain.Record](score float64) ProducerFunc[R] {
	return func(ctx context.Context, rec R) (domain.DetectionSignal, error) {
		return domain.DetectionSignal{Score: score}, nil
	}
}

func pumpStub(cases CaseCreator, scores map[string]float64) *Detector[*domain.PumpTransaction] {
	cfg := Config[*domain.PumpTransaction]{
		Name:      "pump",
		Type:      domain.FraudPumpTampering,
		Category:  domain.CategoryPump,
		Threshold: PumpThreshold,
		Weights:   PumpWeights,
	}
	for _, name := range []string{"rules", "anomaly", "pattern", "behavior", "ml"} {
		cfg.Producers = append(cfg.Producers, Producer[*domain.PumpTransaction]{
			Name: name,
			Fn:   fixed[*domain.PumpTransaction](scores[name]),
		})
	}
	return New(cfg, cases)
}

func samplePump() *domain.PumpTransaction {
	return &domain.PumpTransaction{
		ID:        "PT-1",
		StationID: "ST-1",
		PumpID:    3,
		CashierID: "CSH-9",
		Quantity:  40,
		Amount:    580,
		UnitPrice: 14.5,
		FlowRate:  56,
		Duration:  43,
		Timestamp: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestPumpScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("ModerateSignalsStayBelowThreshold", func(t *testing.T) {
		cases := &fakeCases{}
		d := pumpStub(cases, map[string]float64{
			"rules": 0.4, "anomaly": 0.8, "pattern": 0, "behavior": 0.6, "ml": 0.5,
		})

		out, err := d.Evaluate(ctx, samplePump())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 0.4*0.20 + 0.8*0.25 + 0 + 0.6*0.20 + 0.5*0.15
		if math.Abs(out.Assessment.Score-0.475) > 1e-9 {
			t.Errorf("expected score 0.475, got %v", out.Assessment.Score)
		}
		if out.Assessment.Triggered || out.Case != nil {
			t.Error("expected no case below the 0.70 threshold")
		}
		if cases.count() != 0 {
			t.Errorf("expected no case created, got %d", cases.count())
		}
	})

	t.Run("StrongerSignalsStillBelowThreshold", func(t *testing.T) {
		cases := &fakeCases{}
		d := pumpStub(cases, map[string]float64{
			"rules": 0.4, "anomaly": 1.0, "pattern": 0, "behavior": 0.9, "ml": 0.5,
		})

		c, err := d.Detect(ctx, samplePump())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a := d.Assess(ctx, samplePump())
		if math.Abs(a.Score-0.585) > 1e-9 {
			t.Errorf("expected score 0.585, got %v", a.Score)
		}
		if c != nil {
			t.Error("expected no case")
		}
	})

	t.Run("HighSignalsOpenCase", func(t *testing.T) {
		cases := &fakeCases{}
		d := pumpStub(cases, map[string]float64{
			"rules": 1, "anomaly": 0.9, "pattern": 0.8, "behavior": 0.9, "ml": 0.8,
		})

		c, err := d.Detect(ctx, samplePump())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c == nil {
			t.Fatal("expected a case")
		}
		input := cases.inputs[0]
		if input.Type != domain.FraudPumpTampering {
			t.Errorf("expected pump_tampering, got %s", input.Type)
		}
		if input.Location != "ST-1" {
			t.Errorf("expected location ST-1, got %s", input.Location)
		}
		if len(input.InvolvedParties) != 1 || input.InvolvedParties[0] != "Cashier: CSH-9" {
			t.Errorf("expected cashier party, got %v", input.InvolvedParties)
		}
		if len(input.Evidence) == 0 {
			t.Error("expected summary evidence on the case")
		}
		if got := d.Status().Cases; got != 1 {
			t.Errorf("expected status cases 1, got %d", got)
		}
	})

	t.Run("ThresholdIsStrict", func(t *testing.T) {
		d := New(Config[*domain.PumpTransaction]{
			Name:      "pump",
			Category:  domain.CategoryPump,
			Threshold: PumpThreshold,
			Weights:   signal.Weights{"rules": 1},
			Producers: []Producer[*domain.PumpTransaction]{
				{Name: "rules", Fn: fixed[*domain.PumpTransaction](0.7)},
			},
		}, nil)
		a := d.Assess(ctx, samplePump())
		if a.Triggered {
			t.Errorf("expected score %v equal to threshold not to trigger", a.Score)
		}
	})
}

func TestProducerFailures(t *testing.T) {
	ctx := context.Background()

	cfg := Config[*domain.PumpTransaction]{
		Name:      "pump",
		Type:      domain.FraudPumpTampering,
		Category:  domain.CategoryPump,
		Threshold: PumpThreshold,
		Weights:   PumpWeights,
		Producers: []Producer[*domain.PumpTransaction]{
			{Name: "rules", Fn: fixed[*domain.PumpTransaction](0.9)},
			{Name: "anomaly", Fn: func(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
				return domain.DetectionSignal{}, errors.New("model offline")
			}},
			{Name: "pattern", Fn: func(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
				panic("boom")
			}},
			{Name: "behavior", Fn: fixed[*domain.PumpTransaction](math.NaN())},
			{Name: "ml", Fn: func(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
				return domain.DetectionSignal{}, domain.ErrSignalUnavailable
			}},
		},
	}
	d := New(cfg, nil)

	a := d.Assess(ctx, samplePump())

	t.Run("FailedSignalsExcluded", func(t *testing.T) {
		// Only rules survives, so the weighted mean is its own score.
		if math.Abs(a.Score-0.9) > 1e-9 {
			t.Errorf("expected score 0.9 from the surviving signal, got %v", a.Score)
		}
		if len(a.Signals) != 1 {
			t.Errorf("expected 1 signal, got %d", len(a.Signals))
		}
	})

	t.Run("FailuresRecorded", func(t *testing.T) {
		if len(a.Failed) != 3 {
			t.Errorf("expected 3 failed producers, got %v", a.Failed)
		}
		st := d.Status()
		if st.ProducerFailures != 3 {
			t.Errorf("expected 3 producer failures, got %d", st.ProducerFailures)
		}
		if st.LastError == "" {
			t.Error("expected last error to be recorded")
		}
	})

	t.Run("UnavailableIsNotFailure", func(t *testing.T) {
		for _, name := range a.Failed {
			if name == "ml" {
				t.Error("expected unavailable signal not to count as failure")
			}
		}
	})
}

func TestProducersRunInOrder(t *testing.T) {
	var order []string
	step := func(name string) Producer[*domain.PumpTransaction] {
		return Producer[*domain.PumpTransaction]{Name: name, Fn: func(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
			order = append(order, name)
			if name == "pattern" {
				panic("boom")
			}
			return domain.DetectionSignal{Score: 0.5}, nil
		}}
	}
	d := New(Config[*domain.PumpTransaction]{
		Name:      "pump",
		Category:  domain.CategoryPump,
		Threshold: PumpThreshold,
		Weights:   PumpWeights,
		Producers: []Producer[*domain.PumpTransaction]{
			step("rules"), step("anomaly"), step("pattern"), step("behavior"), step("ml"),
		},
	}, nil)

	d.Assess(context.Background(), samplePump())

	want := []string{"rules", "anomaly", "pattern", "behavior", "ml"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected producer %d to be %s, got %s", i, want[i], order[i])
		}
	}
}

func TestEvidenceFiltering(t *testing.T) {
	ctx := context.Background()

	d := New(Config[*domain.PumpTransaction]{
		Name:      "pump",
		Category:  domain.CategoryPump,
		Threshold: PumpThreshold,
		Weights:   PumpWeights,
		Producers: []Producer[*domain.PumpTransaction]{
			{Name: "rules", Fn: func(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
				return domain.DetectionSignal{
					Score: 2,
					Evidence: []domain.Evidence{
						{Type: "ok", Description: "valid", Reliability: 0.5},
						{Type: "", Description: "no type", Reliability: 0.5},
						{Type: "bad", Description: "too reliable", Reliability: 1.5},
					},
				}, nil
			}},
		},
	}, nil)

	a := d.Assess(ctx, samplePump())
	if a.Score != 1 {
		t.Errorf("expected clamped score 1, got %v", a.Score)
	}
	// one valid entry plus the summary
	if len(a.Evidence) != 2 {
		t.Fatalf("expected 2 evidence entries, got %d", len(a.Evidence))
	}
	if a.Evidence[1].Type != "signal_summary" {
		t.Errorf("expected summary last, got %s", a.Evidence[1].Type)
	}
}

func TestCaseCreationError(t *testing.T) {
	cases := &fakeCases{err: errors.New("db down")}
	d := pumpStub(cases, map[string]float64{
		"rules": 1, "anomaly": 1, "pattern": 1, "behavior": 1, "ml": 1,
	})

	out, err := d.Evaluate(context.Background(), samplePump())
	if err == nil {
		t.Fatal("expected error from case creation")
	}
	if out == nil || !out.Assessment.Triggered {
		t.Error("expected the assessment to be returned with the error")
	}
}

func TestBuiltinDetectors(t *testing.T) {
	ctx := context.Background()

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	matcher, err := pattern.NewMatcher()
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}
	if err := matcher.Reload(pattern.BuiltinPatterns()); err != nil {
		t.Fatalf("failed to load patterns: %v", err)
	}
	lru := cache.NewLRUCache(1000)
	defer lru.Close()

	cases := &fakeCases{}
	reg := NewRegistry(Deps{
		Rules:    engine,
		Patterns: matcher,
		Models:   model.NewSuite(),
		Cache:    lru,
		Cases:    cases,
	})

	t.Run("StatusesCoverAllDetectors", func(t *testing.T) {
		statuses := reg.Statuses()
		for _, name := range []string{"pump", "driver", "inventory", "transaction", "pricing", "document"} {
			if _, ok := statuses[name]; !ok {
				t.Errorf("expected status for %s", name)
			}
		}
	})

	t.Run("DriverDiversion", func(t *testing.T) {
		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		d := &domain.DriverActivity{
			ID: "DA-1", DriverID: "DRV-7", CurrentLocation: "Depot-Tema", OnDuty: false,
			PlannedDistanceKm: 100, ActualDistanceKm: 160,
			ExpectedDurationMin: 120, ActualDurationMin: 260,
			FuelLoaded: 33000, FuelDelivered: 29000,
			ExpectedConsumption: 40, ActualConsumption: 70,
			UnscheduledStops: 3,
			GPS: []domain.GPSPoint{
				{Lat: 5.60, Lon: -0.19, Timestamp: start},
				{Lat: 6.69, Lon: -1.62, Timestamp: start.Add(5 * time.Minute)},
			},
			Timestamp: start,
		}

		out, err := reg.Evaluate(ctx, d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Assessment.Triggered || out.Case == nil {
			t.Fatalf("expected a diversion case, score %v", out.Assessment.Score)
		}
		if out.Case.Type != domain.FraudDriverDiversion {
			t.Errorf("expected driver_diversion, got %s", out.Case.Type)
		}
	})

	t.Run("CleanDocument", func(t *testing.T) {
		doc := &domain.Document{
			ID: "DOC-1", StationID: "ST-1", Kind: "waybill",
			OCRConfidence: 0.98,
			Signatures:    []domain.Signature{{Signer: "Depot Manager", MatchScore: 0.97}},
			TemplateID:    "WB-2024", TemplateSimilarity: 0.96,
			Timestamp: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		}
		out, err := reg.Evaluate(ctx, doc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Assessment.Triggered {
			t.Errorf("expected clean document not to trigger, score %v", out.Assessment.Score)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		if _, ok := reg.For("weather"); ok {
			t.Error("expected no detector for unknown category")
		}
	})

	t.Run("WrongRecordType", func(t *testing.T) {
		if _, err := reg.Pump.EvaluateRecord(ctx, &domain.Document{ID: "x"}); err == nil {
			t.Error("expected error for mismatched record type")
		}
	})
}

type customDetector struct{}

func (customDetector) Status() Status { return Status{Name: "custom", Evaluated: 7} }

func TestRegister(t *testing.T) {
	reg := NewRegistry(Deps{})
	reg.Register("custom", customDetector{})

	st, ok := reg.Statuses()["custom"]
	if !ok {
		t.Fatal("expected custom detector status")
	}
	if st.Evaluated != 7 {
		t.Errorf("expected evaluated 7, got %d", st.Evaluated)
	}
	if len(reg.Names()) != 7 {
		t.Errorf("expected 7 detectors, got %d", len(reg.Names()))
	}
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(cache.NewLRUCache(10), time.Hour)

	if l.Seen(ctx, domain.CategoryPump, "P-1") {
		t.Fatal("expected unmarked record to be unseen")
	}
	l.Mark(ctx, domain.CategoryPump, "P-1", 0)
	if !l.Seen(ctx, domain.CategoryPump, "P-1") {
		t.Error("expected marked record to be seen")
	}
	if l.Seen(ctx, domain.CategoryDriver, "P-1") {
		t.Error("expected markers to be scoped by kind")
	}
	l.Forget(ctx, domain.CategoryPump, "P-1")
	if l.Seen(ctx, domain.CategoryPump, "P-1") {
		t.Error("expected forgotten record to be unseen")
	}

	var none *Ledger
	none.Mark(ctx, domain.CategoryPump, "P-1", 0)
	if none.Seen(ctx, domain.CategoryPump, "P-1") {
		t.Error("expected nil ledger to remember nothing")
	}
}
