package analyzer

import (
	"context"
	"math"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// Business hours for stock movements; anything outside counts as after hours.
const (
	OpeningHour = 6
	ClosingHour = 22
)

// MinBenfordSamples is the fewest movements a Benford test is run on.
const MinBenfordSamples = 10

// StockVariance scores missing stock against book quantity. A 5% shortage
// saturates; surpluses score at half rate.
func StockVariance(ctx context.Context, inv *domain.InventoryRecord) (domain.DetectionSignal, error) {
	if inv.BookQuantity <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	pct := inv.VariancePct()
	score := pct / 0.05
	if inv.Variance() > 0 {
		score /= 2
	}

	var ev []domain.Evidence
	if pct > 0.005 {
		ev = append(ev, evidence("stock_variance", SourceStatistical, 0.9,
			map[string]float64{"book": inv.BookQuantity, "physical": inv.PhysicalQuantity, "variance": inv.Variance()},
			"Physical stock %.0f L vs book %.0f L (%.2f%% variance)", inv.PhysicalQuantity, inv.BookQuantity, pct*100))
	}
	return result("variance", score, ev...), nil
}

// AfterHours scores the share of stock movements outside business hours.
// A reconciliation recorded after hours scores at least 0.5.
func AfterHours(ctx context.Context, inv *domain.InventoryRecord) (domain.DetectionSignal, error) {
	var score float64
	var ev []domain.Evidence

	if n := len(inv.MovementTimes); n > 0 {
		late := 0
		for _, t := range inv.MovementTimes {
			if !withinHours(t.Hour()) {
				late++
			}
		}
		score = float64(late) / float64(n)
		if late > 0 {
			ev = append(ev, evidence("after_hours_movement", SourceBehavior, 0.8,
				map[string]int{"afterHours": late, "total": n},
				"%d of %d stock movements outside %02d:00-%02d:00", late, n, OpeningHour, ClosingHour))
		}
	}

	if !withinHours(inv.RecordedAt.Hour()) {
		score = math.Max(score, 0.5)
		ev = append(ev, evidence("after_hours_reconciliation", SourceBehavior, 0.7, nil,
			"Reconciliation recorded at %s", inv.RecordedAt.Format("15:04")))
	}

	return result("afterHours", score, ev...), nil
}

func withinHours(hour int) bool {
	return hour >= OpeningHour && hour < ClosingHour
}

// DocumentManipulation scores the share of adjustments without a reference document.
func DocumentManipulation(ctx context.Context, inv *domain.InventoryRecord) (domain.DetectionSignal, error) {
	if inv.Adjustments == 0 {
		return result("documents", 0), nil
	}

	share := float64(inv.UndocumentedAdj) / float64(inv.Adjustments)
	var ev []domain.Evidence
	if inv.UndocumentedAdj > 0 {
		ev = append(ev, evidence("undocumented_adjustment", SourceDocument, 0.85,
			map[string]int{"undocumented": inv.UndocumentedAdj, "total": inv.Adjustments},
			"%d of %d stock adjustments lack a reference document", inv.UndocumentedAdj, inv.Adjustments))
	}
	return result("documents", share, ev...), nil
}

// benfordExpected is the first-digit distribution log10(1+1/d).
var benfordExpected = func() [10]float64 {
	var p [10]float64
	for d := 1; d <= 9; d++ {
		p[d] = math.Log10(1 + 1/float64(d))
	}
	return p
}()

// BenfordMAD returns the mean absolute deviation of the first-digit
// distribution of values from Benford's law, and how many values were used.
// Values below 1 in magnitude are ignored.
func BenfordMAD(values []float64) (float64, int) {
	var counts [10]int
	n := 0
	for _, v := range values {
		v = math.Abs(v)
		if v < 1 || math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		for v >= 10 {
			v /= 10
		}
		counts[int(v)]++
		n++
	}
	if n == 0 {
		return 0, 0
	}

	var mad float64
	for d := 1; d <= 9; d++ {
		mad += math.Abs(float64(counts[d])/float64(n) - benfordExpected[d])
	}
	return mad / 9, n
}

// Benford scores first-digit conformity of the movement quantities. A MAD
// of 0.015 (nonconformity for first digits) maps to 1.
func Benford(ctx context.Context, inv *domain.InventoryRecord) (domain.DetectionSignal, error) {
	mad, n := BenfordMAD(inv.Movements)
	if n < MinBenfordSamples {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	return result("benford", mad/0.015,
		evidence("benford", SourceStatistical, 0.85,
			map[string]any{"mad": mad, "samples": n},
			"Benford deviation: %.4f", mad)), nil
}

// InventoryLoss values the absolute stock variance.
func InventoryLoss(inv *domain.InventoryRecord) float64 {
	return LossValue(inv.Variance(), inv.UnitPrice)
}
