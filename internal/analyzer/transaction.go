package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/velocity"
)

// MinProfileHistory is the fewest past transactions a customer profile needs.
const MinProfileHistory = 5

// CustomerProfile derives customer history statistics from stored sales.
type CustomerProfile struct {
	records domain.RecordStore

	// Window is how far back history is read.
	Window time.Duration
}

// NewCustomerProfile creates a profiler over the record store.
func NewCustomerProfile(records domain.RecordStore) *CustomerProfile {
	return &CustomerProfile{records: records, Window: 30 * 24 * time.Hour}
}

// Enrich fills the customer statistics of s from its trailing history.
// Fields already set by the caller are kept.
func (c *CustomerProfile) Enrich(ctx context.Context, s *domain.SalesTransaction) error {
	if s.CustomerID == "" || s.CustomerTxnCount > 0 {
		return nil
	}

	stored, err := c.records.ListRecordsBySubject(ctx, domain.CategoryTransaction, s.CustomerID, s.Timestamp.Add(-c.Window))
	if err != nil {
		return fmt.Errorf("failed to load customer history: %w", err)
	}

	var amounts, hours []float64
	for _, rec := range stored {
		if rec.ID == s.ID {
			continue
		}
		var past domain.SalesTransaction
		if err := json.Unmarshal(rec.Payload, &past); err != nil {
			slog.Debug("skipping unreadable sale", "record_id", rec.ID, "error", err)
			continue
		}
		amounts = append(amounts, past.Amount)
		hours = append(hours, float64(past.Timestamp.Hour()))
	}

	if len(amounts) == 0 {
		return nil
	}

	s.CustomerTxnCount = len(amounts)
	s.CustomerMean = mean(amounts)
	s.CustomerP95 = Percentile(amounts, 0.95)
	s.CustomerUsualHour = circularMeanHour(hours)
	return nil
}

// Behavior scores how far a sale departs from the customer's profile:
// amount above the 95th percentile and an unusual hour.
func (c *CustomerProfile) Behavior(ctx context.Context, s *domain.SalesTransaction) (domain.DetectionSignal, error) {
	if s.CustomerTxnCount < MinProfileHistory {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	var ev []domain.Evidence

	var amountScore float64
	if s.CustomerP95 > 0 && s.Amount > s.CustomerP95 {
		amountScore = ratio(s.Amount, s.CustomerP95)
		ev = append(ev, evidence("amount_outlier", SourceBehavior, 0.8,
			map[string]float64{"amount": s.Amount, "p95": s.CustomerP95, "mean": s.CustomerMean},
			"Amount %.2f exceeds customer 95th percentile %.2f", s.Amount, s.CustomerP95))
	}

	hourGap := hourDistance(float64(s.Timestamp.Hour()), s.CustomerUsualHour)
	hourScore := 0.0
	if hourGap > 4 {
		hourScore = 0.5 * hourGap / 12
		ev = append(ev, evidence("unusual_hour", SourceBehavior, 0.6,
			map[string]float64{"hour": float64(s.Timestamp.Hour()), "usualHour": s.CustomerUsualHour},
			"Purchase at %02d:00, customer usually buys around %02.0f:00", s.Timestamp.Hour(), s.CustomerUsualHour))
	}

	return result("behavior", math.Max(amountScore, hourScore), ev...), nil
}

// Timing scores the hour of a sale: the dead of night is riskier than evening.
func Timing(ctx context.Context, s *domain.SalesTransaction) (domain.DetectionSignal, error) {
	hour := s.Timestamp.Hour()
	switch {
	case hour < 5:
		return result("timing", 0.8, evidence("night_transaction", SourceBehavior, 0.6, hour,
			"Transaction at %02d:00", hour)), nil
	case hour >= ClosingHour:
		return result("timing", 0.4), nil
	default:
		return result("timing", 0), nil
	}
}

// Velocity scores how many sales a customer (or, for walk-ins, the
// cashier) made within the window.
type Velocity struct {
	svc     *velocity.Service
	Window  time.Duration
	Allowed int64
	Span    int64
}

// NewVelocity allows 3 sales per 10 minutes and saturates at 8.
func NewVelocity(svc *velocity.Service) *Velocity {
	return &Velocity{svc: svc, Window: 10 * time.Minute, Allowed: 3, Span: 5}
}

func (v *Velocity) Analyze(ctx context.Context, s *domain.SalesTransaction) (domain.DetectionSignal, error) {
	subject := s.CustomerID
	if subject == "" {
		subject = "cashier:" + s.CashierID
	}
	if subject == "cashier:" {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	count, err := v.svc.Observe(ctx, domain.CategoryTransaction, subject, v.Window)
	if err != nil {
		return domain.DetectionSignal{}, err
	}

	score := velocity.Score(count, v.Allowed, v.Span)
	var ev []domain.Evidence
	if score > 0 {
		ev = append(ev, evidence("velocity", SourceBehavior, 0.8,
			map[string]any{"subject": subject, "count": count, "window": v.Window.String()},
			"%d transactions by %s within %s", count, subject, v.Window))
	}
	return result("velocity", score, ev...), nil
}

// Network detects cashier and customer pairs that trade together far more
// often than chance, a sign of collusion.
type Network struct {
	cache   domain.Cache
	Window  time.Duration
	Allowed int64
	Span    int64
}

// NewNetwork allows 3 shared sales per day and saturates at 10.
func NewNetwork(cache domain.Cache) *Network {
	return &Network{cache: cache, Window: 24 * time.Hour, Allowed: 3, Span: 7}
}

func (n *Network) Analyze(ctx context.Context, s *domain.SalesTransaction) (domain.DetectionSignal, error) {
	if s.CashierID == "" || s.CustomerID == "" {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	key := "pair:" + s.CashierID + ":" + s.CustomerID
	count, err := n.cache.IncrementCounter(ctx, key, n.Window)
	if err != nil {
		return domain.DetectionSignal{}, fmt.Errorf("failed to count pair: %w", err)
	}

	score := velocity.Score(count, n.Allowed, n.Span)
	if s.PaymentMethod == "cash" {
		score *= 1.2
	}

	var ev []domain.Evidence
	if score > 0 {
		ev = append(ev, evidence("collusion", SourceBehavior, 0.7,
			map[string]any{"cashier": s.CashierID, "customer": s.CustomerID, "count": count},
			"Cashier %s served customer %s %d times in %s", s.CashierID, s.CustomerID, count, n.Window))
	}
	return result("network", score, ev...), nil
}

// Percentile returns the p-quantile of values by linear interpolation.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// circularMeanHour averages hours on a 24h clock, so 23:00 and 01:00 give 00:00.
func circularMeanHour(hours []float64) float64 {
	var x, y float64
	for _, h := range hours {
		a := h / 24 * 2 * math.Pi
		x += math.Cos(a)
		y += math.Sin(a)
	}
	a := math.Atan2(y, x)
	if a < 0 {
		a += 2 * math.Pi
	}
	return math.Round(a/(2*math.Pi)*24*10) / 10
}

func hourDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 12 {
		d = 24 - d
	}
	return d
}

// TransactionLoss is the sale amount at risk.
func TransactionLoss(s *domain.SalesTransaction) float64 {
	return LossValue(s.Amount, 1)
}
