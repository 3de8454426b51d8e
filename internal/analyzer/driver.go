package analyzer

import (
	"context"
	"math"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// Limits for GPS plausibility checks.
const (
	MaxTankerSpeedKmh = 160.0
	MaxGPSGap         = 30 * time.Minute
	earthRadiusKm     = 6371.0
)

// RouteDeviation scores extra distance driven over the planned route.
// 50% extra distance saturates the score.
func RouteDeviation(ctx context.Context, d *domain.DriverActivity) (domain.DetectionSignal, error) {
	if d.PlannedDistanceKm <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	extra := ratio(d.ActualDistanceKm, d.PlannedDistanceKm)
	if extra <= 0 {
		return result("routeDeviation", 0), nil
	}

	var ev []domain.Evidence
	if extra > 0.1 {
		ev = append(ev, evidence("route_deviation", SourceGPS, 0.8,
			map[string]float64{"plannedKm": d.PlannedDistanceKm, "actualKm": d.ActualDistanceKm},
			"Route %.1f km is %.0f%% longer than planned %.1f km", d.ActualDistanceKm, extra*100, d.PlannedDistanceKm))
	}
	return result("routeDeviation", extra/0.5, ev...), nil
}

// TimeAnomalies scores trip overruns, unscheduled stops and activity while
// off duty.
func TimeAnomalies(ctx context.Context, d *domain.DriverActivity) (domain.DetectionSignal, error) {
	var score float64
	var ev []domain.Evidence

	if overrun := ratio(d.ActualDurationMin, d.ExpectedDurationMin); overrun > 0 {
		score = overrun
		if overrun > 0.25 {
			ev = append(ev, evidence("delivery_delay", SourceBehavior, 0.75,
				map[string]float64{"expectedMin": d.ExpectedDurationMin, "actualMin": d.ActualDurationMin},
				"Trip took %.0f min against %.0f min expected", d.ActualDurationMin, d.ExpectedDurationMin))
		}
	}

	if d.UnscheduledStops > 0 {
		score += 0.2 * float64(d.UnscheduledStops)
		ev = append(ev, evidence("unscheduled_stops", SourceGPS, 0.8, d.UnscheduledStops,
			"%d unscheduled stops during delivery", d.UnscheduledStops))
	}

	if !d.OnDuty {
		score = math.Max(score, 0.8)
		ev = append(ev, evidence("off_duty_activity", SourceBehavior, 0.85, nil,
			"Vehicle activity recorded while driver %s was off duty", d.DriverID))
	}

	return result("timeAnomalies", score, ev...), nil
}

// FuelIrregularities scores undelivered fuel and truck consumption above
// the expected figure. A 10% shortfall or 50% excess burn saturates.
func FuelIrregularities(ctx context.Context, d *domain.DriverActivity) (domain.DetectionSignal, error) {
	if d.FuelLoaded <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	var ev []domain.Evidence

	shortfall := d.Shortfall()
	shortfallPct := shortfall / d.FuelLoaded
	shortfallScore := shortfallPct / 0.1
	if shortfallPct > 0.005 {
		ev = append(ev, evidence("fuel_shortfall", SourceBehavior, 0.9,
			map[string]float64{"loaded": d.FuelLoaded, "delivered": d.FuelDelivered},
			"%.0f L loaded but only %.0f L delivered (%.1f%% short)", d.FuelLoaded, d.FuelDelivered, shortfallPct*100))
	}

	excess := ratio(d.ActualConsumption, d.ExpectedConsumption)
	excessScore := excess / 0.5
	if excess > 0.15 {
		ev = append(ev, evidence("excess_consumption", SourceBehavior, 0.7,
			map[string]float64{"expected": d.ExpectedConsumption, "actual": d.ActualConsumption},
			"Truck burned %.0f L against %.0f L expected", d.ActualConsumption, d.ExpectedConsumption))
	}

	return result("fuelIrregularities", math.Max(shortfallScore, excessScore), ev...), nil
}

// GPSTampering reports 1 when the track shows impossible jumps, long
// silences or no fixes at all for a trip that covered distance, else 0.
func GPSTampering(ctx context.Context, d *domain.DriverActivity) (domain.DetectionSignal, error) {
	if len(d.GPS) == 0 {
		if d.ActualDistanceKm > 0 {
			return result("gpsTampering", 1, evidence("gps_missing", SourceGPS, 0.7, nil,
				"No GPS fixes for a %.1f km trip", d.ActualDistanceKm)), nil
		}
		return result("gpsTampering", 0), nil
	}

	var ev []domain.Evidence
	for i := 1; i < len(d.GPS); i++ {
		prev, cur := d.GPS[i-1], d.GPS[i]
		elapsed := cur.Timestamp.Sub(prev.Timestamp)
		km := Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon)

		switch {
		case elapsed <= 0 && km > 0.05:
			ev = append(ev, evidence("gps_jump", SourceGPS, 0.9,
				map[string]any{"index": i, "km": km},
				"Position moved %.2f km with no time elapsed", km))
		case elapsed > 0 && km/elapsed.Hours() > MaxTankerSpeedKmh:
			ev = append(ev, evidence("gps_jump", SourceGPS, 0.9,
				map[string]any{"index": i, "km": km, "speedKmh": km / elapsed.Hours()},
				"Implied speed %.0f km/h between fixes", km/elapsed.Hours()))
		case elapsed > MaxGPSGap:
			ev = append(ev, evidence("gps_gap", SourceGPS, 0.8,
				map[string]any{"index": i, "gap": elapsed.String()},
				"GPS silent for %s", elapsed.Round(time.Minute)))
		}
	}

	if len(ev) > 0 {
		return result("gpsTampering", 1, ev...), nil
	}
	return result("gpsTampering", 0), nil
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// DriverLoss values the undelivered fuel.
func DriverLoss(d *domain.DriverActivity) float64 {
	return LossValue(d.Shortfall(), d.UnitPrice)
}
