package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Record categories. They double as rule domains, pattern categories and
// model suites.
const (
	CategoryPump        = "pump"
	CategoryTransaction = "transaction"
	CategoryInventory   = "inventory"
	CategoryDriver      = "driver"
	CategoryPricing     = "pricing"
	CategoryDocument    = "document"
)

// Record is an operational event a detector can score.
type Record interface {
	RecordID() string
	Category() string

	// StationKey is the location key used for alert routing.
	StationKey() string

	// Subject is the primary party used for history lookups.
	Subject() string

	// Parties returns labelled participants, e.g. "Cashier: C-1".
	Parties() []string

	// Features returns the fixed-order numeric vector fed to models.
	Features() []float64

	// Attributes returns the map bound to r in CEL rules and pattern indicators.
	Attributes() map[string]any

	OccurredAt() time.Time
}

// StoredRecord is the persisted envelope of a Record.
type StoredRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Location   string    `json:"location"`
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    []byte    `json:"payload"`
}

func hourOf(t time.Time) float64 {
	return float64(t.Hour())
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func appendParty(parties []string, label, id string) []string {
	if id == "" {
		return parties
	}
	return append(parties, label+": "+id)
}

// PumpTransaction is a single dispense at a fuel pump.
type PumpTransaction struct {
	ID          string    `json:"id" validate:"required"`
	StationID   string    `json:"stationId" validate:"required"`
	PumpID      int       `json:"pumpId" validate:"gte=0"`
	CashierID   string    `json:"cashierId,omitempty"`
	CustomerID  string    `json:"customerId,omitempty"`
	Quantity    float64   `json:"quantity" validate:"gte=0"`
	Amount      float64   `json:"amount" validate:"gte=0"`
	UnitPrice   float64   `json:"unitPrice" validate:"gte=0"`
	FlowRate    float64   `json:"flowRate" validate:"gte=0"` // litres per minute
	Duration    float64   `json:"duration" validate:"gte=0"` // seconds
	Temperature float64   `json:"temperature"`
	Pressure    float64   `json:"pressure"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`

	// BaselineFlowRate is the pump's rolling average; filled by enrichment when zero.
	BaselineFlowRate float64 `json:"baselineFlowRate,omitempty"`
}

func (p *PumpTransaction) RecordID() string      { return p.ID }
func (p *PumpTransaction) Category() string      { return CategoryPump }
func (p *PumpTransaction) StationKey() string    { return p.StationID }
func (p *PumpTransaction) OccurredAt() time.Time { return p.Timestamp }

func (p *PumpTransaction) Subject() string {
	return p.StationID + "/" + strconv.Itoa(p.PumpID)
}

func (p *PumpTransaction) Parties() []string {
	var parties []string
	parties = appendParty(parties, "Cashier", p.CashierID)
	parties = appendParty(parties, "Customer", p.CustomerID)
	return parties
}

// Features: quantity, amount, flow rate, duration, temperature, pressure, hour, pump id.
func (p *PumpTransaction) Features() []float64 {
	return []float64{
		p.Quantity,
		p.Amount,
		p.FlowRate,
		p.Duration,
		p.Temperature,
		p.Pressure,
		hourOf(p.Timestamp),
		float64(p.PumpID),
	}
}

func (p *PumpTransaction) Attributes() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"station_id":         p.StationID,
		"pump_id":            float64(p.PumpID),
		"cashier_id":         p.CashierID,
		"customer_id":        p.CustomerID,
		"quantity":           p.Quantity,
		"amount":             p.Amount,
		"unit_price":         p.UnitPrice,
		"expected_amount":    p.Quantity * p.UnitPrice,
		"flow_rate":          p.FlowRate,
		"baseline_flow_rate": p.BaselineFlowRate,
		"duration":           p.Duration,
		"temperature":        p.Temperature,
		"pressure":           p.Pressure,
		"hour":               hourOf(p.Timestamp),
		"has_customer":       p.CustomerID != "",
	}
}

// SalesTransaction is a point-of-sale payment.
type SalesTransaction struct {
	ID            string    `json:"id" validate:"required"`
	StationID     string    `json:"stationId" validate:"required"`
	CashierID     string    `json:"cashierId,omitempty"`
	CustomerID    string    `json:"customerId,omitempty"`
	Amount        float64   `json:"amount" validate:"gt=0"`
	Quantity      float64   `json:"quantity" validate:"gte=0"`
	UnitPrice     float64   `json:"unitPrice" validate:"gte=0"`
	PaymentMethod string    `json:"paymentMethod" validate:"omitempty,oneof=cash card mobile_money credit voucher"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`

	// Customer history statistics filled by enrichment.
	CustomerP95       float64 `json:"customerP95,omitempty"`
	CustomerMean      float64 `json:"customerMean,omitempty"`
	CustomerTxnCount  int     `json:"customerTxnCount,omitempty"`
	CustomerUsualHour float64 `json:"customerUsualHour,omitempty"`
}

func (s *SalesTransaction) RecordID() string      { return s.ID }
func (s *SalesTransaction) Category() string      { return CategoryTransaction }
func (s *SalesTransaction) StationKey() string    { return s.StationID }
func (s *SalesTransaction) Subject() string       { return s.CustomerID }
func (s *SalesTransaction) OccurredAt() time.Time { return s.Timestamp }

func (s *SalesTransaction) Parties() []string {
	var parties []string
	parties = appendParty(parties, "Cashier", s.CashierID)
	parties = appendParty(parties, "Customer", s.CustomerID)
	return parties
}

// Features: amount, quantity, unit price, hour, weekday, cash flag, has-customer flag.
func (s *SalesTransaction) Features() []float64 {
	return []float64{
		s.Amount,
		s.Quantity,
		s.UnitPrice,
		hourOf(s.Timestamp),
		float64(s.Timestamp.Weekday()),
		boolToFloat(s.PaymentMethod == "cash"),
		boolToFloat(s.CustomerID != ""),
	}
}

func (s *SalesTransaction) Attributes() map[string]any {
	return map[string]any{
		"id":                 s.ID,
		"station_id":         s.StationID,
		"cashier_id":         s.CashierID,
		"customer_id":        s.CustomerID,
		"amount":             s.Amount,
		"quantity":           s.Quantity,
		"unit_price":         s.UnitPrice,
		"payment_method":     s.PaymentMethod,
		"is_cash":            s.PaymentMethod == "cash",
		"has_customer":       s.CustomerID != "",
		"hour":               hourOf(s.Timestamp),
		"weekday":            float64(s.Timestamp.Weekday()),
		"customer_p95":       s.CustomerP95,
		"customer_mean":      s.CustomerMean,
		"customer_txn_count": float64(s.CustomerTxnCount),
	}
}

// InventoryRecord is a stock reconciliation for one tank.
type InventoryRecord struct {
	ID               string      `json:"id" validate:"required"`
	StationID        string      `json:"stationId" validate:"required"`
	ManagerID        string      `json:"managerId,omitempty"`
	Product          string      `json:"product" validate:"required"`
	TankID           string      `json:"tankId,omitempty"`
	BookQuantity     float64     `json:"bookQuantity" validate:"gte=0"`
	PhysicalQuantity float64     `json:"physicalQuantity" validate:"gte=0"`
	UnitPrice        float64     `json:"unitPrice,omitempty" validate:"gte=0"`
	Movements        []float64   `json:"movements,omitempty"`
	MovementTimes    []time.Time `json:"movementTimes,omitempty"`
	Adjustments      int         `json:"adjustments" validate:"gte=0"`
	UndocumentedAdj  int         `json:"undocumentedAdjustments" validate:"gte=0,ltefield=Adjustments"`
	RecordedAt       time.Time   `json:"recordedAt" validate:"required"`
}

// Variance is physical minus book quantity; negative means missing stock.
func (i *InventoryRecord) Variance() float64 {
	return i.PhysicalQuantity - i.BookQuantity
}

// VariancePct is the absolute variance relative to book quantity.
func (i *InventoryRecord) VariancePct() float64 {
	if i.BookQuantity == 0 {
		return 0
	}
	v := i.Variance() / i.BookQuantity
	if v < 0 {
		v = -v
	}
	return v
}

func (i *InventoryRecord) RecordID() string      { return i.ID }
func (i *InventoryRecord) Category() string      { return CategoryInventory }
func (i *InventoryRecord) StationKey() string    { return i.StationID }
func (i *InventoryRecord) Subject() string       { return i.StationID + "/" + i.TankID }
func (i *InventoryRecord) OccurredAt() time.Time { return i.RecordedAt }

func (i *InventoryRecord) Parties() []string {
	return appendParty(nil, "Manager", i.ManagerID)
}

func (i *InventoryRecord) Features() []float64 {
	return []float64{
		i.BookQuantity,
		i.PhysicalQuantity,
		i.Variance(),
		i.VariancePct(),
		float64(len(i.Movements)),
		float64(i.Adjustments),
		hourOf(i.RecordedAt),
	}
}

func (i *InventoryRecord) Attributes() map[string]any {
	return map[string]any{
		"id":                       i.ID,
		"station_id":               i.StationID,
		"manager_id":               i.ManagerID,
		"product":                  i.Product,
		"tank_id":                  i.TankID,
		"book_quantity":            i.BookQuantity,
		"physical_quantity":        i.PhysicalQuantity,
		"variance":                 i.Variance(),
		"variance_pct":             i.VariancePct(),
		"movement_count":           float64(len(i.Movements)),
		"adjustments":              float64(i.Adjustments),
		"undocumented_adjustments": float64(i.UndocumentedAdj),
		"hour":                     hourOf(i.RecordedAt),
	}
}

// GPSPoint is a single position fix reported by a vehicle tracker.
type GPSPoint struct {
	Lat       float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon       float64   `json:"lon" validate:"gte=-180,lte=180"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverActivity is a delivery trip reported by a tanker driver.
type DriverActivity struct {
	ID                  string     `json:"id" validate:"required"`
	DriverID            string     `json:"driverId" validate:"required"`
	VehicleID           string     `json:"vehicleId,omitempty"`
	CurrentLocation     string     `json:"currentLocation" validate:"required"`
	OnDuty              bool       `json:"onDuty"`
	PlannedDistanceKm   float64    `json:"plannedDistanceKm" validate:"gte=0"`
	ActualDistanceKm    float64    `json:"actualDistanceKm" validate:"gte=0"`
	ExpectedDurationMin float64    `json:"expectedDurationMin" validate:"gte=0"`
	ActualDurationMin   float64    `json:"actualDurationMin" validate:"gte=0"`
	FuelLoaded          float64    `json:"fuelLoaded" validate:"gte=0"`
	FuelDelivered       float64    `json:"fuelDelivered" validate:"gte=0"`
	ExpectedConsumption float64    `json:"expectedConsumption" validate:"gte=0"` // litres burned by the truck
	ActualConsumption   float64    `json:"actualConsumption" validate:"gte=0"`
	UnitPrice           float64    `json:"unitPrice,omitempty" validate:"gte=0"`
	UnscheduledStops    int        `json:"unscheduledStops" validate:"gte=0"`
	GPS                 []GPSPoint `json:"gps,omitempty" validate:"dive"`
	Timestamp           time.Time  `json:"timestamp" validate:"required"`
}

// Shortfall is loaded fuel that was neither delivered nor burned.
func (d *DriverActivity) Shortfall() float64 {
	s := d.FuelLoaded - d.FuelDelivered
	if s < 0 {
		return 0
	}
	return s
}

func (d *DriverActivity) RecordID() string      { return d.ID }
func (d *DriverActivity) Category() string      { return CategoryDriver }
func (d *DriverActivity) StationKey() string    { return d.CurrentLocation }
func (d *DriverActivity) Subject() string       { return d.DriverID }
func (d *DriverActivity) OccurredAt() time.Time { return d.Timestamp }

func (d *DriverActivity) Parties() []string {
	return appendParty(nil, "Driver", d.DriverID)
}

func (d *DriverActivity) Features() []float64 {
	return []float64{
		d.PlannedDistanceKm,
		d.ActualDistanceKm,
		d.ExpectedDurationMin,
		d.ActualDurationMin,
		d.FuelLoaded,
		d.FuelDelivered,
		float64(d.UnscheduledStops),
		hourOf(d.Timestamp),
	}
}

func (d *DriverActivity) Attributes() map[string]any {
	return map[string]any{
		"id":                    d.ID,
		"driver_id":             d.DriverID,
		"vehicle_id":            d.VehicleID,
		"location":              d.CurrentLocation,
		"on_duty":               d.OnDuty,
		"planned_distance_km":   d.PlannedDistanceKm,
		"actual_distance_km":    d.ActualDistanceKm,
		"expected_duration_min": d.ExpectedDurationMin,
		"actual_duration_min":   d.ActualDurationMin,
		"fuel_loaded":           d.FuelLoaded,
		"fuel_delivered":        d.FuelDelivered,
		"shortfall":             d.Shortfall(),
		"expected_consumption":  d.ExpectedConsumption,
		"actual_consumption":    d.ActualConsumption,
		"unscheduled_stops":     float64(d.UnscheduledStops),
		"gps_points":            float64(len(d.GPS)),
		"hour":                  hourOf(d.Timestamp),
	}
}

// PricingChange is a pump price update at a station.
type PricingChange struct {
	ID                 string    `json:"id" validate:"required"`
	StationID          string    `json:"stationId" validate:"required"`
	Product            string    `json:"product" validate:"required"`
	ApprovedBy         string    `json:"approvedBy,omitempty"`
	PreviousPrice      float64   `json:"previousPrice" validate:"gte=0"`
	NewPrice           float64   `json:"newPrice" validate:"gt=0"`
	RegulatedFloor     float64   `json:"regulatedFloor" validate:"gte=0"`
	RegulatedCeiling   float64   `json:"regulatedCeiling" validate:"gte=0"`
	CostPrice          float64   `json:"costPrice" validate:"gte=0"`
	DiscountPct        float64   `json:"discountPct" validate:"gte=0,lte=100"`
	DiscountAuthorized bool      `json:"discountAuthorized"`
	CompetitorPrices   []float64 `json:"competitorPrices,omitempty"`
	Timestamp          time.Time `json:"timestamp" validate:"required"`
}

func (p *PricingChange) RecordID() string      { return p.ID }
func (p *PricingChange) Category() string      { return CategoryPricing }
func (p *PricingChange) StationKey() string    { return p.StationID }
func (p *PricingChange) Subject() string       { return p.StationID + "/" + p.Product }
func (p *PricingChange) OccurredAt() time.Time { return p.Timestamp }

func (p *PricingChange) Parties() []string {
	return appendParty(nil, "Manager", p.ApprovedBy)
}

func (p *PricingChange) Features() []float64 {
	return []float64{
		p.PreviousPrice,
		p.NewPrice,
		p.RegulatedFloor,
		p.RegulatedCeiling,
		p.CostPrice,
		p.DiscountPct,
		hourOf(p.Timestamp),
	}
}

func (p *PricingChange) Attributes() map[string]any {
	change := 0.0
	if p.PreviousPrice > 0 {
		change = (p.NewPrice - p.PreviousPrice) / p.PreviousPrice
	}
	return map[string]any{
		"id":                  p.ID,
		"station_id":          p.StationID,
		"product":             p.Product,
		"approved_by":         p.ApprovedBy,
		"has_approver":        p.ApprovedBy != "",
		"previous_price":      p.PreviousPrice,
		"new_price":           p.NewPrice,
		"price_change_pct":    change,
		"regulated_floor":     p.RegulatedFloor,
		"regulated_ceiling":   p.RegulatedCeiling,
		"cost_price":          p.CostPrice,
		"discount_pct":        p.DiscountPct,
		"discount_authorized": p.DiscountAuthorized,
		"hour":                hourOf(p.Timestamp),
	}
}

// Signature is a signature extracted from a document with its verification score.
type Signature struct {
	Signer     string  `json:"signer"`
	MatchScore float64 `json:"matchScore" validate:"gte=0,lte=1"`
}

// DocumentMetadata is the file metadata of a scanned or generated document.
type DocumentMetadata struct {
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Author     string    `json:"author,omitempty"`
	Producer   string    `json:"producer,omitempty"`
}

// Document is a business document (waybill, invoice, delivery note) submitted for verification.
type Document struct {
	ID                 string           `json:"id" validate:"required"`
	StationID          string           `json:"stationId" validate:"required"`
	Kind               string           `json:"kind" validate:"required"`
	IssuedBy           string           `json:"issuedBy,omitempty"`
	Text               string           `json:"text,omitempty"`
	OCRConfidence      float64          `json:"ocrConfidence" validate:"gte=0,lte=1"`
	RequiredFields     []string         `json:"requiredFields,omitempty"`
	Signatures         []Signature      `json:"signatures,omitempty" validate:"dive"`
	TemplateID         string           `json:"templateId,omitempty"`
	TemplateSimilarity float64          `json:"templateSimilarity" validate:"gte=0,lte=1"`
	Metadata           DocumentMetadata `json:"metadata"`
	Content            []byte           `json:"content,omitempty"`
	RegisteredHash     string           `json:"registeredHash,omitempty"`
	Timestamp          time.Time        `json:"timestamp" validate:"required"`
}

func (d *Document) RecordID() string      { return d.ID }
func (d *Document) Category() string      { return CategoryDocument }
func (d *Document) StationKey() string    { return d.StationID }
func (d *Document) Subject() string       { return d.IssuedBy }
func (d *Document) OccurredAt() time.Time { return d.Timestamp }

func (d *Document) Parties() []string {
	return appendParty(nil, "Issuer", d.IssuedBy)
}

func (d *Document) Features() []float64 {
	return []float64{
		d.OCRConfidence,
		d.TemplateSimilarity,
		float64(len(d.Signatures)),
		float64(len(d.RequiredFields)),
		float64(len(d.Content)),
	}
}

func (d *Document) Attributes() map[string]any {
	return map[string]any{
		"id":                  d.ID,
		"station_id":          d.StationID,
		"kind":                d.Kind,
		"issued_by":           d.IssuedBy,
		"ocr_confidence":      d.OCRConfidence,
		"template_id":         d.TemplateID,
		"template_similarity": d.TemplateSimilarity,
		"signature_count":     float64(len(d.Signatures)),
		"has_registered_hash": d.RegisteredHash != "",
	}
}

// NewRecord returns an empty record of the given category, ready to be
// decoded into.
func NewRecord(category string) (Record, bool) {
	switch category {
	case CategoryPump:
		return &PumpTransaction{}, true
	case CategoryTransaction:
		return &SalesTransaction{}, true
	case CategoryInventory:
		return &InventoryRecord{}, true
	case CategoryDriver:
		return &DriverActivity{}, true
	case CategoryPricing:
		return &PricingChange{}, true
	case CategoryDocument:
		return &Document{}, true
	default:
		return nil, false
	}
}

// Categories lists every record category.
func Categories() []string {
	return []string{
		CategoryPump,
		CategoryTransaction,
		CategoryInventory,
		CategoryDriver,
		CategoryPricing,
		CategoryDocument,
	}
}

// Envelope wraps rec for persistence.
func Envelope(rec Record) (*StoredRecord, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &StoredRecord{
		ID:         rec.RecordID(),
		Kind:       rec.Category(),
		Location:   rec.StationKey(),
		Subject:    rec.Subject(),
		OccurredAt: rec.OccurredAt().UTC(),
		Payload:    payload,
	}, nil
}
