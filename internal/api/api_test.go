package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/fuelguard/internal/alert"
	"github.com/opensource-finance/fuelguard/internal/cache"
	"github.com/opensource-finance/fuelguard/internal/cases"
	"github.com/opensource-finance/fuelguard/internal/detector"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/model"
	"github.com/opensource-finance/fuelguard/internal/monitor"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/repository"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

type testEnv struct {
	server     *Server
	repo       *repository.SQLRepository
	dispatcher *alert.Dispatcher
	registry   *detector.Registry
	cache      domain.Cache
}

// newTestEnv wires the full detection stack over a temp SQLite database.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fuelguard-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
		os.Remove(tmpPath)
	})

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
	t.Cleanup(func() { lru.Close() })

	dispatcher := alert.NewDispatcher(nil)
	manager := cases.NewManager(repo, dispatcher, domain.CasesConfig{PersistRetries: 1, RetryInterval: time.Millisecond})

	registry := detector.NewRegistry(detector.Deps{
		Rules:    engine,
		Patterns: matcher,
		Models:   model.NewSuite(),
		Cache:    lru,
		Records:  repo,
		Cases:    manager,
	})

	sched := monitor.New(domain.DefaultConfig().Monitor, registry, repo, lru)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	srv := NewServer(cfg, Deps{
		Repo:     repo,
		Cache:    lru,
		Registry: registry,
		Rules:    engine,
		Patterns: matcher,
		Cases:    manager,
		Accuracy: cases.NewAccuracyTracker(repo),
		Monitor:  sched,
		Version:  "test-v1",
	}, alert.NewStream(dispatcher, 8))

	return &testEnv{server: srv, repo: repo, dispatcher: dispatcher, registry: registry, cache: lru}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func divertedTrip(id string) *domain.DriverActivity {
	start := time.Now().UTC().Add(-time.Hour)
	return &domain.DriverActivity{
		ID: id, DriverID: "DRV-7", CurrentLocation: "Depot-Tema", OnDuty: false,
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
}

func cleanDocument(id string) *domain.Document {
	return &domain.Document{
		ID: id, StationID: "ST-1", Kind: "waybill",
		OCRConfidence: 0.98,
		Signatures:    []domain.Signature{{Signer: "Depot Manager", MatchScore: 0.97}},
		TemplateID:    "WB-2024", TemplateSimilarity: 0.96,
		Timestamp: time.Now().UTC(),
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	t.Run("TriggeredOpensCase", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/events/driver", divertedTrip("DA-1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[EvaluateResponse](t, rr)
		if !resp.Assessment.Triggered || resp.Case == nil {
			t.Fatalf("expected a case, score %v", resp.Assessment.Score)
		}
		if resp.Case.Type != domain.FraudDriverDiversion {
			t.Errorf("expected driver_diversion, got %s", resp.Case.Type)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}

		if _, err := env.repo.GetCase(ctx, resp.Case.ID); err != nil {
			t.Errorf("expected case persisted: %v", err)
		}
		stored, err := env.repo.ListRecords(ctx, domain.CategoryDriver, time.Now().Add(-24*time.Hour))
		if err != nil || len(stored) != 1 {
			t.Errorf("expected record persisted, got %d (%v)", len(stored), err)
		}
	})

	t.Run("CleanRecordNoCase", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/events/document", cleanDocument("DOC-1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[EvaluateResponse](t, rr)
		if resp.Case != nil {
			t.Errorf("expected no case, got %s", resp.Case.ID)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/events/weather", map[string]string{"id": "W-1"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/events/pump", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/events/pump", map[string]any{"stationId": "ST-1", "quantity": -1})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "invalid record") {
			t.Errorf("expected validation message, got %s", rr.Body.String())
		}
	})
}

func TestEvaluatedRecordSkippedByMonitor(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	var alerts atomic.Int32
	defer env.dispatcher.Subscribe(alert.Global, func(*domain.FraudCase) { alerts.Add(1) })()

	rr := env.do(t, http.MethodPost, "/events/driver", divertedTrip("DA-SCAN"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp := decode[EvaluateResponse](t, rr); resp.Case == nil {
		t.Fatal("expected the trip to open a case")
	}

	cfg := domain.MonitorConfig{
		Enabled: true,
		Driver:  domain.LoopConfig{Enabled: true, Interval: 20 * time.Millisecond, Lookback: 2 * time.Hour},
	}
	sched := monitor.New(cfg, env.registry, env.repo, env.cache)
	sched.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	sched.Stop()
	sched.Wait()

	var driverLoop monitor.LoopStats
	for _, st := range sched.Stats() {
		if st.Kind == domain.CategoryDriver {
			driverLoop = st
		}
	}
	if driverLoop.Ticks == 0 {
		t.Fatal("expected the driver loop to tick")
	}
	if driverLoop.Skipped == 0 || driverLoop.Records != 0 {
		t.Errorf("expected the scored record skipped, got records=%d skipped=%d", driverLoop.Records, driverLoop.Skipped)
	}

	opened, err := env.repo.ListCases(ctx, domain.CaseFilter{Type: domain.FraudDriverDiversion})
	if err != nil {
		t.Fatalf("list cases: %v", err)
	}
	if len(opened) != 1 {
		t.Errorf("expected 1 case for one record, got %d", len(opened))
	}
	if n := alerts.Load(); n != 1 {
		t.Errorf("expected 1 alert, got %d", n)
	}
}

func TestCaseEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/events/driver", divertedTrip("DA-9"))
	created := decode[EvaluateResponse](t, rr).Case
	if created == nil {
		t.Fatalf("expected a case from diverted trip: %s", rr.Body.String())
	}

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/cases?type=driver_diversion&status=detected", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[struct {
			Cases []domain.FraudCase `json:"cases"`
			Count int                `json:"count"`
		}](t, rr)
		if resp.Count != 1 || resp.Cases[0].ID != created.ID {
			t.Errorf("expected the created case, got %+v", resp)
		}
	})

	t.Run("ListBadFilter", func(t *testing.T) {
		for _, q := range []string{"type=weather", "limit=-1", "since=yesterday"} {
			if rr := env.do(t, http.MethodGet, "/cases?"+q, nil); rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", q, rr.Code)
			}
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/cases/"+created.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if got := decode[domain.FraudCase](t, rr); got.ID != created.ID {
			t.Errorf("expected %s, got %s", created.ID, got.ID)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/cases/FRAUD-0-NOPE", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("StatusLifecycle", func(t *testing.T) {
		path := "/cases/" + created.ID + "/status"

		if rr := env.do(t, http.MethodPatch, path, map[string]string{"status": "confirmed"}); rr.Code != http.StatusConflict {
			t.Errorf("expected 409 for skipped step, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodPatch, path, map[string]string{"status": "closed"}); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown status, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodPatch, path, map[string]string{"status": "investigating"}); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		rr := env.do(t, http.MethodPatch, path, map[string]string{"status": "confirmed"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := decode[domain.FraudCase](t, rr); got.ResolvedAt == nil {
			t.Error("expected resolvedAt on confirmed case")
		}
	})

	t.Run("AccuracyReflectsVerdict", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/accuracy", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		acc := decode[cases.Accuracy](t, rr)
		if acc.Percent != 100 || acc.Confirmed != 1 {
			t.Errorf("expected 100%% with 1 confirmed, got %+v", acc)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp := decode[struct {
		Status           string                     `json:"status"`
		Timestamp        time.Time                  `json:"timestamp"`
		Accuracy         float64                    `json:"accuracy"`
		DetectorStatuses map[string]detector.Status `json:"detectorStatuses"`
		Version          string                     `json:"version"`
	}](t, rr)

	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if resp.Accuracy != 92.0 {
		t.Errorf("expected default accuracy 92.0, got %v", resp.Accuracy)
	}
	if len(resp.DetectorStatuses) != 6 {
		t.Errorf("expected 6 detector statuses, got %d", len(resp.DetectorStatuses))
	}
	if resp.Version != "test-v1" {
		t.Errorf("expected version test-v1, got %s", resp.Version)
	}
	if resp.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	t.Run("Ready", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "fuelguard_http_requests_total") {
			t.Error("expected http request counter in metrics output")
		}
	})

	t.Run("Monitor", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/monitor", nil)
		resp := decode[struct {
			Running bool                `json:"running"`
			Loops   []monitor.LoopStats `json:"loops"`
		}](t, rr)
		if resp.Running {
			t.Error("expected scheduler not running")
		}
		if len(resp.Loops) != 6 {
			t.Errorf("expected 6 loops, got %d", len(resp.Loops))
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("ListLoaded", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules", nil)
		resp := decode[struct {
			Count int `json:"count"`
		}](t, rr)
		if resp.Count != len(rules.BuiltinRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.BuiltinRules()), resp.Count)
		}
	})

	rule := CreateRuleRequest{
		ID:         "PUMP-NIGHT-BIG",
		Name:       "Large night dispense",
		Domain:     domain.CategoryPump,
		Expression: "r.quantity > 500.0",
		Weight:     0.4,
		Confidence: 0.8,
		Enabled:    true,
	}

	t.Run("Create", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", rule)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		bad := rule
		bad.ID = "BROKEN"
		bad.Expression = "r.quantity >"
		if rr := env.do(t, http.MethodPost, "/rules", bad); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateMissingDomain", func(t *testing.T) {
		bad := rule
		bad.Domain = ""
		if rr := env.do(t, http.MethodPost, "/rules", bad); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetStored", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules/PUMP-NIGHT-BIG", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if got := decode[domain.RuleConfig](t, rr); got.Expression != rule.Expression {
			t.Errorf("expected stored expression, got %s", got.Expression)
		}
	})

	t.Run("ReloadSwapsTable", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[struct {
			Count int `json:"count"`
		}](t, rr)
		if resp.Count != 1 {
			t.Errorf("expected only the stored rule loaded, got %d", resp.Count)
		}
	})
}

func TestPatternEndpoints(t *testing.T) {
	env := newTestEnv(t)

	p := CreatePatternRequest{
		ID:         "PUMP-SLOW-NIGHT",
		Name:       "Slow night dispense",
		Category:   domain.CategoryPump,
		Indicators: []string{"r.flow_rate < 10.0", "r.hour < 5.0"},
		RiskScore:  0.8,
	}

	if rr := env.do(t, http.MethodPost, "/patterns", p); rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	bad := p
	bad.Indicators = nil
	if rr := env.do(t, http.MethodPost, "/patterns", bad); rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without indicators, got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/patterns/reload", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/patterns", nil)
	resp := decode[struct {
		Patterns []domain.FraudPattern `json:"patterns"`
		Count    int                   `json:"count"`
	}](t, rr)
	if resp.Count != 1 || resp.Patterns[0].ID != p.ID {
		t.Errorf("expected the stored pattern, got %+v", resp)
	}
}

func TestAlertStreamThroughRouter(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	read := func() alert.ServerMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg alert.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != "connected" {
		t.Fatalf("expected connected, got %s", msg.Type)
	}
	_ = conn.WriteJSON(alert.ClientMessage{Type: "subscribe", StationID: "Depot-Tema"})
	if msg := read(); msg.Type != "subscribed" {
		t.Fatalf("expected subscribed, got %s", msg.Type)
	}

	body, _ := json.Marshal(divertedTrip("DA-WS"))
	resp, err := http.Post(srv.URL+"/events/driver", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to post event: %v", err)
	}
	resp.Body.Close()

	// Alerts arrive as the bare FraudCase JSON.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var c domain.FraudCase
	if err := conn.ReadJSON(&c); err != nil {
		t.Fatalf("failed to read alert: %v", err)
	}
	if c.Type != domain.FraudDriverDiversion {
		t.Errorf("expected driver_diversion, got %s", c.Type)
	}
	if c.Location != "Depot-Tema" {
		t.Errorf("expected Depot-Tema, got %s", c.Location)
	}
	if !strings.HasPrefix(c.ID, "FRAUD-") {
		t.Errorf("expected a case id, got %q", c.ID)
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("CORSAnyOrigin", func(t *testing.T) {
		h := CORSMiddleware(nil)(ok)
		req := httptest.NewRequest(http.MethodOptions, "/cases", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected *, got %q", got)
		}
		if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Error("expected no credentials for wildcard origin")
		}
	})

	t.Run("CORSRestricted", func(t *testing.T) {
		h := CORSMiddleware([]string{"https://ops.example.com"})(ok)

		req := httptest.NewRequest(http.MethodGet, "/cases", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
			t.Errorf("expected listed origin echoed, got %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/cases", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no allow-origin for unlisted origin, got %q", got)
		}
	})

	t.Run("RecoverReturnsJSON", func(t *testing.T) {
		h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("detector exploded")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"error"`) {
			t.Errorf("expected JSON error body, got %s", rr.Body.String())
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected req-42, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace id header")
		}
	})
}
