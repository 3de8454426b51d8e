// Replay tool for measuring FuelGuard against labelled pump data.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/pump.csv -url http://localhost:8080
//
// This tool:
//  1. Reads pump transactions with fraud labels
//  2. Sends each one to POST /events/pump
//  3. Compares the verdict (case opened or not) with the label
//  4. Optionally resolves every opened case from its label so the
//     server's accuracy tracker can be checked against the replay
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// LabelledPump is one row of the replay file.
type LabelledPump struct {
	Tx      domain.PumpTransaction
	IsFraud bool
}

// evaluateResponse is the subset of the evaluate response the replay reads.
type evaluateResponse struct {
	Assessment struct {
		Score     float64 `json:"score"`
		Triggered bool    `json:"triggered"`
	} `json:"assessment"`
	Case *domain.FraudCase `json:"case"`
}

// Metrics tracks replay results
type Metrics struct {
	TruePositives  int64 // Fraud that opened a case
	FalsePositives int64 // Clean dispense that opened a case
	TrueNegatives  int64
	FalseNegatives int64 // Missed fraud

	TotalProcessed int64
	TotalFraud     int64
	TotalClean     int64
	TotalErrors    int64
	Resolved       int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled pump CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "FuelGuard base URL")
	limit := flag.Int("limit", 10000, "Maximum rows to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	resolve := flag.Bool("resolve", false, "Resolve opened cases from their labels")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/pump.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|            FUELGUARD REPLAY - Pump Fraud Detection            |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Server URL:  %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Resolve:     %v\n", *resolve)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FuelGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FuelGuard is running:")
		fmt.Println("  go run ./cmd/fuelguard")
		os.Exit(1)
	}
	fmt.Println("FuelGuard is healthy")

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	rows, err := readPumpCSV(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(rows))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runReplay(rows, *baseURL, *workers, *resolve, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *resolve {
		if acc, err := fetchAccuracy(*baseURL); err == nil {
			fmt.Printf("   Server accuracy:  %.2f%%\n\n", acc)
		}
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var requiredColumns = []string{"id", "station_id", "pump_id", "quantity", "amount", "flow_rate", "timestamp", "is_fraud"}

// readPumpCSV parses labelled pump rows. Malformed rows are skipped.
func readPumpCSV(r io.Reader, limit int) ([]LabelledPump, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	num := func(rec []string, name string) float64 {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return 0
		}
		v, _ := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v
	}

	var rows []LabelledPump
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		ts, err := time.Parse(time.RFC3339, rec[col["timestamp"]])
		if err != nil {
			continue
		}
		pumpID, err := strconv.Atoi(rec[col["pump_id"]])
		if err != nil {
			continue
		}

		rows = append(rows, LabelledPump{
			Tx: domain.PumpTransaction{
				ID:          rec[col["id"]],
				StationID:   rec[col["station_id"]],
				PumpID:      pumpID,
				Quantity:    num(rec, "quantity"),
				Amount:      num(rec, "amount"),
				UnitPrice:   num(rec, "unit_price"),
				FlowRate:    num(rec, "flow_rate"),
				Duration:    num(rec, "duration"),
				Temperature: num(rec, "temperature"),
				Pressure:    num(rec, "pressure"),
				Timestamp:   ts,
			},
			IsFraud: rec[col["is_fraud"]] == "1" || strings.EqualFold(rec[col["is_fraud"]], "true"),
		})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func runReplay(rows []LabelledPump, baseURL string, numWorkers int, resolve, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabelledPump, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := evaluatePump(client, baseURL, &row.Tx)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Tx.ID, err)
					}
					continue
				}

				predicted := result.Case != nil
				metrics.record(predicted, row.IsFraud)

				if resolve && predicted {
					if err := resolveCase(client, baseURL, result.Case.ID, row.IsFraud); err != nil {
						fmt.Printf("ERROR: resolving %s -> %v\n", result.Case.ID, err)
					} else {
						atomic.AddInt64(&metrics.Resolved, 1)
					}
				}

				if verbose {
					mark := "ok"
					if predicted != row.IsFraud {
						mark = "XX"
					}
					fmt.Printf("%s %-12s | Station: %-8s | Qty: %8.2f | Flow: %6.2f | Fraud: %-5v | Score: %.3f\n",
						mark, row.Tx.ID, row.Tx.StationID, row.Tx.Quantity, row.Tx.FlowRate,
						row.IsFraud, result.Assessment.Score)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)

	wg.Wait()

	return metrics
}

func (m *Metrics) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalClean, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func evaluatePump(client *http.Client, baseURL string, tx *domain.PumpTransaction) (*evaluateResponse, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/events/pump", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// resolveCase walks a case through investigation to the labelled verdict.
func resolveCase(client *http.Client, baseURL, id string, fraud bool) error {
	verdict := domain.StatusFalsePositive
	if fraud {
		verdict = domain.StatusConfirmed
	}

	for _, status := range []domain.CaseStatus{domain.StatusInvestigating, verdict} {
		body, _ := json.Marshal(map[string]domain.CaseStatus{"status": status})
		req, err := http.NewRequest(http.MethodPatch, baseURL+"/cases/"+id+"/status", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", status, resp.StatusCode)
		}
	}
	return nil
}

func fetchAccuracy(baseURL string) (float64, error) {
	resp, err := http.Get(baseURL + "/accuracy")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Accuracy float64 `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Accuracy, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                        REPLAY RESULTS                         |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    CASE        NONE")
	fmt.Printf("   Actual  F     %8d    %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           C     %8d    %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	s := m.Summary()
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", s.Precision)
	fmt.Printf("   Recall:     %.4f\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	if m.Resolved > 0 {
		fmt.Printf("   Cases Resolved:   %d\n", m.Resolved)
	}
	fmt.Println()
}

// Summary holds the derived detection ratios.
type Summary struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

func (m *Metrics) Summary() Summary {
	var s Summary
	if m.TruePositives+m.FalsePositives > 0 {
		s.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		s.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		s.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return s
}
