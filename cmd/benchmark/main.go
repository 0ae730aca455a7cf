// Benchmark tool for load-testing Kestrel with synthetic applicant batches.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -batches 20 -count 500
//
// This tool:
//   1. Generates synthetic applicant batches (with PII, exercising the sanitizer)
//   2. Sends each batch to Kestrel for appraisal
//   3. Re-evaluates the same batches locally with the same policy
//   4. Reports decision agreement, approval rates, rule failure counts, and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/metrics"
	"github.com/opencredit/kestrel/internal/rules"
	"github.com/opencredit/kestrel/internal/sanitize"
	"github.com/opencredit/kestrel/internal/schema"
	"github.com/opencredit/kestrel/internal/synth"
	"github.com/opencredit/kestrel/internal/tabular"
)

// AppraisalResponse mirrors the server's POST /v1/appraisals reply.
type AppraisalResponse struct {
	Run       *domain.Run       `json:"run"`
	Decisions []domain.Decision `json:"decisions"`
}

// Results accumulates benchmark counters across workers.
type Results struct {
	BatchesSent   int64
	BatchErrors   int64
	RecordsScored int64

	Approved int64
	Denied   int64

	Agreed    int64
	Disagreed int64

	LatencyMs int64

	mu          sync.Mutex
	failedRules map[string]int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 10, "Number of batches to send")
	count := flag.Int("count", 200, "Records per batch")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	seed := flag.Int64("seed", synth.DefaultSeed, "Base generation seed")
	threshold := flag.Float64("threshold", 0.7, "Approval threshold")
	currency := flag.String("currency", "USD", "Currency code for generated batches")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("================================================================")
	fmt.Println("        KESTREL BENCHMARK - Synthetic Batch Appraisal")
	fmt.Println("================================================================")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d x %d records\n", *batches, *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Printf("Currency:    %s\n", *currency)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestreld/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	// Local reference evaluator with the same policy the server receives
	policy := &domain.RulePolicy{
		Name:    "benchmark",
		Kind:    domain.PolicyClassic,
		Classic: domain.DefaultClassicRules(),
		Mode:    domain.DecisionMode{Threshold: threshold},
		Enabled: true,
	}
	evaluator, err := rules.NewEvaluator(policy)
	if err != nil {
		fmt.Printf("ERROR: invalid benchmark policy: %v\n", err)
		os.Exit(1)
	}

	results := &Results{failedRules: make(map[string]int64)}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	runBenchmark(results, evaluator, *baseURL, *tenantID, *batches, *count, *workers, *seed, *threshold, *currency, *verbose)
	duration := time.Since(startTime)

	printResults(results, duration)
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

func runBenchmark(results *Results, evaluator *rules.Evaluator, baseURL, tenantID string, batches, count, numWorkers int, seed int64, threshold float64, currency string, verbose bool) {
	work := make(chan int, batches)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for batchNum := range work {
				batch, err := synth.Generate(synth.Params{
					Count:        count,
					CurrencyCode: currency,
					IncludePII:   true,
					Seed:         seed + int64(batchNum),
				})
				if err != nil {
					atomic.AddInt64(&results.BatchErrors, 1)
					continue
				}

				start := time.Now()
				resp, err := appraiseBatch(client, baseURL, tenantID, batch, threshold)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&results.LatencyMs, elapsed)
				atomic.AddInt64(&results.BatchesSent, 1)

				if err != nil {
					atomic.AddInt64(&results.BatchErrors, 1)
					if verbose {
						fmt.Printf("ERROR: batch %d -> %v\n", batchNum, err)
					}
					continue
				}

				compareDecisions(results, evaluator, batch, resp)

				if verbose {
					fmt.Printf("batch %3d | records: %4d | approved: %4d | denied: %4d | threshold: %.2f | %5d ms\n",
						batchNum,
						resp.Run.RecordCount,
						resp.Run.Approved,
						resp.Run.Denied,
						resp.Run.Threshold,
						elapsed,
					)
				}
			}
		}()
	}

	for i := 0; i < batches; i++ {
		work <- i
	}
	close(work)

	wg.Wait()
}

func appraiseBatch(client *http.Client, baseURL, tenantID string, batch *domain.Batch, threshold float64) (*AppraisalResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "benchmark.csv")
	if err != nil {
		return nil, err
	}
	if err := tabular.EncodeBatch(part, batch); err != nil {
		return nil, err
	}
	mw.WriteField("rule_mode", "classic")
	mw.WriteField("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/v1/appraisals", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var result AppraisalResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// compareDecisions re-runs the pipeline locally and checks the server's
// verdicts against it record by record.
func compareDecisions(results *Results, evaluator *rules.Evaluator, batch *domain.Batch, resp *AppraisalResponse) {
	clean, _ := sanitize.Sanitize(batch)
	normalized := schema.Normalize(clean)
	metrics.DeriveBatch(normalized)

	local, err := evaluator.Evaluate(normalized)
	if err != nil {
		atomic.AddInt64(&results.BatchErrors, 1)
		return
	}

	localByID := make(map[string]domain.Decision, len(local.Decisions))
	for _, d := range local.Decisions {
		localByID[d.ApplicationID] = d
	}

	for _, d := range resp.Decisions {
		atomic.AddInt64(&results.RecordsScored, 1)
		if d.Approved() {
			atomic.AddInt64(&results.Approved, 1)
		} else {
			atomic.AddInt64(&results.Denied, 1)
		}

		if ref, ok := localByID[d.ApplicationID]; ok && ref.Decision == d.Decision {
			atomic.AddInt64(&results.Agreed, 1)
		} else {
			atomic.AddInt64(&results.Disagreed, 1)
		}

		results.mu.Lock()
		for _, rule := range d.FailedRules() {
			results.failedRules[rule]++
		}
		results.mu.Unlock()
	}
}

func printResults(r *Results, duration time.Duration) {
	fmt.Println("\n================================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("================================================================")

	fmt.Printf("\nBATCH STATISTICS\n")
	fmt.Printf("   Batches Sent:     %d\n", r.BatchesSent)
	fmt.Printf("   Batch Errors:     %d\n", r.BatchErrors)
	fmt.Printf("   Records Scored:   %d\n", r.RecordsScored)

	fmt.Printf("\nDECISION BREAKDOWN\n")
	fmt.Printf("   Approved:         %d\n", r.Approved)
	fmt.Printf("   Denied:           %d\n", r.Denied)
	if r.RecordsScored > 0 {
		fmt.Printf("   Approval Rate:    %.2f%%\n", 100*float64(r.Approved)/float64(r.RecordsScored))
	}

	fmt.Printf("\nSERVER/LOCAL AGREEMENT\n")
	fmt.Printf("   Agreed:           %d\n", r.Agreed)
	fmt.Printf("   Disagreed:        %d\n", r.Disagreed)
	if r.Agreed+r.Disagreed > 0 {
		fmt.Printf("   Agreement:        %.4f\n", float64(r.Agreed)/float64(r.Agreed+r.Disagreed))
	}

	if len(r.failedRules) > 0 {
		fmt.Printf("\nTOP FAILED RULES\n")
		type ruleCount struct {
			name  string
			count int64
		}
		sorted := make([]ruleCount, 0, len(r.failedRules))
		for name, count := range r.failedRules {
			sorted = append(sorted, ruleCount{name, count})
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })
		for i, rc := range sorted {
			if i == 5 {
				break
			}
			fmt.Printf("   %-25s %d\n", rc.name, rc.count)
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if r.BatchesSent > 0 {
		avgMs := float64(r.LatencyMs) / float64(r.BatchesSent)
		rps := float64(r.RecordsScored) / duration.Seconds()
		fmt.Printf("   Avg Batch Time:   %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f records/sec\n", rps)
	}

	if r.Disagreed > 0 {
		fmt.Println("\nWARNING: server decisions diverge from local evaluation")
	}

	fmt.Println()
}
