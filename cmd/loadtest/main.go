// loadtest гоняет сценарии оформления заказов против FulfillmentService по gRPC
// и печатает сводку задержек.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
)

const scenarioMethod = "scenario"

type loadMode string

const (
	modePlace          loadMode = "place"
	modePlacePay       loadMode = "place-pay"
	modePlacePayCancel loadMode = "place-pay-cancel"
)

type config struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	productID   string
	pallets     int64
	addonPacks  int64
	actor       string
	customerTag string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg  config
		mode string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "max scenarios; 0 means unlimited when -duration is set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 4, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modePlace), "load mode: place | place-pay | place-pay-cancel")
	fs.StringVar(&cfg.productID, "product", "cement-50kg", "catalog product id")
	fs.Int64Var(&cfg.pallets, "pallets", 1, "pallets per order")
	fs.Int64Var(&cfg.addonPacks, "addon-packs", 0, "loose packs per order")
	fs.StringVar(&cfg.actor, "actor", "loadtest", "actor sent with every call")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch loadMode(strings.TrimSpace(mode)) {
	case modePlace, modePlacePay, modePlacePayCancel:
		cfg.mode = loadMode(strings.TrimSpace(mode))
	default:
		return config{}, errors.Errorf("unsupported mode: %s", mode)
	}

	switch {
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case cfg.total < 0, cfg.duration == 0 && cfg.total == 0:
		return config{}, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return config{}, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.productID) == "":
		return config{}, errors.New("product is required")
	case cfg.pallets < 0 || cfg.addonPacks < 0 || cfg.pallets+cfg.addonPacks == 0:
		return config{}, errors.New("order must contain pallets or addon packs")
	case strings.TrimSpace(cfg.actor) == "":
		return config{}, errors.New("actor is required")
	}
	return cfg, nil
}

// orderClient — подмножество grpcsvc.Client, которое использует нагрузка.
type orderClient interface {
	PlaceOrder(ctx context.Context, req *grpcsvc.PlaceOrderRequest) (*grpcsvc.OrderResponse, error)
	RecordPayment(ctx context.Context, req *grpcsvc.RecordPaymentRequest) (*grpcsvc.OrderResponse, error)
	CancelOrder(ctx context.Context, req *grpcsvc.CancelOrderRequest) (*grpcsvc.OrderResponse, error)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Scenarios       int64                   `json:"scenarios"`
	FailedScenarios int64                   `json:"failed_scenarios"`
	RPS             float64                 `json:"rps"`
	Methods         map[string]methodReport `json:"methods"`
}

type methodStats struct {
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, err error) {
	code := status.Code(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	if code != codes.OK {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		calls := int64(len(stats.latencies))
		result.Methods[name] = methodReport{
			Calls:     calls,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, calls),
			Codes:     codesCopy,
			LatencyMs: summarize(stats.latencies),
		}
	}
	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.Scenarios = scenario.Calls
		result.FailedScenarios = scenario.Failed
	}
	if elapsed > 0 {
		result.RPS = float64(result.Scenarios) / elapsed.Seconds()
	}
	return result
}

type runner struct {
	cfg   config
	runID string
	col   *collector
}

// call выполняет RPC с таймаутом, actor и idempotency-key и учитывает задержку.
func (r *runner) call(ctx context.Context, method, key string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	ctx = grpcsvc.WithActor(ctx, r.cfg.actor)
	ctx = grpcsvc.WithIdempotencyKey(ctx, fmt.Sprintf("lt-%s-%s-%s", r.runID, method, key))

	start := time.Now()
	err := fn(ctx)
	r.col.record(method, time.Since(start), err)
	return err
}

func (r *runner) scenario(ctx context.Context, client orderClient, index int) (err error) {
	start := time.Now()
	defer func() { r.col.record(scenarioMethod, time.Since(start), err) }()

	key := fmt.Sprint(index)
	var order domain.Order
	err = r.call(ctx, grpcsvc.MethodPlaceOrder, key, func(ctx context.Context) error {
		resp, err := client.PlaceOrder(ctx, &grpcsvc.PlaceOrderRequest{
			CustomerID: fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index),
			Items: []grpcsvc.PlaceOrderItem{{
				ProductID:  r.cfg.productID,
				Pallets:    r.cfg.pallets,
				AddonPacks: r.cfg.addonPacks,
			}},
		})
		if err == nil {
			order = resp.Order
		}
		return err
	})
	if err != nil {
		return err
	}
	if order.ID == "" {
		return status.Error(codes.Internal, "place order returned empty order id")
	}
	if r.cfg.mode == modePlace {
		return nil
	}

	err = r.call(ctx, grpcsvc.MethodRecordPayment, key, func(ctx context.Context) error {
		_, err := client.RecordPayment(ctx, &grpcsvc.RecordPaymentRequest{
			OrderID:    order.ID,
			Amount:     order.FinalAmount,
			Method:     string(domain.PaymentMethodBankTransfer),
			Reference:  "lt-" + key,
			ReceivedBy: r.cfg.actor,
		})
		return err
	})
	if err != nil || r.cfg.mode != modePlacePayCancel {
		return err
	}

	return r.call(ctx, grpcsvc.MethodCancelOrder, key, func(ctx context.Context) error {
		_, err := client.CancelOrder(ctx, &grpcsvc.CancelOrderRequest{OrderID: order.ID, Reason: "load test"})
		return err
	})
}

// run раздаёт номера сценариев воркерам, пока не выйдет лимит или время.
// Ошибки сценариев учитываются в отчёте и не прерывают прогон.
func (r *runner) run(ctx context.Context, clients []orderClient) report {
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	startedAt := time.Now()
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; r.cfg.total == 0 || i < r.cfg.total; i++ {
			select {
			case <-gctx.Done():
				return nil
			case jobs <- i:
			}
		}
		return nil
	})
	for w := 0; w < r.cfg.concurrency; w++ {
		client := clients[w%len(clients)]
		g.Go(func() error {
			for index := range jobs {
				_ = r.scenario(context.WithoutCancel(gctx), client, index)
			}
			return nil
		})
	}
	_ = g.Wait()

	return r.col.report(startedAt, time.Since(startedAt))
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними значениями отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func printReport(w io.Writer, result report, mode loadMode) {
	_, _ = fmt.Fprintf(w, "mode=%s scenarios=%d failed=%d duration=%.2fs rps=%.2f\n",
		mode, result.Scenarios, result.FailedScenarios, result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d error_rate=%.4f p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, stats.Calls, stats.Failed, stats.ErrorRate,
			stats.LatencyMs.P50, stats.LatencyMs.P95, stats.LatencyMs.P99)
	}
}

func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.Errorf("output path must be inside current directory: %s", path)
	}

	file, err := os.Create(clean) // #nosec G304 -- путь задаёт оператор.
	if err != nil {
		return errors.Wrap(err, "create report file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fail("invalid config: %v", err)
	}

	clients := make([]orderClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, err := grpcsvc.Dial(cfg.addr)
		if err != nil {
			fail("%v", err)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewClient(conn))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{cfg: cfg, runID: fmt.Sprintf("%d", time.Now().UnixNano()), col: newCollector()}
	result := r.run(ctx, clients)
	printReport(os.Stdout, result, cfg.mode)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
