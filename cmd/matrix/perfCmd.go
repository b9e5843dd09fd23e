package matrix

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/smatrix/cmd/util"
	"github.com/ValentinKolb/smatrix/lib/common"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	mutil "github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Performance testing tool for the matrix engine",
	Long: util.WrapString(`Indexes a fixed preference set of 51 items many times and
measures the throughput for different numbers of goroutines. Pass --file ""
to benchmark a memory-only matrix instead of the data file.`),
	Args: cobra.NoArgs,
	RunE: withEngine(runPerf),
}

// perfSet is the preference set that every benchmark indexes
var perfSet = []uint32{
	4990250, 22365309, 21407061, 24005841, 19108133, 24265765, 14882906, 15989594,
	15521590, 8940574, 9033418, 2673414, 26775961, 14683985, 8767274, 7109242,
	12707246, 994998, 21842305, 14255953, 24085733, 5532030, 23940901, 18045917,
	3560214, 24204993, 50324, 15000750, 8425214, 8582218, 1048794, 19500129,
	27556825, 17381005, 23392101, 8288626, 16128922, 309437, 23832789, 7624090,
	16266302, 25173329, 23401173, 571730, 7856082, 25810797, 24685825, 15290362,
	13175738, 25834349, 3598926,
}

func init() {
	key := "runs"
	perfCmd.Flags().Int(key, 1000, util.WrapString("How many times each benchmark processes the preference set"))

	key = "thread-counts"
	perfCmd.Flags().String(key, "1,2,4,8", util.WrapString("Comma separated numbers of goroutines to run every benchmark with"))

	key = "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. index,get)"))

	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

// perfBenchmark processes the preference set once
type perfBenchmark struct {
	name string
	run  func(e *smx.Engine) error
}

var perfBenchmarks = []perfBenchmark{
	{name: "index", run: indexSet},
	{name: "get", run: getSet},
	{name: "get-row", run: getRows},
}

// perfResult is the outcome of one benchmark with one thread count
type perfResult struct {
	test    string
	threads int
	elapsed time.Duration
	timer   gometrics.Timer
	// operations per worker, to show how evenly the work was shared
	perWorker *xsync.MapOf[int, int64]
}

func runPerf(e *smx.Engine, config *common.EngineConfig, _ []string) error {
	runs := viper.GetInt("runs")
	if runs < 1 {
		return errors.Newf("runs must be positive, got %d", runs)
	}
	threadCounts, err := parseThreadCounts(viper.GetString("thread-counts"))
	if err != nil {
		return err
	}
	skip := strings.Split(viper.GetString("skip"), ",")

	fmt.Println("Performance testing tool for the matrix engine")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Runs: %d, set size: %d\n", runs, len(perfSet))
	fmt.Println()

	registry := gometrics.NewRegistry()
	results := make([]perfResult, 0, len(perfBenchmarks)*len(threadCounts))

	fmt.Printf("%-12s%-10s%-14s%-14s%-14s%-14s%s\n", "test", "threads", "sets/sec", "mean", "p50", "p99", "spread")
	for _, bench := range perfBenchmarks {
		if shouldSkip(skip, bench.name) {
			fmt.Printf("%-12sskipped\n", bench.name)
			continue
		}
		for _, threads := range threadCounts {
			result, err := runBenchmark(e, registry, bench, threads, runs)
			if err != nil {
				return errors.Wrapf(err, "benchmark %s", bench.name)
			}
			results = append(results, result)
			printResult(result)
		}
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return errors.Wrap(err, "failed to export results to CSV")
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runBenchmark processes the set runs times, split over the given number of goroutines
func runBenchmark(e *smx.Engine, registry gometrics.Registry, bench perfBenchmark, threads, runs int) (perfResult, error) {
	result := perfResult{
		test:      bench.name,
		threads:   threads,
		timer:     gometrics.GetOrRegisterTimer(fmt.Sprintf("%s.%d", bench.name, threads), registry),
		perWorker: xsync.NewMapOf[int, int64](),
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := time.Now()
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// runs are dealt out round robin
			for i := w; i < runs; i += threads {
				t := time.Now()
				if err := bench.run(e); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				result.timer.UpdateSince(t)
				result.perWorker.Compute(w, func(old int64, _ bool) (int64, bool) {
					return old + 1, false
				})
			}
		}(w)
	}
	wg.Wait()
	result.elapsed = time.Since(start)

	return result, firstErr
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// indexSet increments every ordered pair of the preference set
func indexSet(e *smx.Engine) error {
	for _, a := range perfSet {
		for _, b := range perfSet {
			if _, err := e.Incr(a, b, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// getSet reads every ordered pair of the preference set
func getSet(e *smx.Engine) error {
	for _, a := range perfSet {
		for _, b := range perfSet {
			if _, err := e.Get(a, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// getRows copies out the row of every item of the preference set
func getRows(e *smx.Engine) error {
	for _, a := range perfSet {
		if _, err := e.GetRow(a, len(perfSet)); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(skip []string, test string) bool {
	for _, s := range skip {
		if strings.TrimSpace(s) == test {
			return true
		}
	}
	return false
}

func parseThreadCounts(s string) ([]int, error) {
	var counts []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 {
			return nil, errors.Newf("invalid thread count %q", field)
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, errors.New("no thread counts given")
	}
	return counts, nil
}

// spread summarizes how many sets each worker processed
func (r perfResult) spread() mutil.Stats {
	counts := make([]float64, 0, r.threads)
	r.perWorker.Range(func(_ int, n int64) bool {
		counts = append(counts, float64(n))
		return true
	})
	return mutil.NewStats(counts)
}

func (r perfResult) setsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.elapsed.Seconds()
}

// printResult prints the result of a benchmark in a formatted way
func printResult(r perfResult) {
	snapshot := r.timer.Snapshot()
	spread := r.spread()
	fmt.Printf("%-12s%-10d%-14.0f%-14s%-14s%-14s%.0f-%.0f (sd %.1f)\n",
		r.test,
		r.threads,
		r.setsPerSec(),
		time.Duration(snapshot.Mean()).Round(time.Microsecond),
		time.Duration(snapshot.Percentile(0.5)).Round(time.Microsecond),
		time.Duration(snapshot.Percentile(0.99)).Round(time.Microsecond),
		spread.Min, spread.Max, spread.StdDeviation,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.EngineConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"Test", "Threads", "Sets", "SetsPerSec", "MeanNs", "P50Ns", "P99Ns",
		"File", "WriteBack", "MemoryLimitMB", "IndexSize", "RowSize",
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}

	for _, r := range results {
		snapshot := r.timer.Snapshot()
		row := []string{
			r.test,
			strconv.Itoa(r.threads),
			strconv.FormatInt(snapshot.Count(), 10),
			fmt.Sprintf("%.0f", r.setsPerSec()),
			fmt.Sprintf("%.0f", snapshot.Mean()),
			fmt.Sprintf("%.0f", snapshot.Percentile(0.5)),
			fmt.Sprintf("%.0f", snapshot.Percentile(0.99)),
			config.Path,
			config.WriteBack,
			strconv.FormatInt(config.MemoryLimitMB, 10),
			strconv.FormatUint(uint64(config.IndexSize), 10),
			strconv.FormatUint(uint64(config.RowSize), 10),
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrapf(err, "failed to write row for test %s", r.test)
		}
	}

	writer.Flush()
	return writer.Error()
}
