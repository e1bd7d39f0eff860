package kv

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/dLog/cmd/util"
	"github.com/gocarina/gocsv"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dLog",
		Long:    "Runs a set of parallel benchmarks against the log in --data-dir. Use a scratch directory, the benchmark keys are deleted afterwards but stay in the log until the next compaction.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// perfTest is one benchmark of the perf command
type perfTest struct {
	name    string
	prepare bool                          // write every key once before the benchmark
	op      func(key string, i int) error // a single timed operation
}

// perfResult is one row of the result table and the CSV export
type perfResult struct {
	Test             string  `csv:"Test"`
	Skipped          bool    `csv:"Skipped"`
	NsPerOp          float64 `csv:"NsPerOp"`
	DurationPerOp    string  `csv:"DurationPerOp"`
	OpsPerSec        float64 `csv:"OpsPerSec"`
	P50              string  `csv:"P50"`
	P99              string  `csv:"P99"`
	Errors           int64   `csv:"Errors"`
	DataDir          string  `csv:"DataDir"`
	MaxSegmentSize   string  `csv:"MaxSegmentSize"`
	SyncWrites       bool    `csv:"SyncWrites"`
	Compress         bool    `csv:"Compress"`
	Threads          int     `csv:"Threads"`
	LargeValueSizeKB int     `csv:"LargeValueSizeKB"`
	Keys             int     `csv:"KeysCount"`
}

func perfTests() []perfTest {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	return []perfTest{
		{name: "set", op: func(key string, _ int) error {
			return kvStore.Set(key, []byte("test"))
		}},
		{name: "set-large", op: func(key string, _ int) error {
			return kvStore.Set(key, largeValue)
		}},
		{name: "get", prepare: true, op: func(key string, _ int) error {
			_, _, err := kvStore.Get(key)
			return err
		}},
		{name: "delete", prepare: true, op: func(key string, _ int) error {
			return kvStore.Delete(key)
		}},
		{name: "has-not", op: func(key string, _ int) error {
			_, err := kvStore.Has(key + "-missing")
			return err
		}},
		{name: "mixed", prepare: true, op: func(key string, i int) error {
			var err error
			switch i % 4 {
			case 0: // set
				err = kvStore.Set(key, []byte("test"))
			case 1: // get
				_, _, err = kvStore.Get(key)
			case 2: // delete
				err = kvStore.Delete(key)
			case 3: // has
				_, err = kvStore.Has(key)
			}
			return err
		}},
	}
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dLog")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(kvConfig.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	results := make([]*perfResult, 0)
	for _, test := range perfTests() {
		result := runPerfTest(test)
		results = append(results, result)
		printResult(result)
	}

	// a final compaction removes the benchmark keys from disk
	if !shouldSkip("compact") {
		start := time.Now()
		if err := kvStore.Compact(); err != nil {
			log.Printf("(compact) - error compacting: %v\n", err)
		}
		fmt.Printf("%-20s%s\n", "compact", time.Since(start).Round(time.Microsecond))
	}

	// Write results to csv if requested
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runPerfTest runs one benchmark and collects throughput and latency percentiles
func runPerfTest(test perfTest) *perfResult {
	result := &perfResult{
		Test:             test.name,
		DataDir:          kvConfig.DataDir,
		MaxSegmentSize:   bytefmt.ByteSize(kvConfig.MaxSegmentSize),
		SyncWrites:       kvConfig.SyncWrites,
		Compress:         kvConfig.Compress,
		Threads:          perfNumThreads,
		LargeValueSizeKB: perfLargeValueSizeKB,
		Keys:             perfKeySpread,
	}
	if shouldSkip(test.name) {
		result.Skipped = true
		return result
	}

	timer := gometrics.NewTimer()
	failures := gometrics.NewCounter()
	getKey, iter := getKeys(test.name)

	if test.prepare {
		iter(func(k string) {
			if err := kvStore.Set(k, []byte("test")); err != nil {
				log.Printf("(%s) - error setting key: %v\n", test.name, err)
			}
		})
	}

	bench := testing.Benchmark(func(b *testing.B) {
		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := kvStore.Delete(k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", test.name, err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := test.op(getKey(counter), counter); err != nil {
					failures.Inc(1)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	if bench.NsPerOp() == 0 {
		result.Skipped = true
		return result
	}

	nsPerOp := math.Max(float64(bench.NsPerOp()), 1) // prevent division by zero
	percentiles := timer.Percentiles([]float64{0.5, 0.99})

	result.NsPerOp = nsPerOp
	result.DurationPerOp = time.Duration(nsPerOp).String()
	result.OpsPerSec = 1.0 / (nsPerOp / 1e9)
	result.P50 = time.Duration(percentiles[0]).String()
	result.P99 = time.Duration(percentiles[1]).String()
	result.Errors = failures.Count()
	return result
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(result *perfResult) {
	if result.Skipped {
		fmt.Printf("%-20sskipped\n", result.Test)
		return
	}

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s",
		result.Test, result.NsPerOp, result.DurationPerOp, result.OpsPerSec, result.P50, result.P99)
	if result.Errors > 0 {
		fmt.Printf("\t%d errors", result.Errors)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []*perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	return gocsv.MarshalFile(&results, file)
}
