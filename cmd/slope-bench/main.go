package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/common/log"
	"github.com/slopedb/slope/pkg/config"
	"github.com/slopedb/slope/pkg/index"
)

const (
	defaultKeyCount  = 1000000
	defaultValueSize = 100
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (read, write, scan, mixed, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to bulk-load")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	workers       = flag.Int("workers", 4, "Number of concurrent workers")
	background    = flag.Bool("background", true, "Run background maintenance during the benchmark")
	bgThreads     = flag.Int("bg-threads", 1, "Number of background maintenance threads")
	scanSize      = flag.Int("scan-size", 100, "Number of entries per scan")
	snapshotFile  = flag.String("snapshot", "", "Write a snapshot of the final index contents to this file")
	verbose       = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger := log.NewStandardLogger(log.WithLevel(log.LevelWarn))
	if *verbose {
		logger = log.NewStandardLogger(log.WithLevel(log.LevelDebug))
	}

	fmt.Printf("Bulk-loading %d keys with %d-byte values...\n", *numKeys, *valueSize)
	keys := make([]buffer.Key, *numKeys)
	values := make([]buffer.Value, *numKeys)
	for i := range keys {
		// Spaced keys leave gaps for benchmark inserts
		keys[i] = buffer.Key(i) * 16
		values[i] = makeValue(uint64(i))
	}

	idx, err := index.New(keys, values, *workers, *bgThreads,
		index.WithConfig(config.NewDefaultConfig()),
		index.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build index: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	if *background {
		if err := idx.StartBackgroundMaintenance(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start maintenance: %v\n", err)
			os.Exit(1)
		}
	}

	var results []string
	results = append(results, fmt.Sprintf("Benchmark Report (%s)", time.Now().Format(time.RFC3339)))
	results = append(results, fmt.Sprintf("Keys: %d, Value Size: %d bytes, Workers: %d, Duration: %s, Background: %v",
		*numKeys, *valueSize, *workers, *duration, *background))

	for _, typ := range strings.Split(*benchmarkType, ",") {
		switch strings.ToLower(typ) {
		case "read":
			results = append(results, runBenchmark(idx, "Read", readOp))
		case "write":
			results = append(results, runBenchmark(idx, "Write", writeOp))
		case "scan":
			results = append(results, runBenchmark(idx, "Scan", scanOp))
		case "mixed":
			results = append(results, runBenchmark(idx, "Mixed", mixedOp))
		case "all":
			results = append(results, runBenchmark(idx, "Read", readOp))
			results = append(results, runBenchmark(idx, "Write", writeOp))
			results = append(results, runBenchmark(idx, "Scan", scanOp))
			results = append(results, runBenchmark(idx, "Mixed", mixedOp))
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
	}

	if *background {
		stopMaintenance(idx)
	}

	size := idx.ReportSize()
	results = append(results, fmt.Sprintf("Index size: %d bytes allocated, %d bytes used", size.Allocated, size.Used))

	fmt.Println()
	for _, r := range results {
		fmt.Println(r)
	}

	if *snapshotFile != "" {
		if err := writeSnapshot(idx, *snapshotFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshot written to %s\n", *snapshotFile)
	}
}

// opFunc performs one benchmark operation with the worker's own RNG
type opFunc func(idx *index.Index, rng *rand.Rand, workerID int)

// runBenchmark drives every worker through op until the duration
// elapses and reports aggregate throughput.
func runBenchmark(idx *index.Index, name string, op opFunc) string {
	fmt.Printf("Running %s benchmark...\n", name)

	var total atomic.Uint64
	stop := make(chan struct{})
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			ops := uint64(0)
			for {
				select {
				case <-stop:
					total.Add(ops)
					return
				default:
					op(idx, rng, workerID)
					ops++
				}
			}
		}(w)
	}

	time.Sleep(*duration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	ops := total.Load()
	return fmt.Sprintf("%s: %d ops in %.2fs (%.0f ops/sec)",
		name, ops, elapsed.Seconds(), float64(ops)/elapsed.Seconds())
}

func readOp(idx *index.Index, rng *rand.Rand, workerID int) {
	key := buffer.Key(rng.Intn(*numKeys)) * 16
	_, _ = idx.Get(key, workerID)
}

func writeOp(idx *index.Index, rng *rand.Rand, workerID int) {
	key := buffer.Key(rng.Intn(*numKeys * 16))
	_ = idx.Put(key, makeValue(uint64(key)), workerID)
}

func scanOp(idx *index.Index, rng *rand.Rand, workerID int) {
	begin := buffer.Key(rng.Intn(*numKeys)) * 16
	_, _ = idx.Scan(begin, *scanSize, workerID)
}

// mixedOp approximates a read-heavy workload: 80% reads, 15% writes,
// 5% scans.
func mixedOp(idx *index.Index, rng *rand.Rand, workerID int) {
	switch r := rng.Intn(100); {
	case r < 80:
		readOp(idx, rng, workerID)
	case r < 95:
		writeOp(idx, rng, workerID)
	default:
		scanOp(idx, rng, workerID)
	}
}

// stopMaintenance shuts down background maintenance while keeping
// worker progress announcements flowing: the reclamation barrier waits
// on idle workers, so a stop with no traffic could block forever.
func stopMaintenance(idx *index.Index) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				for w := 0; w < *workers; w++ {
					_, _ = idx.Get(0, w)
				}
			}
		}
	}()

	if err := idx.StopBackgroundMaintenance(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop maintenance: %v\n", err)
	}
	close(done)
	wg.Wait()
}

func makeValue(seed uint64) buffer.Value {
	v := make(buffer.Value, *valueSize)
	for i := range v {
		v[i] = byte(seed + uint64(i))
	}
	return v
}

func writeSnapshot(idx *index.Index, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return idx.Dump(f, 0)
}
