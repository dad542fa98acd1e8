package cli

import (
	"crypto/rand"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/secret"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		version     int
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:     "bench",
		Aliases: []string{"benchmark"},
		Short:   "Measure key derivation cost per digest version",
		Long: `Run concurrent scrypt derivations for each digest parameter version and report
throughput, latency and memory. Use it to size hash.max_concurrent and to
decide when a new parameter version is due.`,
		Example: `  keysmith bench
  keysmith bench --version 1 --duration 30s --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd.OutOrStdout(), version, duration, concurrency)
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Digest version to measure (default: all)")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "Test duration per version")
	cmd.Flags().IntVar(&concurrency, "concurrency", runtime.GOMAXPROCS(0), "Number of concurrent workers")

	return cmd
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// benchResult is the outcome of one version's run.
type benchResult struct {
	Params    hasher.Params
	Total     int64
	Errors    int64
	Latencies []time.Duration // sorted
	Elapsed   time.Duration
}

func (r benchResult) percentile(p int) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	return r.Latencies[len(r.Latencies)*p/100]
}

func benchVersions(only int) ([]hasher.Params, error) {
	if only != 0 {
		p, ok := hasher.DefaultParams[only]
		if !ok {
			return nil, fmt.Errorf("%w: %d", hasher.ErrUnknownVersion, only)
		}
		return []hasher.Params{p}, nil
	}
	out := make([]hasher.Params, 0, len(hasher.DefaultParams))
	for _, p := range hasher.DefaultParams {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// benchParams runs derivations with p on concurrency workers until
// duration elapses.
func benchParams(p hasher.Params, duration time.Duration, concurrency int) (benchResult, error) {
	gen, err := secret.New(secret.DefaultTag, secret.DefaultPrefixLen)
	if err != nil {
		return benchResult{}, err
	}
	s, err := gen.Generate()
	if err != nil {
		return benchResult{}, err
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return benchResult{}, err
	}

	var (
		totalOps    atomic.Int64
		totalErrors atomic.Int64
		latencies   = make([]time.Duration, 0, 1024)
		latencyMu   sync.Mutex
	)

	start := time.Now()
	deadline := start.Add(duration)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				opStart := time.Now()
				_, err := hasher.Derive(s.Raw, salt, p)
				elapsed := time.Since(opStart)

				if err != nil {
					totalErrors.Add(1)
					continue
				}
				totalOps.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return benchResult{
		Params:    p,
		Total:     totalOps.Load(),
		Errors:    totalErrors.Load(),
		Latencies: latencies,
		Elapsed:   time.Since(start),
	}, nil
}

func runBenchmark(out io.Writer, version int, duration time.Duration, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	versions, err := benchVersions(version)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Keysmith Hash Benchmark")
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Duration: %s per version | Concurrency: %d | CPUs: %d\n", duration, concurrency, runtime.NumCPU())
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out)

	for _, p := range versions {
		memBefore := captureMemStats()
		res, err := benchParams(p, duration, concurrency)
		if err != nil {
			return fmt.Errorf("benchmark v%d: %w", p.Version, err)
		}
		memAfter := captureMemStats()

		current := ""
		if p.Version == hasher.CurrentVersion {
			current = " (current)"
		}
		fmt.Fprintf(out, "Version %d%s: N=%d r=%d p=%d keylen=%d\n", p.Version, current, p.N, p.R, p.P, p.KeyLen)
		fmt.Fprintln(out, "-------")
		fmt.Fprintf(out, "  Derivations:    %d\n", res.Total)
		fmt.Fprintf(out, "  Errors:         %d\n", res.Errors)
		fmt.Fprintf(out, "  Per second:     %.1f\n", float64(res.Total)/res.Elapsed.Seconds())
		fmt.Fprintf(out, "  Memory/derive:  %s\n", formatBytes(uint64(128*p.N*p.R)))
		if len(res.Latencies) > 0 {
			fmt.Fprintf(out, "  Latency p50:    %s\n", res.percentile(50))
			fmt.Fprintf(out, "  Latency p95:    %s\n", res.percentile(95))
			fmt.Fprintf(out, "  Latency p99:    %s\n", res.percentile(99))
			fmt.Fprintf(out, "  Latency max:    %s\n", res.Latencies[len(res.Latencies)-1])
		}
		fmt.Fprintf(out, "  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
		fmt.Fprintf(out, "  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
		fmt.Fprintf(out, "  RSS (sys):      %s\n", formatBytes(memAfter.Sys))
		fmt.Fprintln(out)
	}

	return nil
}
