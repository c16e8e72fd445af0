// Package main provides the entry point for gemmsim.
// gemmsim is a cycle-level simulator of a GEMM memory orchestrator:
// tile scheduling, bulk-to-local prefetch, and banked local-memory
// arbitration under a single synchronous clock.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/sarchlab/gemmsim/config"
	"github.com/sarchlab/gemmsim/timing/system"
)

var (
	configPath = flag.String("config", "", "Path to configuration JSON file")
	matrixM    = flag.Int("m", 0, "Matrix M dimension (overrides config)")
	matrixN    = flag.Int("n", 0, "Matrix N dimension (overrides config)")
	matrixK    = flag.Int("k", 0, "Matrix K dimension (overrides config)")
	buffering  = flag.String("buffering", "", "Buffering mode: single, double_a, double_b, double_ab")
	maxTicks   = flag.Uint64("max-ticks", 0, "Abort the run after this many ticks (0 = default bound)")
	seed       = flag.Int64("seed", 1, "Seed for the generated operand data")
	verify     = flag.Bool("verify", true, "Check the result against a host-computed reference")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *matrixM != 0 {
		cfg.MatrixM = *matrixM
	}
	if *matrixN != 0 {
		cfg.MatrixN = *matrixN
	}
	if *matrixK != 0 {
		cfg.MatrixK = *matrixK
	}
	if *buffering != "" {
		cfg.Buffering = *buffering
	}

	sys, err := system.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	a := randomMatrix(rng, cfg.MatrixM*cfg.MatrixK)
	b := randomMatrix(rng, cfg.MatrixK*cfg.MatrixN)
	sys.LoadOperandA(a)
	sys.LoadOperandB(b)

	if err := sys.Run(*maxTicks); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	counters := sys.Counters()
	beatBytes := uint64(cfg.BeatBytes)
	fmt.Printf("GEMM %dx%dx%d, tile %dx%dx%d, %s buffering\n",
		cfg.MatrixM, cfg.MatrixN, cfg.MatrixK,
		cfg.TileM, cfg.TileN, cfg.TileK, cfg.Buffering)
	fmt.Printf("Cycles:          %s\n", humanize.Comma(int64(counters.Cycles)))
	fmt.Printf("Idle cycles:     %s\n", humanize.Comma(int64(counters.IdleCycles)))
	fmt.Printf("Tiles:           %d\n", counters.Tiles)
	fmt.Printf("Bulk read:       %s (%d beats)\n",
		humanize.Bytes(counters.BulkReadBeats*beatBytes), counters.BulkReadBeats)
	fmt.Printf("Bulk written:    %s (%d beats)\n",
		humanize.Bytes(counters.BulkWriteBeats*beatBytes), counters.BulkWriteBeats)

	if *verify {
		if cfg.MatrixN != cfg.TileN || cfg.MatrixK != cfg.TileK {
			fmt.Println("Verify:          skipped (requires N == tile N and K == tile K)")
			return
		}
		got := sys.ReadResult(cfg.MatrixM * cfg.MatrixN)
		want := referenceGEMM(a, b, cfg.MatrixM, cfg.MatrixN, cfg.MatrixK)
		if err := compareResults(got, want); err != nil {
			fmt.Fprintf(os.Stderr, "Verify:          FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Verify:          OK")
	}
}

// randomMatrix fills a flat matrix with small values that stay exact
// across float16 round trips.
func randomMatrix(rng *rand.Rand, count int) []float64 {
	m := make([]float64, count)
	for i := range m {
		m[i] = float64(rng.Intn(16)) - 8
	}
	return m
}

// referenceGEMM computes C = A*B on the host, accumulating in float64
// like the compute model.
func referenceGEMM(a, b []float64, m, n, k int) []float64 {
	c := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			for j := 0; j < n; j++ {
				c[i*n+j] += av * b[l*n+j]
			}
		}
	}
	return c
}

func compareResults(got, want []float64) error {
	for i := range want {
		diff := got[i] - want[i]
		if diff > 1e-3 || diff < -1e-3 {
			return fmt.Errorf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
	return nil
}
