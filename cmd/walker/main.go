// cmd/walker runs personalized PageRank random walks over a graph already
// preprocessed into CSR blocks by cmd/ingest, reporting the top-K most
// visited vertices when the run completes.
//
// Grounded on the teacher's cmd/server/main.go for process wiring shape
// (parse config, init tracing, build the engine, install a signal handler,
// shut down tracing on exit) and on ja7ad-consumption/cmd/consumption/main.go
// for the cobra/pflag command structure.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vertexwalk/engine/internal/config"
	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/driver"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkerr"
	"github.com/vertexwalk/engine/internal/walkmgr"
	"github.com/vertexwalk/engine/pkg/ppr"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	var sources []int
	var topK int

	root := &cobra.Command{
		Use:   "walker",
		Short: "Run personalized PageRank random walks over a preprocessed graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cfg, sources, topK)
		},
	}
	config.BindFlags(root, &cfg)
	root.Flags().IntSliceVar(&sources, "sources", nil,
		"explicit seed vertex ids; overrides firstsource/numsources when set")
	root.Flags().IntVar(&topK, "topk", 10, "number of vertices to print in the final report")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

func execute(cfg config.Config, explicitSources []int, topK int) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty)

	if cfg.TracingEnabled {
		if err := telemetry.InitTracing(cfg.JaegerEndpoint); err != nil {
			log.Warn().Err(err).Msg("tracing init failed, continuing without it")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("tracing shutdown failed")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer metricsServer.Close()
	}

	store, err := csrstore.Open(cfg.File, log)
	if err != nil {
		return err
	}

	walksDir := filepath.Join(cfg.File, "walks")
	if err := os.MkdirAll(walksDir, 0o755); err != nil {
		return walkerr.MissingFile("cmd/walker.execute", err)
	}

	manager := walkmgr.New(walkmgr.Config{
		NumBlocks:      store.NumBlocks(),
		NumThreads:     cfg.ExecThreads,
		WalkBufferSize: cfg.WalkBufferSize,
		WalksDir:       walksDir,
		Policy:         cfg.Policy,
		Prob:           cfg.Prob,
		MaxHop:         uint32(cfg.MaxWalkLength),
	}, log, metrics)

	kernel := ppr.New(store, ppr.Config{
		Sources:        seedVertices(cfg, explicitSources),
		WalksPerSource: cfg.WalksPerSource,
		MaxHop:         uint32(cfg.MaxWalkLength),
		NumThreads:     cfg.ExecThreads,
		RandSeed:       1,
	}, log, metrics)

	d := driver.New(store, manager, kernel, cfg.ExecThreads, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("received shutdown signal, finishing the current block then stopping")
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("run stopped early by signal")
			return nil
		}
		return err
	}

	report(kernel.TopK(topK))
	return nil
}

func seedVertices(cfg config.Config, explicit []int) []uint64 {
	if len(explicit) > 0 {
		out := make([]uint64, len(explicit))
		for i, v := range explicit {
			out[i] = uint64(v)
		}
		return out
	}
	out := make([]uint64, cfg.NumSources)
	for i := range out {
		out[i] = uint64(cfg.FirstSource + i)
	}
	return out
}

func report(top []ppr.Count) {
	fmt.Println("vertex\tvisits")
	for _, c := range top {
		fmt.Printf("%d\t%d\n", c.Vertex, c.Visits)
	}
}

// exitCode maps a fatal engine error to the process exit status, per spec
// §7: 0 on success, non-zero on QueueWriteError/MissingBlock/Corrupt. The
// specific non-zero values are this CLI's own convention, not part of the
// core engine's contract.
func exitCode(err error) int {
	switch {
	case walkerr.IsKind(err, walkerr.KindQueueWriteError):
		return 2
	case walkerr.IsKind(err, walkerr.KindMissingFile):
		return 3
	case walkerr.IsKind(err, walkerr.KindCorrupt):
		return 4
	case walkerr.IsKind(err, walkerr.KindOverflowEncoding):
		return 5
	case walkerr.IsKind(err, walkerr.KindConfigInvalid):
		return 6
	default:
		return 1
	}
}
