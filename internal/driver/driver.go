// Package driver implements the execution driver (spec §4.6): the
// load-one-block loop that drives the walk manager and the static block
// store to completion.
//
// Grounded on the teacher's replication engine worker-pool loop
// (internal/replication/replication_engine_v1.go: pick unit of work, do it,
// report, repeat) and on the aistore jogger.go / 0xReLogic compaction.go
// reference files for errgroup-based parallel fan-out over a slice, adapted
// here from "replicate one object" to "advance every walk record in one
// block's snapshot."
package driver

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkmgr"
	"github.com/vertexwalk/engine/internal/walkrec"
	"github.com/vertexwalk/engine/pkg/walkapp"
)

// Driver wires a static block store, a walk manager, and an application
// kernel together and runs the engine to completion.
type Driver struct {
	Store   *csrstore.Store
	Manager *walkmgr.Manager
	Kernel  walkapp.Kernel
	Threads int
	RunID   string

	log zerolog.Logger
}

// New constructs a Driver. threads must match the NumThreads the Manager was
// built with, since the snapshot is statically chunked across that many
// goroutines. Every Driver gets a fresh run id, tagged onto its logger and
// every span it starts, so a run's traces and logs can be correlated after
// the fact.
func New(store *csrstore.Store, manager *walkmgr.Manager, kernel walkapp.Kernel, threads int, log zerolog.Logger) *Driver {
	runID := uuid.NewString()
	return &Driver{
		Store:   store,
		Manager: manager,
		Kernel:  kernel,
		Threads: threads,
		RunID:   runID,
		log:     log.With().Str("component", "driver").Str("run_id", runID).Logger(),
	}
}

// Run seeds the engine and then repeatedly loads the chosen block, advances
// every walk resident in it, and releases it, until no walks remain
// anywhere (spec §4.6). It upholds invariant I1 (only one block's CSR is
// resident at a time) by loading exactly one block per iteration and
// discarding it before the next load.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Kernel.SeedWalks(d.Manager); err != nil {
		return err
	}

	for d.Manager.GrandTotal() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.runIteration(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runIteration(ctx context.Context) error {
	p := d.Manager.ChooseBlock(ctx)
	if p < 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.Tracer("driver"), "driver.runIteration",
		attribute.Int("block", p), attribute.String("run_id", d.RunID))
	defer span.End()

	lo, hi := d.Store.BlockRange(p)
	if err := d.Kernel.BeforeBlock(p, lo, hi, d.Manager); err != nil {
		return err
	}

	block, err := d.Store.LoadBlock(ctx, p)
	if err != nil {
		d.Manager.RecordBlockLoadError(err)
		return err
	}
	d.Manager.RecordBlockLoaded(int64(len(block.BegPos))*8 + int64(len(block.Csr))*4)

	records, err := d.Manager.SnapshotWalks(p)
	if err != nil {
		return err
	}

	if err := d.advanceAll(ctx, p, block, records); err != nil {
		return err
	}

	if err := d.Kernel.AfterBlock(p, lo, hi, d.Manager); err != nil {
		return err
	}
	d.Manager.ClearBlock(p)
	span.SetAttributes(attribute.Int("records", len(records)))
	return nil
}

// advanceAll runs application.advance for every record in records, split
// statically across d.Threads goroutines (spec §4.6 step 5, §5 "static
// chunking"). A failure in any goroutine aborts the whole iteration — per
// spec §7, every engine error is fatal to the run.
func (d *Driver) advanceAll(ctx context.Context, p int, block *csrstore.CSR, records []walkrec.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	threads := d.Threads
	if threads < 1 {
		threads = 1
	}
	chunk := (len(records) + threads - 1) / threads
	if chunk == 0 {
		return nil
	}
	for t := 0; t < threads; t++ {
		start := t * chunk
		if start >= len(records) {
			break
		}
		end := start + chunk
		if end > len(records) {
			end = len(records)
		}
		threadID := t
		batch := records[start:end]
		g.Go(func() error {
			for _, r := range batch {
				if err := d.Kernel.Advance(r, p, block, d.Manager, threadID); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
