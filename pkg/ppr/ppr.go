// Package ppr is the reference application-level walk kernel: personalized
// PageRank by Monte-Carlo random walk. It implements pkg/walkapp.Kernel and
// plays the role spec.md calls an external collaborator, giving the engine a
// concrete, runnable instance instead of leaving that surface unimplemented.
//
// Grounded on the teacher's tenant usage-tracker shape (pkg/tenantmanager.go:
// atomic per-key counters updated from concurrent callers, read back for a
// report), adapted from per-tenant byte counters to per-vertex visit counts.
package ppr

import (
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkrec"
	"github.com/vertexwalk/engine/pkg/walkapp"
)

// Config configures a Kernel.
type Config struct {
	// Sources holds the graph vertex id for every seed, in source_id order.
	Sources []uint64
	// WalksPerSource is R: how many independent walks start at each source.
	WalksPerSource int
	// MaxHop is L: the per-walk hop bound.
	MaxHop uint32
	// RestartProb is the per-hop probability a walk stops and is absorbed,
	// the Monte-Carlo PPR analogue of teleporting back to the source
	// distribution. RestartProb == 0 means walks only stop at MaxHop or at
	// a dead end (spec scenario S1/S2/S3 all use RestartProb 0).
	RestartProb float64
	// NumThreads must match the driver's thread count; Advance is called
	// from exactly that many goroutines and each gets its own *rand.Rand so
	// sampling never contends on a shared source.
	NumThreads int
	// RandSeed seeds every per-thread rand.Source deterministically,
	// offset by thread id, so repeated runs over the same graph and config
	// are reproducible.
	RandSeed int64
}

// Kernel implements walkapp.Kernel and walkapp.Seeder glue for personalized
// PageRank over a static CSR store.
type Kernel struct {
	store   *csrstore.Store
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	rngs   []*rand.Rand
	visits []int64 // atomic, indexed by absolute vertex id
}

// New constructs a Kernel. store is used only for its vertex count (to size
// the visit counters) and for BlockOf/BlockRange lookups when seeding and
// when a walk's next vertex crosses a block boundary; the CSR data itself
// flows through Advance's block parameter, never held by the kernel.
func New(store *csrstore.Store, cfg Config, log zerolog.Logger, metrics *telemetry.Metrics) *Kernel {
	rngs := make([]*rand.Rand, cfg.NumThreads)
	for t := range rngs {
		rngs[t] = rand.New(rand.NewSource(cfg.RandSeed + int64(t)))
	}
	return &Kernel{
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "ppr").Logger(),
		metrics: metrics,
		rngs:    rngs,
		visits:  make([]int64, store.NumVertices()),
	}
}

// SeedWalks seeds cfg.WalksPerSource walks at each configured source vertex,
// per spec §4.7's seed_walks contract.
func (k *Kernel) SeedWalks(seeder walkapp.Seeder) error {
	for i, v := range k.cfg.Sources {
		p, err := k.store.BlockOf(v)
		if err != nil {
			return err
		}
		lo, _ := k.store.BlockRange(p)
		localOffset := uint32(v - lo)
		for j := 0; j < k.cfg.WalksPerSource; j++ {
			if err := seeder.Seed(i, p, localOffset); err != nil {
				return err
			}
		}
	}
	return nil
}

// BeforeBlock and AfterBlock are no-ops for this kernel; it carries no
// per-block state beyond what the driver already owns.
func (k *Kernel) BeforeBlock(p int, lo, hi uint64, manager walkapp.Manager) error { return nil }
func (k *Kernel) AfterBlock(p int, lo, hi uint64, manager walkapp.Manager) error  { return nil }

// Advance drives one walk hop by hop while it stays inside block, visiting
// each vertex it passes through, until it terminates (hop bound, restart
// draw, or dead end) or crosses into another block, at which point it hands
// off via manager.Move and returns (spec §4.6 step 5).
func (k *Kernel) Advance(record walkrec.Record, p int, block *csrstore.CSR, manager walkapp.Manager, threadID int) error {
	rng := k.rngs[threadID]
	r := record

	for {
		source, local, hop := walkrec.Decode(r)
		current := block.Lo + uint64(local)
		k.visit(source, current, threadID, hop)

		if hop+1 >= k.cfg.MaxHop {
			k.finished("max_hop")
			return nil
		}
		if k.cfg.RestartProb > 0 && rng.Float64() < k.cfg.RestartProb {
			k.finished("manual")
			return nil
		}

		neighbours := block.Neighbours(current)
		if len(neighbours) == 0 {
			k.finished("dead_end")
			return nil
		}
		next := uint64(neighbours[rng.Intn(len(neighbours))])
		newHop := hop + 1

		if next >= block.Lo && next < block.Hi {
			advanced, err := walkrec.Encode(source, uint32(next-block.Lo), newHop)
			if err != nil {
				return err
			}
			r = advanced
			continue
		}

		advanced, err := r.WithHop(newHop)
		if err != nil {
			return err
		}
		newBlock, err := k.store.BlockOf(next)
		if err != nil {
			return err
		}
		newLo, _ := k.store.BlockRange(newBlock)
		if err := manager.Move(advanced, newBlock, threadID, uint32(next-newLo)); err != nil {
			return err
		}
		manager.SetMinHop(newBlock, newHop)
		return nil
	}
}

func (k *Kernel) visit(source uint32, vertex uint64, threadID int, hop uint32) {
	atomic.AddInt64(&k.visits[vertex], 1)
}

func (k *Kernel) finished(reason string) {
	if k.metrics != nil {
		k.metrics.WalksFinished.WithLabelValues(reason).Inc()
	}
}

// Count is one entry in a TopK report.
type Count struct {
	Vertex uint64
	Visits int64
}

// TopK returns the n vertices with the highest visit counts, descending,
// ties broken by vertex id ascending. This is the minimal reporter
// SPEC_FULL.md assigns to this package: spec.md places the full top-K
// reporter out of scope for the engine core.
func (k *Kernel) TopK(n int) []Count {
	counts := make([]Count, len(k.visits))
	for v := range k.visits {
		counts[v] = Count{Vertex: uint64(v), Visits: atomic.LoadInt64(&k.visits[v])}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Visits != counts[j].Visits {
			return counts[i].Visits > counts[j].Visits
		}
		return counts[i].Vertex < counts[j].Vertex
	})
	if n < len(counts) {
		counts = counts[:n]
	}
	return counts
}

// Visits returns the current visit count for vertex v.
func (k *Kernel) Visits(v uint64) int64 { return atomic.LoadInt64(&k.visits[v]) }
