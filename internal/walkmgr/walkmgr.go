// Package walkmgr implements the walk manager (spec §4.5): the owner of
// every walk bucket and its per-block bookkeeping (total_walks, on_disk,
// min_hop), plus the block-selection policies the driver uses to decide
// what to load next.
//
// Grounded on the teacher's tenant manager (internal/tenant/tenantmanager_v3.go:
// sharded per-tenant counters behind a small manager API, atomic where the
// hot path demands it, mutex where it doesn't), adapted from tenant
// resource accounting to per-block walk accounting.
package walkmgr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vertexwalk/engine/internal/bucket"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkerr"
	"github.com/vertexwalk/engine/internal/walkrec"
)

// Policy selects which block the driver should load next.
type Policy string

const (
	// PolicyMinHop picks the block with the smallest min_hop.
	PolicyMinHop Policy = "min_hop"
	// PolicyMaxWalks picks the block with the most total walks.
	PolicyMaxWalks Policy = "max_walks"
	// PolicyMaxWeight picks argmax_p total_walks[p] / max(min_hop[p], 1).
	PolicyMaxWeight Policy = "max_weight"
	// PolicyProbMix mixes PolicyMinHop and PolicyMaxWalks with probability
	// Prob, per spec §9's resolution of the choose_block open question.
	PolicyProbMix Policy = "prob_mix"
)

// Config configures a Manager.
type Config struct {
	NumBlocks      int
	NumThreads     int
	WalkBufferSize int // per-thread, per-block in-memory bucket capacity
	WalksDir       string
	Policy         Policy
	Prob           float64 // PolicyProbMix: P(min-hop) vs P(max-walks)
	MaxHop         uint32  // L
	RandSource     rand.Source
}

type blockState struct {
	mu         sync.Mutex
	totalWalks int64
	onDisk     int64
	minHop     uint32
}

// Manager owns all buckets and per-block counters for one run.
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	blocks []*blockState
	// buckets[p] holds all threads' in-memory buffers and the shared disk
	// queue for block p.
	buckets []*bucket.Block

	mu         sync.Mutex // guards grandTotal and rng
	grandTotal int64
	rng        *rand.Rand
}

// New constructs a Manager for cfg.NumBlocks blocks and cfg.NumThreads
// threads. WalksDir must already exist (cmd/walker creates it inside the
// graph directory).
func New(cfg Config, log zerolog.Logger, metrics *telemetry.Metrics) *Manager {
	blocks := make([]*blockState, cfg.NumBlocks)
	buckets := make([]*bucket.Block, cfg.NumBlocks)
	for p := range blocks {
		blocks[p] = &blockState{minHop: math.MaxUint32}
		q := bucket.NewQueue(filepath.Join(cfg.WalksDir, walksFileName(p)))
		buckets[p] = bucket.NewBlock(p, cfg.NumThreads, cfg.WalkBufferSize, q, metrics)
	}
	src := cfg.RandSource
	if src == nil {
		src = rand.NewSource(1)
	}
	return &Manager{
		cfg:     cfg,
		log:     log.With().Str("component", "walkmgr").Logger(),
		metrics: metrics,
		blocks:  blocks,
		buckets: buckets,
		rng:     rand.New(src),
	}
}

func walksFileName(p int) string {
	return strconv.Itoa(p) + ".walks"
}

// RecordBlockLoaded increments the blocks-loaded counter and observes the
// bytes read (beg_pos + csr) for the load. Called by the driver once per
// iteration, right after a CSR load succeeds.
func (m *Manager) RecordBlockLoaded(bytesRead int64) {
	m.metrics.BlocksLoaded.Inc()
	m.metrics.BlockBytesRead.Observe(float64(bytesRead))
}

// RecordBlockLoadError increments the block-load-errors counter, labeled by
// the failing error's walkerr.Kind. Called by the driver when LoadBlock
// fails.
func (m *Manager) RecordBlockLoadError(err error) {
	kind, ok := walkerr.KindOf(err)
	if !ok {
		kind = "unknown"
	}
	m.metrics.BlockLoadErrors.WithLabelValues(string(kind)).Inc()
}

// GrandTotal returns Σ_p total_walks[p].
func (m *Manager) GrandTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grandTotal
}

// Seed encodes a walk at hop 0 and pushes it into thread 0's bucket for
// block p, per spec §4.5. Seeding always uses thread 0 because seed_walks
// runs before the parallel advance phase begins.
func (m *Manager) Seed(sourceID, p int, localOffset uint32) error {
	r, err := walkrec.Encode(uint32(sourceID), localOffset, 0)
	if err != nil {
		return err
	}
	if err := m.buckets[p].Push(0, r); err != nil {
		return err
	}
	bs := m.blocks[p]
	bs.mu.Lock()
	bs.totalWalks++
	bs.minHop = 0
	bs.mu.Unlock()

	m.mu.Lock()
	m.grandTotal++
	m.mu.Unlock()

	m.metrics.WalksSeeded.Inc()
	m.metrics.WalksActive.Inc()
	return nil
}

// Move rebases record onto newLocalOffset and pushes it into thread t's
// bucket for newBlock. Only the calling thread's own bucket is touched, so
// no lock is needed beyond what Push already takes (spec §5).
func (m *Manager) Move(record walkrec.Record, newBlock, t int, newLocalOffset uint32) error {
	rebased, err := record.Rebase(newLocalOffset)
	if err != nil {
		return err
	}
	if err := m.buckets[newBlock].Push(t, rebased); err != nil {
		return err
	}
	m.metrics.WalksMoved.Inc()
	return nil
}

// SetMinHop lowers min_hop[p] to hop if hop is smaller, under a critical
// section (spec §4.5, §5).
func (m *Manager) SetMinHop(p int, hop uint32) {
	bs := m.blocks[p]
	bs.mu.Lock()
	if hop < bs.minHop {
		bs.minHop = hop
	}
	bs.mu.Unlock()
}

// MinHop returns the current min_hop[p].
func (m *Manager) MinHop(p int) uint32 {
	bs := m.blocks[p]
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.minHop
}

// TotalWalks returns total_walks[p].
func (m *Manager) TotalWalks(p int) int64 {
	bs := m.blocks[p]
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.totalWalks
}

// SnapshotWalks consolidates disk and in-memory records for block p into one
// contiguous slice for driver consumption; its length equals total_walks[p]
// at the moment of the call.
func (m *Manager) SnapshotWalks(p int) ([]walkrec.Record, error) {
	records, err := m.buckets[p].DrainInto()
	if err != nil {
		return nil, err
	}
	bs := m.blocks[p]
	bs.mu.Lock()
	want := bs.totalWalks
	bs.mu.Unlock()
	if int64(len(records)) != want {
		return nil, walkerr.Corrupt("walkmgr.SnapshotWalks",
			fmt.Errorf("block %d snapshot has %d records, want %d", p, len(records), want))
	}
	return records, nil
}

// ClearBlock frees block p's snapshot bookkeeping, then recomputes
// total_walks for every block from on_disk + Σ_t in_mem, summing into
// grandTotal, per spec §4.5.
func (m *Manager) ClearBlock(p int) {
	bs := m.blocks[p]
	bs.mu.Lock()
	bs.totalWalks = 0
	bs.minHop = math.MaxUint32
	bs.mu.Unlock()

	m.recomputeTotals()
}

func (m *Manager) recomputeTotals() {
	var grand, onDiskTotal int64
	for p, bs := range m.blocks {
		inMem := int64(m.buckets[p].InMemCount())
		onDisk := m.buckets[p].OnDisk()
		total := onDisk + inMem
		bs.mu.Lock()
		bs.onDisk = onDisk
		bs.totalWalks = total
		bs.mu.Unlock()
		grand += total
		onDiskTotal += onDisk
	}
	m.mu.Lock()
	m.grandTotal = grand
	m.mu.Unlock()
	m.metrics.WalksActive.Set(float64(grand))
	m.metrics.WalksOnDisk.Set(float64(onDiskTotal))
}

// ChooseBlock selects the next block to execute under m.cfg.Policy. It never
// returns a block whose total_walks is zero while a non-empty block exists
// (spec testable property #10).
func (m *Manager) ChooseBlock(ctx context.Context) int {
	_, span := telemetry.StartSpan(ctx, telemetry.Tracer("walkmgr"), "walkmgr.ChooseBlock")
	defer span.End()

	policy := m.cfg.Policy
	if policy == PolicyProbMix {
		m.mu.Lock()
		roll := m.rng.Float64()
		m.mu.Unlock()
		if roll < m.cfg.Prob {
			policy = PolicyMinHop
		} else {
			policy = PolicyMaxWalks
		}
	}

	switch policy {
	case PolicyMinHop:
		return m.argminMinHop()
	case PolicyMaxWeight:
		return m.argmaxWeight()
	default:
		return m.argmaxTotalWalks()
	}
}

func (m *Manager) argminMinHop() int {
	best, bestHop := -1, uint32(math.MaxUint32)
	for p, bs := range m.blocks {
		bs.mu.Lock()
		total, hop := bs.totalWalks, bs.minHop
		bs.mu.Unlock()
		if total == 0 {
			continue
		}
		if best == -1 || hop < bestHop {
			best, bestHop = p, hop
		}
	}
	return best
}

func (m *Manager) argmaxTotalWalks() int {
	best, bestTotal := -1, int64(-1)
	for p, bs := range m.blocks {
		bs.mu.Lock()
		total := bs.totalWalks
		bs.mu.Unlock()
		if total > bestTotal {
			best, bestTotal = p, total
		}
	}
	return best
}

func (m *Manager) argmaxWeight() int {
	best, bestWeight := -1, -1.0
	for p, bs := range m.blocks {
		bs.mu.Lock()
		total, hop := bs.totalWalks, bs.minHop
		bs.mu.Unlock()
		if total == 0 {
			continue
		}
		denom := float64(hop)
		if denom == 0 {
			denom = 1
		}
		weight := float64(total) / denom
		if weight > bestWeight {
			best, bestWeight = p, weight
		}
	}
	return best
}
