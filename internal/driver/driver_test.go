package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkmgr"
	"github.com/vertexwalk/engine/internal/walkrec"
	"github.com/vertexwalk/engine/pkg/walkapp"
)

// cycleKernel drives the deterministic 4-cycle graph used in spec scenario
// S2: 0->2, 1->3, 2->0, 3->1, split across two blocks [0,2) and [2,4).
type cycleKernel struct {
	boundaries []uint64 // vertex-unit block starts, e.g. [0, 2, 4]
	maxHop     uint32
	source     int
	startBlock int

	mu     sync.Mutex
	visits []uint64 // vertex ids visited, in call order
	moves  int32
}

func (k *cycleKernel) blockOf(v uint64) int {
	for p := 0; p < len(k.boundaries)-1; p++ {
		if v >= k.boundaries[p] && v < k.boundaries[p+1] {
			return p
		}
	}
	return len(k.boundaries) - 2
}

func (k *cycleKernel) SeedWalks(seeder walkapp.Seeder) error {
	return seeder.Seed(k.source, k.startBlock, uint32(k.source)-uint32(k.boundaries[k.startBlock]))
}

func (k *cycleKernel) BeforeBlock(p int, lo, hi uint64, manager walkapp.Manager) error { return nil }
func (k *cycleKernel) AfterBlock(p int, lo, hi uint64, manager walkapp.Manager) error  { return nil }

func (k *cycleKernel) Advance(record walkrec.Record, p int, block *csrstore.CSR, manager walkapp.Manager, threadID int) error {
	current := block.Lo + uint64(record.Current())
	hop := record.Hop()

	k.mu.Lock()
	k.visits = append(k.visits, current)
	k.mu.Unlock()

	if hop >= k.maxHop {
		return nil
	}

	neighbours := block.Neighbours(current)
	next := uint64(neighbours[0])
	newHop := hop + 1

	advanced, err := record.WithHop(newHop)
	if err != nil {
		return err
	}

	if next >= block.Lo && next < block.Hi {
		return manager.Move(advanced, p, threadID, uint32(next-block.Lo))
	}

	newBlock := k.blockOf(next)
	newLo := k.boundaries[newBlock]
	atomic.AddInt32(&k.moves, 1)
	if err := manager.Move(advanced, newBlock, threadID, uint32(next-newLo)); err != nil {
		return err
	}
	manager.SetMinHop(newBlock, newHop)
	return nil
}

func buildFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	m := csrstore.Manifest{GroupLog2: 1, NumVertices: 4, Boundaries: []uint64{0, 1, 2}}
	if err := csrstore.WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	// block 0: vertices 0,1 -> 0->{2}, 1->{3}
	if err := csrstore.WriteBlock(dir, 0, []uint64{0, 1, 2}, []uint32{2, 3}); err != nil {
		t.Fatalf("WriteBlock(0): %v", err)
	}
	// block 1: vertices 2,3 -> 2->{0}, 3->{1}
	if err := csrstore.WriteBlock(dir, 1, []uint64{0, 1, 2}, []uint32{0, 1}); err != nil {
		t.Fatalf("WriteBlock(1): %v", err)
	}
	return dir
}

func TestDriverRunCrossesBlocksEveryHop(t *testing.T) {
	dir := buildFixture(t)
	store, err := csrstore.Open(dir, zerolog.Nop())
	require.NoError(t, err)

	manager := walkmgr.New(walkmgr.Config{
		NumBlocks:      2,
		NumThreads:     1,
		WalkBufferSize: 4,
		WalksDir:       t.TempDir(),
		Policy:         walkmgr.PolicyMaxWalks,
	}, zerolog.Nop(), telemetry.NewTestMetrics())

	kernel := &cycleKernel{boundaries: []uint64{0, 2, 4}, maxHop: 4, source: 0, startBlock: 0}
	d := New(store, manager, kernel, 1, zerolog.Nop())
	require.NotEmpty(t, d.RunID)

	require.NoError(t, d.Run(context.Background()))

	require.EqualValues(t, 4, kernel.moves, "one move per hop in the 4-cycle")
	require.Equal(t, []uint64{0, 2, 0, 2, 0}, kernel.visits, "hops 0..4 inclusive")
	require.Zero(t, manager.GrandTotal())
}

// cancelingKernel cancels the run's context on its first BeforeBlock call,
// exercising the graceful-stop path cmd/walker relies on for SIGINT/SIGTERM.
type cancelingKernel struct {
	cycleKernel
	cancel context.CancelFunc
}

func (k *cancelingKernel) BeforeBlock(p int, lo, hi uint64, manager walkapp.Manager) error {
	k.cancel()
	return nil
}

func TestDriverRunStopsAtBlockBoundaryOnCancel(t *testing.T) {
	dir := buildFixture(t)
	store, err := csrstore.Open(dir, zerolog.Nop())
	require.NoError(t, err)

	manager := walkmgr.New(walkmgr.Config{
		NumBlocks:      2,
		NumThreads:     1,
		WalkBufferSize: 4,
		WalksDir:       t.TempDir(),
		Policy:         walkmgr.PolicyMaxWalks,
	}, zerolog.Nop(), telemetry.NewTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	kernel := &cancelingKernel{
		cycleKernel: cycleKernel{boundaries: []uint64{0, 2, 4}, maxHop: 4, source: 0, startBlock: 0},
	}
	kernel.cancel = cancel
	d := New(store, manager, kernel, 1, zerolog.Nop())

	err = d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotZero(t, manager.GrandTotal(), "the block in progress finishes, so the walk it moved must still be resident in the next block")
}
