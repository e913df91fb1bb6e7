package dynstore

import (
	"context"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/telemetry"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Create(dir, 16, 2 /* groupLog2: G=4 */, cfg, zerolog.Nop(), telemetry.NewTestMetrics())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestAddEdgeVisibleBeforeFlush(t *testing.T) {
	s := newTestStore(t, Config{BufCap: 1000, LogCap: 1000, LogSize: 1 << 30, BlockSize: 1 << 30})
	ctx := context.Background()
	if err := s.AddEdge(ctx, 3, 7, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	got, err := s.GetNeighbours(ctx, 3)
	if err != nil {
		t.Fatalf("GetNeighbours: %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("GetNeighbours(3) = %v, want [7]", got)
	}
}

func TestFlushClassifiesIntoGroupLog(t *testing.T) {
	s := newTestStore(t, Config{BufCap: 1, LogCap: 1000, LogSize: 1 << 30, BlockSize: 1 << 30})
	ctx := context.Background()
	// BufCap=1 forces an immediate flush, which appends the lone edge's
	// group log to disk since it is the group touched by this flush.
	if err := s.AddEdge(ctx, 5, 9, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := s.readGroupLogFile(5 >> s.manifest.GroupLog2); err != nil {
		t.Fatalf("expected group log on disk: %v", err)
	}
	got, err := s.GetNeighbours(ctx, 5)
	if err != nil {
		t.Fatalf("GetNeighbours: %v", err)
	}
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("GetNeighbours(5) = %v, want [9]", got)
	}
}

// TestFlushForcesGroupLogAtCapMidClassification covers the LogCap trigger
// (spec §4.2: "a group whose in-memory log fills ... appends its log to
// disk"): with LogCap=2, five edges landing on one group within a single
// Flush call cross the cap mid-classification, forcing at least one early
// disk append rather than waiting for Flush's end-of-call pass. The
// resulting on-disk log must still contain every entry exactly once.
func TestFlushForcesGroupLogAtCapMidClassification(t *testing.T) {
	s := newTestStore(t, Config{BufCap: 1000, LogCap: 2, LogSize: 1 << 30, BlockSize: 1 << 30})
	ctx := context.Background()

	s.mu.Lock()
	for i := uint32(0); i < 5; i++ {
		s.buffer = append(s.buffer, Edge{Src: 1, Dst: 100 + i})
	}
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	g := uint64(1) >> s.manifest.GroupLog2
	gl := s.groupOf(g)
	gl.mu.Lock()
	memLen := len(gl.mem)
	gl.mu.Unlock()
	if memLen != 0 {
		t.Fatalf("group mem after Flush = %d entries, want 0 (all forced to disk)", memLen)
	}

	onDisk, err := s.readGroupLogFile(g)
	if err != nil {
		t.Fatalf("readGroupLogFile: %v", err)
	}
	if len(onDisk) != 5 {
		t.Fatalf("on-disk log has %d entries, want 5", len(onDisk))
	}
}

func TestCompactionFoldsLogIntoCSR(t *testing.T) {
	s := newTestStore(t, Config{BufCap: 1, LogCap: 1000, LogSize: 8, BlockSize: 1 << 30})
	ctx := context.Background()

	edges := [][2]uint32{{0, 1}, {1, 2}, {2, 3}, {3, 0}}
	for _, e := range edges {
		if err := s.AddEdge(ctx, e[0], e[1], false); err != nil {
			t.Fatalf("AddEdge(%d,%d): %v", e[0], e[1], err)
		}
	}

	for v := uint64(0); v < 4; v++ {
		got, err := s.GetNeighbours(ctx, v)
		if err != nil {
			t.Fatalf("GetNeighbours(%d): %v", v, err)
		}
		if len(got) != 1 {
			t.Fatalf("GetNeighbours(%d) = %v, want exactly one neighbour", v, got)
		}
	}

	m, err := csrstore.ReadManifest(s.dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.NumBlocks() < 1 {
		t.Fatalf("expected at least one block after compaction")
	}
}

func TestSplitKeepsBlocksWithinBudget(t *testing.T) {
	// One block spanning all 4 groups (16 vertices), tiny BlockSize forces a
	// split once enough edges accumulate. Create starts from single-group
	// blocks, so the manifest is first rewritten to one block.
	s := newTestStore(t, Config{BufCap: 1, LogCap: 1000, LogSize: 8, BlockSize: 24})
	ctx := context.Background()
	s.manifest.Boundaries = []uint64{0, 4}
	if err := csrstore.WriteManifest(s.dir, s.manifest); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	for v := uint32(0); v < 16; v++ {
		if err := s.AddEdge(ctx, v, (v+1)%16, false); err != nil {
			t.Fatalf("AddEdge(%d): %v", v, err)
		}
	}

	m, err := csrstore.ReadManifest(s.dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.NumBlocks() < 2 {
		t.Fatalf("expected split to produce at least 2 blocks, got %d", m.NumBlocks())
	}

	groupSize := m.GroupSize()
	for p := 0; p < m.NumBlocks(); p++ {
		lo, hi := m.BlockRange(p)
		n := hi - lo
		begPos, csr, err := csrstore.LoadBlockFiles(s.dir, m.Boundaries[p], n)
		if err != nil {
			t.Fatalf("LoadBlockFiles(block %d): %v", p, err)
		}
		if !sort.IntsAreSorted(toInts(begPos)) {
			t.Fatalf("block %d beg_pos is not sorted: %v", p, begPos)
		}
		mBytes := int64(len(csr)) * 4
		if mBytes > s.cfg.BlockSize && n > groupSize {
			t.Fatalf("block %d violates invariant 4: m=%d bytes, n=%d > G=%d", p, mBytes, n, groupSize)
		}
	}
}

func toInts(xs []uint64) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}

func TestGetNeighboursUnionsAllThreeSources(t *testing.T) {
	s := newTestStore(t, Config{BufCap: 1, LogCap: 1000, LogSize: 8, BlockSize: 1 << 30})
	ctx := context.Background()

	// BufCap=1 flushes every add into the group log. The second flush takes
	// the log past LogSize=8 bytes, compacting 100 and 101 into CSR; 102
	// stays in the on-disk group log; 103 is placed in the live buffer.
	if err := s.AddEdge(ctx, 1, 100, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := s.AddEdge(ctx, 1, 101, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := s.AddEdge(ctx, 1, 102, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, Edge{Src: 1, Dst: 103})
	s.mu.Unlock()

	got, err := s.GetNeighbours(ctx, 1)
	if err != nil {
		t.Fatalf("GetNeighbours: %v", err)
	}
	seen := map[uint32]bool{}
	for _, d := range got {
		seen[d] = true
	}
	for _, want := range []uint32{100, 101, 102, 103} {
		if !seen[want] {
			t.Fatalf("GetNeighbours(1) = %v, missing %d", got, want)
		}
	}
}
