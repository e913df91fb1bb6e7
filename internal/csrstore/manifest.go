package csrstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vertexwalk/engine/internal/walkerr"
)

// manifestFile is the name of the small sidecar file that records how the
// preprocessor (out of scope for this engine, see spec.md §1) partitioned
// [0, V) into blocks. It is not part of spec §6's on-disk layout table
// because that table only documents the per-block CSR/log files; the
// manifest is how this engine discovers how many of them there are and
// where their boundaries fall, in units of log groups (spec §3).
const manifestFile = "manifest.json"

// Manifest describes the block partitioning of a graph.
type Manifest struct {
	GroupLog2   uint     `json:"group_log2"`   // k, where G = 2^k
	NumVertices uint64   `json:"num_vertices"`  // V
	Boundaries  []uint64 `json:"boundaries"`    // len == NumBlocks()+1, group indices, sorted
}

// GroupSize returns G = 2^k.
func (m Manifest) GroupSize() uint64 { return uint64(1) << m.GroupLog2 }

// NumBlocks returns the number of blocks this manifest describes.
func (m Manifest) NumBlocks() int {
	if len(m.Boundaries) == 0 {
		return 0
	}
	return len(m.Boundaries) - 1
}

// BlockRange returns the half-open vertex interval [lo, hi) owned by block p.
func (m Manifest) BlockRange(p int) (lo, hi uint64) {
	g := m.GroupSize()
	lo = m.Boundaries[p] * g
	hi = m.Boundaries[p+1] * g
	if hi > m.NumVertices {
		hi = m.NumVertices
	}
	return lo, hi
}

// BlockOf returns the index of the block owning vertex v.
func (m Manifest) BlockOf(v uint64) (int, error) {
	if v >= m.NumVertices {
		return 0, fmt.Errorf("vertex %d out of range [0,%d)", v, m.NumVertices)
	}
	group := v / m.GroupSize()
	// Boundaries[p] <= group < Boundaries[p+1]
	p := sort.Search(len(m.Boundaries)-1, func(i int) bool {
		return m.Boundaries[i+1] > group
	})
	if p >= m.NumBlocks() {
		return 0, fmt.Errorf("vertex %d maps past last block", v)
	}
	return p, nil
}

// startGroup returns the file-naming group index for block p, per the
// `block_<start_group>.beg_pos` / `.csr` layout in spec §6.
func (m Manifest) startGroup(p int) uint64 { return m.Boundaries[p] }

func loadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, manifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, walkerr.MissingFile("csrstore.loadManifest", err)
		}
		return Manifest{}, walkerr.Corrupt("csrstore.loadManifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, walkerr.Corrupt("csrstore.loadManifest", fmt.Errorf("parsing %s: %w", path, err))
	}
	if m.NumBlocks() < 1 {
		return Manifest{}, walkerr.Corrupt("csrstore.loadManifest", fmt.Errorf("%s declares no blocks", path))
	}
	return m, nil
}

// ReadManifest loads dir/manifest.json, for callers (such as the dynamic
// store) that need to inspect or mutate block partitioning without opening a
// full Store.
func ReadManifest(dir string) (Manifest, error) { return loadManifest(dir) }

func saveManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return walkerr.Corrupt("csrstore.saveManifest", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return walkerr.MissingFile("csrstore.saveManifest", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644)
}
