// Package csrstore implements the static block store (spec §4.1): a
// map from block id to on-disk CSR (beg_pos, csr), loaded two files at a
// time, plus a narrow out-of-driver read path for single-vertex neighbour
// lookups.
//
// Grounded on the teacher's sharded-manager shape (abiolaogu-MinIO
// internal/cache: config struct + constructor + per-unit accessor), adapted
// from an in-memory cache of byte blobs to an on-disk CSR block loader.
package csrstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkerr"
)

// CSR is one block's Compressed Sparse Row representation, owned by the
// caller for the duration of one driver iteration (spec §3 "Ownership").
type CSR struct {
	Lo, Hi  uint64   // half-open vertex range this block owns
	BegPos  []uint64 // len N+1, BegPos[N] == M
	Csr     []uint32 // len M, absolute destination vertex ids
}

// N is the number of vertices in this block.
func (c *CSR) N() uint64 { return c.Hi - c.Lo }

// M is the number of edges in this block.
func (c *CSR) M() uint64 { return uint64(len(c.Csr)) }

// Neighbours returns the destination slice for vertex v, which must satisfy
// c.Lo <= v < c.Hi.
func (c *CSR) Neighbours(v uint64) []uint32 {
	local := v - c.Lo
	start, end := c.BegPos[local], c.BegPos[local+1]
	return c.Csr[start:end]
}

// Store is the static, read-mostly block store.
type Store struct {
	dir      string
	manifest Manifest
	log      zerolog.Logger
}

// Open reads dir/manifest.json and returns a Store ready to serve
// LoadBlock/Neighbours. It does not read any block's beg_pos/csr files yet.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, manifest: m, log: log.With().Str("component", "csrstore").Logger()}, nil
}

// NumBlocks returns the number of blocks in the store.
func (s *Store) NumBlocks() int { return s.manifest.NumBlocks() }

// NumVertices returns V, the total vertex count the manifest was built for.
func (s *Store) NumVertices() uint64 { return s.manifest.NumVertices }

// BlockRange returns block p's half-open vertex range.
func (s *Store) BlockRange(p int) (lo, hi uint64) { return s.manifest.BlockRange(p) }

// BlockOf returns the index of the block owning vertex v, for callers (such
// as an application kernel) that need to map a destination vertex id to a
// block id without re-deriving the manifest's boundary arithmetic.
func (s *Store) BlockOf(v uint64) (int, error) { return s.manifest.BlockOf(v) }

func (s *Store) begPosPath(p int) string {
	return filepath.Join(s.dir, fmt.Sprintf("block_%d.beg_pos", s.manifest.startGroup(p)))
}

func (s *Store) csrPath(p int) string {
	return filepath.Join(s.dir, fmt.Sprintf("block_%d.csr", s.manifest.startGroup(p)))
}

// LoadBlock performs exactly two sequential reads (beg_pos, then csr) and
// returns the fully materialised block, per spec §4.1.
func (s *Store) LoadBlock(ctx context.Context, p int) (*CSR, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.Tracer("csrstore"), "csrstore.LoadBlock",
		attribute.Int("block", p))
	defer span.End()
	_ = ctx

	if p < 0 || p >= s.manifest.NumBlocks() {
		return nil, walkerr.Corrupt("csrstore.LoadBlock", fmt.Errorf("block %d out of range [0,%d)", p, s.manifest.NumBlocks()))
	}
	lo, hi := s.manifest.BlockRange(p)
	n := hi - lo

	begPos, csr, err := LoadBlockFiles(s.dir, s.manifest.startGroup(p), n)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("block", p).Uint64("n", n).Uint64("m", uint64(len(csr))).Msg("loaded block")
	span.SetAttributes(attribute.Int64("n", int64(n)), attribute.Int64("m", int64(len(csr))))

	return &CSR{Lo: lo, Hi: hi, BegPos: begPos, Csr: csr}, nil
}

// LoadBlockFiles reads the beg_pos/csr pair named by startGroup directly,
// given the block's vertex count n. It is the shared implementation behind
// Store.LoadBlock and is exported for the dynamic store, which maintains its
// own copy of the manifest and needs to re-read a block's existing CSR
// during compaction without constructing a full Store.
func LoadBlockFiles(dir string, startGroup, n uint64) (begPos []uint64, csr []uint32, err error) {
	begPosPath := filepath.Join(dir, fmt.Sprintf("block_%d.beg_pos", startGroup))
	csrPath := filepath.Join(dir, fmt.Sprintf("block_%d.csr", startGroup))

	begPosRaw, err := os.ReadFile(begPosPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, walkerr.MissingFile("csrstore.LoadBlockFiles", err)
		}
		return nil, nil, walkerr.Corrupt("csrstore.LoadBlockFiles", err)
	}
	if len(begPosRaw)%8 != 0 || uint64(len(begPosRaw)/8) != n+1 {
		return nil, nil, walkerr.Corrupt("csrstore.LoadBlockFiles",
			fmt.Errorf("beg_pos for block_%d has %d bytes, want %d", startGroup, len(begPosRaw), (n+1)*8))
	}
	begPos = make([]uint64, n+1)
	for i := range begPos {
		begPos[i] = binary.LittleEndian.Uint64(begPosRaw[i*8:])
	}
	if !nonDecreasing(begPos) {
		return nil, nil, walkerr.Corrupt("csrstore.LoadBlockFiles", fmt.Errorf("beg_pos for block_%d is not non-decreasing", startGroup))
	}
	m := begPos[n]

	csrRaw, err := os.ReadFile(csrPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, walkerr.MissingFile("csrstore.LoadBlockFiles", err)
		}
		return nil, nil, walkerr.Corrupt("csrstore.LoadBlockFiles", err)
	}
	if uint64(len(csrRaw)) != m*4 {
		return nil, nil, walkerr.Corrupt("csrstore.LoadBlockFiles",
			fmt.Errorf("csr for block_%d has %d bytes, want %d (beg_pos[n]=%d)", startGroup, len(csrRaw), m*4, m))
	}
	csr = make([]uint32, m)
	for i := range csr {
		csr[i] = binary.LittleEndian.Uint32(csrRaw[i*4:])
	}
	return begPos, csr, nil
}

// Neighbours performs two short reads — one beg_pos entry pair, one slice of
// csr — without loading the rest of the owning block, for use outside the
// driver's one-block-resident loop (spec §4.1).
func (s *Store) Neighbours(ctx context.Context, v uint64) ([]uint32, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.Tracer("csrstore"), "csrstore.Neighbours",
		attribute.Int64("vertex", int64(v)))
	defer span.End()

	p, err := s.manifest.BlockOf(v)
	if err != nil {
		return nil, walkerr.Corrupt("csrstore.Neighbours", err)
	}
	lo, _ := s.manifest.BlockRange(p)
	local := v - lo

	begPosFile, err := os.Open(s.begPosPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			// A missing beg_pos file at read time is an empty neighbour list,
			// not an error (spec §7) — the dynamic store may represent empty
			// blocks implicitly.
			return nil, nil
		}
		return nil, walkerr.Corrupt("csrstore.Neighbours", err)
	}
	defer begPosFile.Close()

	buf := make([]byte, 16)
	if _, err := begPosFile.ReadAt(buf, int64(local)*8); err != nil {
		return nil, walkerr.Corrupt("csrstore.Neighbours", fmt.Errorf("reading beg_pos entries for vertex %d: %w", v, err))
	}
	start := binary.LittleEndian.Uint64(buf[0:8])
	end := binary.LittleEndian.Uint64(buf[8:16])
	if end < start {
		return nil, walkerr.Corrupt("csrstore.Neighbours", fmt.Errorf("beg_pos entries for vertex %d are decreasing", v))
	}

	csrFile, err := os.Open(s.csrPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, walkerr.Corrupt("csrstore.Neighbours", err)
	}
	defer csrFile.Close()

	count := end - start
	raw := make([]byte, count*4)
	if count > 0 {
		if _, err := csrFile.ReadAt(raw, int64(start)*4); err != nil {
			return nil, walkerr.Corrupt("csrstore.Neighbours", fmt.Errorf("reading csr slice for vertex %d: %w", v, err))
		}
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

func nonDecreasing(xs []uint64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return false
		}
	}
	return true
}

// WriteBlock writes a block's beg_pos/csr pair to dir, for use by the
// ingestion preprocessor (cmd/ingest). Writing is not on the hot path the
// core engine specifies (spec §1 calls ingestion an external collaborator)
// but the files it produces must match the layout LoadBlock expects.
func WriteBlock(dir string, startGroup uint64, begPos []uint64, csr []uint32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return walkerr.MissingFile("csrstore.WriteBlock", err)
	}
	begPosRaw := make([]byte, len(begPos)*8)
	for i, v := range begPos {
		binary.LittleEndian.PutUint64(begPosRaw[i*8:], v)
	}
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("block_%d.beg_pos", startGroup)), begPosRaw, 0o644); err != nil {
		return walkerr.QueueWriteError("csrstore.WriteBlock", err)
	}
	csrRaw := make([]byte, len(csr)*4)
	for i, v := range csr {
		binary.LittleEndian.PutUint32(csrRaw[i*4:], v)
	}
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("block_%d.csr", startGroup)), csrRaw, 0o644); err != nil {
		return walkerr.QueueWriteError("csrstore.WriteBlock", err)
	}
	return nil
}

// WriteManifest persists the block partitioning manifest for a static store.
func WriteManifest(dir string, m Manifest) error { return saveManifest(dir, m) }
