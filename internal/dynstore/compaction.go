package dynstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkerr"
)

// segment is an in-memory (beg_pos, csr) pair awaiting a home on disk,
// named by the group index it should start at.
type segment struct {
	startGroup uint64
	lo, hi     uint64 // absolute vertex range
	begPos     []uint64
	csr        []uint32
}

// compactBlock folds block p's per-group logs into its CSR, per the
// algorithm in spec §4.2 steps (a)-(g). It may rewrite the block as two or
// more smaller blocks if the merged CSR still exceeds BlockSize.
func (s *Store) compactBlock(ctx context.Context, p int) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.Tracer("dynstore"), "dynstore.compactBlock", attribute.Int("block", p))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.CompactionDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	loGroup, hiGroup := s.manifest.Boundaries[p], s.manifest.Boundaries[p+1]
	lo, hi := s.manifest.BlockRange(p)
	s.mu.Unlock()
	n := hi - lo

	// (a) load existing CSR, treating an as-yet-uncompacted block (pure logs,
	// no CSR file written yet) as empty.
	begPos, csr, err := csrstore.LoadBlockFiles(s.dir, loGroup, n)
	if err != nil {
		if !walkerr.IsKind(err, walkerr.KindMissingFile) {
			return err
		}
		begPos = make([]uint64, n+1)
		csr = nil
	}

	// (b) load all log files (disk + any still-pending in-memory entries)
	// for every group this block spans.
	var newEdges []Edge
	for g := loGroup; g < hiGroup; g++ {
		diskEdges, err := s.readGroupLogFile(g)
		if err != nil && !walkerr.IsKind(err, walkerr.KindMissingFile) {
			return err
		}
		newEdges = append(newEdges, diskEdges...)

		gl := s.groupOf(g)
		gl.mu.Lock()
		newEdges = append(newEdges, gl.mem...)
		gl.mu.Unlock()
	}

	// (c) compute new beg_pos' by prefix-summing old degree + new degree.
	oldDegree := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		oldDegree[i] = begPos[i+1] - begPos[i]
	}
	newDegree := make([]uint64, n)
	for _, e := range newEdges {
		local := uint64(e.Src) - lo
		if local >= n {
			return walkerr.Corrupt("dynstore.compactBlock", fmt.Errorf("log entry src %d outside block range [%d,%d)", e.Src, lo, hi))
		}
		newDegree[local]++
	}
	begPosPrime := make([]uint64, n+1)
	for i := uint64(0); i < n; i++ {
		begPosPrime[i+1] = begPosPrime[i] + oldDegree[i] + newDegree[i]
	}
	mPrime := begPosPrime[n]

	// (d) copy existing CSR rows into their new positions under beg_pos'.
	csrPrime := make([]uint32, mPrime)
	cursor := make([]uint64, n)
	copy(cursor, begPosPrime[:n])
	for i := uint64(0); i < n; i++ {
		for _, dst := range csr[begPos[i]:begPos[i+1]] {
			csrPrime[cursor[i]] = dst
			cursor[i]++
		}
	}

	// (e) scatter log entries into the gaps created by beg_pos'.
	for _, e := range newEdges {
		local := uint64(e.Src) - lo
		csrPrime[cursor[local]] = e.Dst
		cursor[local]++
	}
	for i := uint64(0); i < n; i++ {
		if cursor[i] != begPosPrime[i+1] {
			return walkerr.Corrupt("dynstore.compactBlock", fmt.Errorf("vertex %d write cursor %d does not reach %d", lo+i, cursor[i], begPosPrime[i+1]))
		}
	}

	segs := []segment{{startGroup: loGroup, lo: lo, hi: hi, begPos: begPosPrime, csr: csrPrime}}
	// (f) split any segment that still exceeds blocksize and spans more than
	// one group; spec calls for a single binary-search split per compaction,
	// recursed on the two halves, which this loop realises by repeatedly
	// scanning the current segment set until every one satisfies the
	// invariant or cannot be split further.
	groupSize := s.manifest.GroupSize()
	for changed := true; changed; {
		changed = false
		var next []segment
		for _, seg := range segs {
			spanGroups := (seg.hi - seg.lo + groupSize - 1) / groupSize
			if uint64(len(seg.csr))*4 > uint64(s.cfg.BlockSize) && spanGroups > 1 {
				left, right := splitSegment(seg, groupSize)
				next = append(next, left, right)
				changed = true
			} else {
				next = append(next, seg)
			}
		}
		segs = next
	}

	// (g) write new beg_pos/csr files, remove consumed logs, reset bitmaps.
	for _, seg := range segs {
		if err := csrstore.WriteBlock(s.dir, seg.startGroup, seg.begPos, seg.csr); err != nil {
			return err
		}
	}
	for g := loGroup; g < hiGroup; g++ {
		_ = removeGroupLogFile(s.logPath(g))
		gl := s.groupOf(g)
		gl.mu.Lock()
		gl.mem = nil
		gl.present.ClearAll()
		gl.mu.Unlock()
	}

	if err := s.rewriteBoundaries(p, segs); err != nil {
		return err
	}

	if len(segs) > 1 {
		s.metrics.BlockSplitsTotal.Add(float64(len(segs) - 1))
	}
	s.metrics.CompactionsTotal.Inc()
	span.SetAttributes(attribute.Int("resulting_blocks", len(segs)), attribute.Int64("m_prime", int64(mPrime)))
	return nil
}

// splitSegment finds the group boundary nearest seg's midpoint edge count by
// binary search on beg_pos, then divides seg at that vertex. seg must span
// at least 2 groups; the caller guarantees this before calling.
func splitSegment(seg segment, groupSize uint64) (left, right segment) {
	n := seg.hi - seg.lo
	numGroups := (n + groupSize - 1) / groupSize
	m := seg.begPos[n]
	target := m / 2

	// Nearest group boundary (in group units) to the vertex index where
	// cumulative edge count first reaches target.
	localSplit := uint64(sort.Search(int(n)+1, func(i int) bool {
		return seg.begPos[i] >= target
	}))
	groupIdx := (localSplit + groupSize/2) / groupSize
	if groupIdx < 1 {
		groupIdx = 1
	}
	if groupIdx > numGroups-1 {
		groupIdx = numGroups - 1
	}
	splitLocal := groupIdx * groupSize

	splitVertex := seg.lo + splitLocal
	splitGroup := splitVertex / groupSize

	leftBegPos := append([]uint64(nil), seg.begPos[:splitLocal+1]...)
	leftCsr := append([]uint32(nil), seg.csr[:seg.begPos[splitLocal]]...)

	rightBegPosRaw := seg.begPos[splitLocal:]
	rightBegPos := make([]uint64, len(rightBegPosRaw))
	base := rightBegPosRaw[0]
	for i, v := range rightBegPosRaw {
		rightBegPos[i] = v - base
	}
	rightCsr := append([]uint32(nil), seg.csr[seg.begPos[splitLocal]:]...)

	left = segment{startGroup: seg.startGroup, lo: seg.lo, hi: splitVertex, begPos: leftBegPos, csr: leftCsr}
	right = segment{startGroup: splitGroup, lo: splitVertex, hi: seg.hi, begPos: rightBegPos, csr: rightCsr}
	return left, right
}

// rewriteBoundaries replaces block p's single [Boundaries[p], Boundaries[p+1])
// span with one entry per resulting segment and persists the manifest.
func (s *Store) rewriteBoundaries(p int, segs []segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBoundaries := append([]uint64(nil), s.manifest.Boundaries[:p]...)
	for _, seg := range segs {
		newBoundaries = append(newBoundaries, seg.startGroup)
	}
	newBoundaries = append(newBoundaries, s.manifest.Boundaries[p+1:]...)
	s.manifest.Boundaries = newBoundaries
	return csrstore.WriteManifest(s.dir, s.manifest)
}
