// cmd/ingest is the minimal external-collaborator stand-in for spec.md's
// "graph ingestion/sharding preprocessor": it turns a plain edge-list file
// into the initial on-disk CSR blocks internal/csrstore expects. It does no
// reordering, clustering, or load-aware partitioning — only fixed-width
// blocks of a configured number of log groups each, per SPEC_FULL.md's
// scope note for this command.
//
// Grounded on the teacher's cobra/pflag CLI shape (see cmd/walker) and on
// internal/dynstore/compaction.go's prefix-sum-then-scatter CSR construction,
// reused here for a from-scratch build instead of an incremental fold.
package main

import (
	"bufio"
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/walkerr"
)

func main() {
	var input, output string
	var nVertsPerGrp, groupsPerBlock int
	var numVertices int64

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Build initial CSR blocks from a plain edge-list file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(input, output, nVertsPerGrp, groupsPerBlock, numVertices)
		},
	}
	root.Flags().StringVar(&input, "input", "", "path to a whitespace-separated \"src dst\" edge-list file")
	root.Flags().StringVar(&output, "output", "", "directory to write manifest.json and block_*.{beg_pos,csr} into")
	root.Flags().IntVar(&nVertsPerGrp, "nverts-per-grp", 1<<12, "log group size G, must be a power of two")
	root.Flags().IntVar(&groupsPerBlock, "groups-per-block", 16, "number of groups per fixed-width block")
	root.Flags().Int64Var(&numVertices, "numvertices", 0, "explicit vertex count; 0 infers it from the max vertex id seen")
	root.MarkFlagRequired("input")
	root.MarkFlagRequired("output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type edge struct{ src, dst uint64 }

func run(input, output string, nVertsPerGrp, groupsPerBlock int, numVertices int64) error {
	if bits.OnesCount(uint(nVertsPerGrp)) != 1 {
		return walkerr.ConfigInvalid("cmd/ingest.run", fmt.Errorf("nverts-per-grp must be a power of two, got %d", nVertsPerGrp))
	}
	if groupsPerBlock < 1 {
		return walkerr.ConfigInvalid("cmd/ingest.run", fmt.Errorf("groups-per-block must be >= 1, got %d", groupsPerBlock))
	}

	edges, maxVertex, err := readEdges(input)
	if err != nil {
		return err
	}

	v := uint64(numVertices)
	if v == 0 {
		v = maxVertex + 1
	}
	if v == 0 {
		return walkerr.ConfigInvalid("cmd/ingest.run", fmt.Errorf("no vertices found in %s", input))
	}

	begPos, csr := buildCSR(edges, v)

	groupSize := uint64(nVertsPerGrp)
	numGroups := (v + groupSize - 1) / groupSize
	groupLog2 := uint(bits.TrailingZeros(uint(nVertsPerGrp)))

	boundaries := []uint64{0}
	for g := uint64(groupsPerBlock); g < numGroups; g += uint64(groupsPerBlock) {
		boundaries = append(boundaries, g)
	}
	boundaries = append(boundaries, numGroups)

	for p := 0; p < len(boundaries)-1; p++ {
		startGroup := boundaries[p]
		lo := startGroup * groupSize
		hi := boundaries[p+1] * groupSize
		if hi > v {
			hi = v
		}
		localBegPos := make([]uint64, hi-lo+1)
		base := begPos[lo]
		for i := range localBegPos {
			localBegPos[i] = begPos[lo+uint64(i)] - base
		}
		localCsr := append([]uint32(nil), csr[base:begPos[hi]]...)
		if err := csrstore.WriteBlock(output, startGroup, localBegPos, localCsr); err != nil {
			return err
		}
	}

	m := csrstore.Manifest{GroupLog2: groupLog2, NumVertices: v, Boundaries: boundaries}
	if err := csrstore.WriteManifest(output, m); err != nil {
		return err
	}

	fmt.Printf("wrote %d blocks, %d vertices, %d edges to %s\n", len(boundaries)-1, v, len(edges), output)
	return nil
}

func readEdges(path string) ([]edge, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, walkerr.MissingFile("cmd/ingest.readEdges", err)
	}
	defer f.Close()

	var edges []edge
	var maxVertex uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, 0, walkerr.Corrupt("cmd/ingest.readEdges", fmt.Errorf("malformed edge line %q", line))
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, 0, walkerr.Corrupt("cmd/ingest.readEdges", fmt.Errorf("parsing src in %q: %w", line, err))
		}
		dst, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, 0, walkerr.Corrupt("cmd/ingest.readEdges", fmt.Errorf("parsing dst in %q: %w", line, err))
		}
		edges = append(edges, edge{src: src, dst: dst})
		if src > maxVertex {
			maxVertex = src
		}
		if dst > maxVertex {
			maxVertex = dst
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, walkerr.Corrupt("cmd/ingest.readEdges", err)
	}
	return edges, maxVertex, nil
}

// buildCSR computes beg_pos (len v+1) and csr (len len(edges)) via the same
// prefix-sum-then-scatter shape internal/dynstore/compaction.go uses to fold
// logs into an existing CSR, specialised here to a from-scratch build with
// no prior CSR to copy.
func buildCSR(edges []edge, v uint64) (begPos []uint64, csr []uint32) {
	degree := make([]uint64, v)
	for _, e := range edges {
		degree[e.src]++
	}
	begPos = make([]uint64, v+1)
	for i := uint64(0); i < v; i++ {
		begPos[i+1] = begPos[i] + degree[i]
	}
	cursor := append([]uint64(nil), begPos...)
	csr = make([]uint32, begPos[v])
	for _, e := range edges {
		csr[cursor[e.src]] = uint32(e.dst)
		cursor[e.src]++
	}
	return begPos, csr
}
