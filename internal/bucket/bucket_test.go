package bucket

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkrec"
)

func rec(t *testing.T, current uint32) walkrec.Record {
	t.Helper()
	r, err := walkrec.Encode(0, current, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return r
}

// TestPushSpillsAtCapacityFIFODrain covers spec scenario S4: with
// WALK_BUFFER_SIZE=4, pushing 10 records through one thread's bucket causes
// exactly 2 flushes to disk, and DrainInto yields all 10 in FIFO order
// (disk contents first, then whatever remains in memory).
func TestPushSpillsAtCapacityFIFODrain(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(filepath.Join(dir, "0.walks"))
	metrics := telemetry.NewTestMetrics()
	b := NewBlock(0, 1, 4, q, metrics)

	for i := uint32(0); i < 10; i++ {
		if err := b.Push(0, rec(t, i)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	// 10 records at capacity 4: two spills of 4 each (records 0-3, 4-7),
	// leaving 2 in memory (records 8-9).
	if got := b.InMemCount(); got != 2 {
		t.Fatalf("InMemCount = %d, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.BucketSpillsTotal); got != 2 {
		t.Fatalf("BucketSpillsTotal = %v, want 2", got)
	}

	out, err := b.DrainInto()
	if err != nil {
		t.Fatalf("DrainInto: %v", err)
	}
	if len(out) != 10 {
		t.Fatalf("DrainInto returned %d records, want 10", len(out))
	}
	for i, r := range out {
		if _, current, _ := walkrec.Decode(r); current != uint32(i) {
			t.Fatalf("record %d has current=%d, want %d (FIFO order broken)", i, current, i)
		}
	}
	if got := b.InMemCount(); got != 0 {
		t.Fatalf("InMemCount after drain = %d, want 0", got)
	}
}

// TestDrainRoundTripsDiskQueue covers testable property #6: writing then
// reading a bucket's overflow file reproduces the exact record sequence.
func TestDrainRoundTripsDiskQueue(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(filepath.Join(dir, "3.walks"))
	b := NewBlock(3, 1, 2, q, nil)

	want := []walkrec.Record{rec(t, 11), rec(t, 22), rec(t, 33), rec(t, 44)}
	for _, r := range want {
		if err := b.Push(0, r); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	got, err := b.DrainInto()
	if err != nil {
		t.Fatalf("DrainInto: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMultipleThreadsShareQueueDrainIncludesAll(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(filepath.Join(dir, "1.walks"))
	b := NewBlock(1, 2, 8, q, nil)

	if err := b.Push(0, rec(t, 1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.Push(1, rec(t, 2)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	out, err := b.DrainInto()
	if err != nil {
		t.Fatalf("DrainInto: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("DrainInto returned %d records, want 2", len(out))
	}
}
