// Package bucket implements the walk bucket (spec §4.4): a fixed-capacity,
// append-only in-memory buffer per (thread, block) pair, spilling to a
// per-block on-disk queue when full.
//
// Grounded on the teacher's tenant-buffer shape (internal/tenant: per-tenant
// bounded in-memory queue that drains to backing storage past a threshold),
// adapted here to a thread-sharded buffer with a shared overflow file rather
// than a single queue per tenant.
package bucket

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vertexwalk/engine/internal/telemetry"
	"github.com/vertexwalk/engine/internal/walkerr"
	"github.com/vertexwalk/engine/internal/walkrec"
)

// Queue is the on-disk overflow file for one block, walks/<p>.walks. Writers
// serialize through mu; the file system's append mode guarantees each write
// lands atomically at end-of-file, but mu also protects the read-then-unlink
// sequence in DrainInto from racing a concurrent spill.
type Queue struct {
	mu   sync.Mutex
	path string
}

// NewQueue returns a Queue backed by path. The directory must already exist.
func NewQueue(path string) *Queue { return &Queue{path: path} }

func (q *Queue) append(records []walkrec.Record) error {
	if len(records) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return walkerr.QueueWriteError("bucket.Queue.append", err)
	}
	defer f.Close()

	raw := make([]byte, len(records)*8)
	for i, r := range records {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(r))
	}
	if _, err := f.Write(raw); err != nil {
		return walkerr.QueueWriteError("bucket.Queue.append", err)
	}
	return nil
}

// drainAndUnlink reads the entire queue file (if any) and removes it,
// returning its records in the order they were written.
func (q *Queue) drainAndUnlink() ([]walkrec.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, walkerr.Corrupt("bucket.Queue.drainAndUnlink", err)
	}
	if len(raw)%8 != 0 {
		return nil, walkerr.Corrupt("bucket.Queue.drainAndUnlink", fmt.Errorf("walks file %s has %d bytes, not a multiple of 8", q.path, len(raw)))
	}
	records := make([]walkrec.Record, len(raw)/8)
	for i := range records {
		records[i] = walkrec.Record(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
		return nil, walkerr.Corrupt("bucket.Queue.drainAndUnlink", err)
	}
	return records, nil
}

// Block holds every thread's in-memory bucket for one (implicitly fixed)
// block p, plus the shared on-disk overflow Queue.
type Block struct {
	p        int
	capacity int
	queue    *Queue
	threads  [][]walkrec.Record
	onDisk   int64
	metrics  *telemetry.Metrics
}

// NewBlock allocates a Block with numThreads independent in-memory buffers
// of the given capacity each, all spilling to the same Queue. metrics may be nil
// in tests that don't care about spill counts.
func NewBlock(p, numThreads, capacity int, queue *Queue, metrics *telemetry.Metrics) *Block {
	threads := make([][]walkrec.Record, numThreads)
	for t := range threads {
		threads[t] = make([]walkrec.Record, 0, capacity)
	}
	return &Block{p: p, capacity: capacity, queue: queue, threads: threads, metrics: metrics}
}

// Push appends r to thread t's buffer. Only thread t may call this — the
// buffer is thread-local write, per spec §5's shared-resource policy.
// When the buffer reaches capacity it is spilled to disk in full and reset.
func (b *Block) Push(t int, r walkrec.Record) error {
	buf := append(b.threads[t], r)
	if len(buf) < b.capacity {
		b.threads[t] = buf
		return nil
	}
	if err := b.queue.append(buf); err != nil {
		return err
	}
	atomic.AddInt64(&b.onDisk, int64(len(buf)))
	b.threads[t] = buf[:0]
	if b.metrics != nil {
		b.metrics.BucketSpillsTotal.Inc()
	}
	return nil
}

// InMemCount returns the number of records currently buffered in memory
// across all threads, for Σ_t |bucket[t][p]| bookkeeping.
func (b *Block) InMemCount() int {
	n := 0
	for _, t := range b.threads {
		n += len(t)
	}
	return n
}

// OnDisk returns the number of records currently sitting in the on-disk
// queue file, i.e. spilled since the last DrainInto.
func (b *Block) OnDisk() int64 { return atomic.LoadInt64(&b.onDisk) }

// DrainInto reads the disk queue (if any) into the front of the result,
// then appends every thread's in-memory contents, and clears all thread
// buffers. The disk queue file is unlinked as part of the read.
func (b *Block) DrainInto() ([]walkrec.Record, error) {
	disk, err := b.queue.drainAndUnlink()
	if err != nil {
		return nil, err
	}
	total := len(disk)
	for _, t := range b.threads {
		total += len(t)
	}
	out := make([]walkrec.Record, 0, total)
	out = append(out, disk...)
	for i, t := range b.threads {
		out = append(out, t...)
		b.threads[i] = t[:0]
	}
	atomic.StoreInt64(&b.onDisk, 0)
	return out, nil
}
