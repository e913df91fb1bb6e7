// Package walkapp defines the narrow contract between the core execution
// engine and a user-supplied walk kernel (spec §4.7, §6 "Application
// contract"). The core never interprets visit data; it only guarantees the
// concurrency contract in spec §5.
package walkapp

import (
	"github.com/vertexwalk/engine/internal/csrstore"
	"github.com/vertexwalk/engine/internal/walkmgr"
	"github.com/vertexwalk/engine/internal/walkrec"
)

// Manager is the subset of walkmgr.Manager a kernel is allowed to call from
// inside Advance: moving a walk across a block boundary and lowering the
// destination block's min_hop. It deliberately excludes seeding, snapshotting,
// and clearing, which are driver-only operations.
type Manager interface {
	Move(record walkrec.Record, newBlock, thread int, newLocalOffset uint32) error
	SetMinHop(block int, hop uint32)
}

// Kernel is implemented by application code (e.g. pkg/ppr) and drives the
// actual random-walk semantics; the engine supplies scheduling, storage, and
// concurrency around it.
type Kernel interface {
	// SeedWalks is called once at engine start to populate buckets via
	// manager.Seed.
	SeedWalks(seeder Seeder) error

	// BeforeBlock is invoked once before a block's walks are advanced. It
	// may load per-block application state (e.g. personalization weights).
	BeforeBlock(p int, lo, hi uint64, manager Manager) error

	// AfterBlock is invoked once after advancement finishes, before the
	// block's CSR is released. It may flush per-block application state.
	AfterBlock(p int, lo, hi uint64, manager Manager) error

	// Advance drives one walk record until it exits block p or terminates.
	// The kernel repeatedly visits the current vertex, samples a next
	// vertex, and increments hop; on crossing into another block it must
	// call manager.Move and manager.SetMinHop itself.
	Advance(record walkrec.Record, p int, block *csrstore.CSR, manager Manager, threadID int) error
}

// Seeder is the subset of walkmgr.Manager a kernel's SeedWalks needs: only
// the ability to place walks, never to drain or clear them.
type Seeder interface {
	Seed(sourceID, block int, localOffset uint32) error
}
