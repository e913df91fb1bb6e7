// Package walkrec implements the packed 64-bit walk record codec (spec §4.3).
//
// A Record is an opaque uint64: no allocation, no pointers. The layout is
// fixed by spec §6's wire format and must not change without a version bump
// to the on-disk `.walks` format:
//
//	bit 63                                   40 39                  14 13      0
//	[ source_id : 24 bits ] [ current_local_offset : 26 bits ] [ hop_counter : 14 bits ]
package walkrec

import (
	"fmt"

	"github.com/vertexwalk/engine/internal/walkerr"
)

const (
	hopBits     = 14
	currentBits = 26
	sourceBits  = 24

	// MaxHop is the largest representable hop_counter (exclusive upper bound).
	MaxHop = 1 << hopBits
	// MaxCurrent is the largest representable current_local_offset (exclusive).
	MaxCurrent = 1 << currentBits
	// MaxSource is the largest representable source_id (exclusive).
	MaxSource = 1 << sourceBits

	hopMask     = MaxHop - 1
	currentMask = MaxCurrent - 1
	sourceMask  = MaxSource - 1

	currentShift = hopBits
	sourceShift  = hopBits + currentBits
)

// Record is a packed (source, current-in-block, hop) triple.
type Record uint64

// Encode packs source, current, and hop into a Record. It returns an
// OverflowEncoding error if any field exceeds its bit width; per spec §7
// this must be checked eagerly at seed time, not discovered later from a
// silently-truncated record.
func Encode(source, current, hop uint32) (Record, error) {
	if source >= MaxSource {
		return 0, walkerr.OverflowEncoding("walkrec.Encode",
			fmt.Errorf("source_id %d exceeds %d-bit limit (max %d)", source, sourceBits, MaxSource-1))
	}
	if current >= MaxCurrent {
		return 0, walkerr.OverflowEncoding("walkrec.Encode",
			fmt.Errorf("current_local_offset %d exceeds %d-bit limit (max %d); widen the record format", current, currentBits, MaxCurrent-1))
	}
	if hop >= MaxHop {
		return 0, walkerr.OverflowEncoding("walkrec.Encode",
			fmt.Errorf("hop_counter %d exceeds %d-bit limit (max %d)", hop, hopBits, MaxHop-1))
	}
	return Record(uint64(source)<<sourceShift | uint64(current)<<currentShift | uint64(hop)), nil
}

// Source returns the source_id field.
func (r Record) Source() uint32 { return uint32(uint64(r)>>sourceShift) & sourceMask }

// Current returns the current_local_offset field.
func (r Record) Current() uint32 { return uint32(uint64(r)>>currentShift) & currentMask }

// Hop returns the hop_counter field.
func (r Record) Hop() uint32 { return uint32(uint64(r)) & hopMask }

// Decode is the inverse of Encode.
func Decode(r Record) (source, current, hop uint32) {
	return r.Source(), r.Current(), r.Hop()
}

// Rebase preserves source and hop, replacing current. Used whenever a walk is
// handed to a different block and its local offset needs re-basing.
func (r Record) Rebase(newCurrent uint32) (Record, error) {
	return Encode(r.Source(), newCurrent, r.Hop())
}

// WithHop preserves source and current, replacing hop. Used when a walk
// advances within the same block without crossing.
func (r Record) WithHop(newHop uint32) (Record, error) {
	return Encode(r.Source(), r.Current(), newHop)
}
