// Package layout declares the polymorphic layout codec contract (spec §2,
// §4.1, §9 "Dynamic dispatch"): {Encode, Decode, Erase, Locate,
// GetSpecificAttrs, Reconstruct}. RAID1 (internal/raid1) is the only
// implementation in scope; other variants are out of scope per spec §1.
package layout

import (
	"context"
	"io"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
)

// WriteTarget is one destination the encoder must produce: an IO
// allocation source (the LRS, reached via Allocator) and the byte count to
// write.
type WriteTarget struct {
	ObjectUUID string
	Version    int
	CopyName   string
	Size       int64
	ModAttrs   *attrs.Map
}

// ReconstructResult classifies a copy's completeness (spec §4.1
// "Reconstruct").
type ReconstructResult string

const (
	ReconstructComplete   ReconstructResult = "complete"
	ReconstructReadable   ReconstructResult = "readable"
	ReconstructIncomplete ReconstructResult = "incomplete"
)

// LocateResult is the outcome of a Locate call (spec §4.2 step 7).
type LocateResult struct {
	Hostname string
	NewLocks int
}

// Codec is the layout codec capability set. A concrete codec is handed an
// Allocator (normally the LRS client) on each Encode/Decode/Erase call so it
// can request IO allocations without depending on internal/lrs directly
// (avoids an import cycle: internal/lrs depends on internal/catalog and
// internal/ioadapter, not the reverse).
type Codec interface {
	Name() string

	// Encode writes r's bytes as a new layout for target, returning the
	// persisted layout (not yet committed to the catalog — the caller,
	// internal/xfer, owns the commit/rollback decision per spec §4.4).
	Encode(ctx context.Context, alloc Allocator, target WriteTarget, r io.Reader) (*catalog.Layout, error)

	// Decode reads an existing layout's bytes into w, optionally verifying
	// hashes per checkHash (spec §4.1 "Decoder").
	Decode(ctx context.Context, alloc Allocator, l *catalog.Layout, w io.Writer, checkHash bool) error

	// Erase deletes or orphans every extent of l (spec §4.1 "Eraser").
	Erase(ctx context.Context, alloc Allocator, l *catalog.Layout) error

	// Locate chooses the best host to serve l and reserves media (spec
	// §4.2).
	Locate(ctx context.Context, cat *catalog.Catalog, l *catalog.Layout, focusHost string) (LocateResult, error)

	// GetSpecificAttrs reads back codec-private extent attributes and
	// populates layout_idx / mod_attrs mirrors (spec §4.1 "Specific
	// attributes").
	GetSpecificAttrs(ctx context.Context, alloc Allocator, l *catalog.Layout) error

	// Reconstruct classifies copy completeness from persisted extent
	// geometry (spec §4.1 "Reconstruct").
	Reconstruct(l *catalog.Layout, objectSize int64) ReconstructResult
}

// Allocator is the subset of the LRS client a codec needs: request a write
// or read allocation and release it. Defined here (not in internal/lrs) to
// keep internal/layout free of a dependency on the concrete broker.
type Allocator interface {
	// RequestWrite asks for n replica slots able to hold up to remaining
	// bytes of a split; the grant's SplitSize tells the caller how much of
	// that it may actually write before a fresh allocation is needed (spec
	// §4.1 "the length of each split is decided by the LRS allocation").
	RequestWrite(ctx context.Context, family catalog.MediumFamily, grouping string, n int, remaining int64) (WriteGrant, error)
	RequestRead(ctx context.Context, objectUUID string, version int, copyName string) (ReadGrant, error)
	Release(ctx context.Context, grantID string) error
}

// WriteGrant is what the LRS hands back for a write-allocation request:
// one medium + IO-adapter endpoint per requested replica/split slot, plus a
// preferred block size per endpoint (spec §6 "write-responses carry
// per-replica medium identity, IO-adapter endpoint, and preferred block
// size").
type WriteGrant struct {
	GrantID    string
	Media      []catalog.MediumRef
	Addresses  []string
	BlockSizes []int
	SplitSize  int64 // LRS-decided split length (medium capacity, min block)
}

// ReadGrant is what the LRS hands back for a read-allocation request: the
// chosen replica per split (spec §6 "read-responses carry the chosen
// replica per split").
type ReadGrant struct {
	GrantID        string
	ChosenExtentAt map[int]int // split index -> extents[] index of the chosen replica
}
