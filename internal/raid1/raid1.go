// Package raid1 implements the RAID1 replication layout codec (spec §4.1):
// splits an object into one or more splits, writes replica_count identical
// copies of each split across distinct media, verifies per-extent content
// hashes on read, and implements replica-aware object location with
// early-locking (§4.2, see locator.go).
package raid1

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/hashset"
	"github.com/cea-hpc/phobosd-go/internal/ioadapter"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/metrics"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

const (
	attrExtentIndex = "raid1.extent_index"
	attrReplCount   = "raid1.repl_count"

	// legacy key accepted on read for backward compatibility (spec §4.1
	// "legacy read accepts repl_count for backward compatibility").
	legacyReplCountKey = "repl_count"
	modAttrReplCount   = "raid1.repl_count"
	modAttrObjectSize  = "object_size"

	defaultBlockSize = 64 * 1024
)

// Codec implements layout.Codec for RAID1. The adapter is used for the
// actual byte-level IO once the LRS (via Allocator) has granted an
// allocation; Codec itself never talks to a medium directly except through
// the adapter handed to it at construction (one adapter per medium family
// in this minimal rewrite — see internal/lrs).
type Codec struct {
	adapter ioadapter.Adapter
}

// New builds a RAID1 codec bound to adapter, the IO endpoint used for
// reading/writing extent bytes once the LRS has granted an allocation.
func New(adapter ioadapter.Adapter) *Codec {
	return &Codec{adapter: adapter}
}

func (c *Codec) Name() string { return "raid1" }

// replCountFor resolves the effective replica count for an encode: explicit
// mod_attrs override beats the configured default (spec §4.1
// "Configuration").
func replCountFor(target layout.WriteTarget, configDefault int) int {
	if target.ModAttrs != nil {
		if v, ok := target.ModAttrs.Get("repl_count"); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 {
				return n
			}
		}
	}
	if configDefault < 1 {
		return 2
	}
	return configDefault
}

// ReplCountOf reads the persisted repl_count back off a layout, accepting
// the legacy key for backward compatibility (spec §4.1).
func ReplCountOf(l *catalog.Layout) (int, error) {
	if l.ModAttrs != nil {
		if v, ok := l.ModAttrs.Get(modAttrReplCount); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 {
				return n, nil
			}
		}
		if v, ok := l.ModAttrs.Get(legacyReplCountKey); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 {
				return n, nil
			}
		}
	}
	return 0, perrors.New(perrors.EINVAL, "raid1: invalid replica count configuration", nil)
}

// DefaultReplCount is used by callers (internal/xfer) that need a fallback
// before a layout exists at all.
const DefaultReplCount = 2

// Encode implements layout.Codec (spec §4.1 "Write algorithm").
//
// The object is written one split at a time: each split requests its own
// write allocation, and the LRS grant's SplitSize bounds how many bytes of
// the remainder that allocation may hold (spec §4.1 "the length of each
// split is decided by the LRS allocation (medium capacity, minimum block
// size)"). Within a split, the reader pulls bytes from r in chunks of size
// min(remaining_in_split, buffer_capacity), the writer fans them out to
// every one of the R replica IO adapters, and a single canonical hasher
// accumulates the running digest (spec §4.1 "Hash propagation": "a single
// running digest per split is sufficient"). Encoding continues until the
// whole object has been written (spec §8 "Replication": ext_count = R ×
// split_count).
func (c *Codec) Encode(ctx context.Context, alloc layout.Allocator, target layout.WriteTarget, r io.Reader) (*catalog.Layout, error) {
	replCount := replCountFor(target, DefaultReplCount)
	if replCount < 1 {
		return nil, perrors.New(perrors.EINVAL, "raid1: invalid replica count configuration", nil)
	}

	enableMD5 := true
	enableXXH := true
	if target.ModAttrs != nil {
		if v, ok := target.ModAttrs.Get("extent_md5"); ok {
			enableMD5 = v != "no"
		}
		if v, ok := target.ModAttrs.Get("extent_xxh128"); ok {
			enableXXH = v != "no"
		}
	}

	var extents []catalog.Extent
	var written int64
	toWrite := target.Size
	for split := 0; toWrite > 0 || split == 0; split++ {
		splitExtents, n, err := c.encodeSplit(ctx, alloc, split, replCount, toWrite, written, enableMD5, enableXXH, r)
		if err != nil {
			return nil, err
		}
		extents = append(extents, splitExtents...)
		written += n
		toWrite -= n
		if n == 0 {
			break
		}
	}

	modAttrs := attrs.New()
	if target.ModAttrs != nil {
		for _, k := range target.ModAttrs.Keys() {
			if k == "repl_count" {
				continue
			}
			v, _ := target.ModAttrs.Get(k)
			modAttrs.Set(k, v)
		}
	}
	modAttrs.Set(modAttrReplCount, strconv.Itoa(replCount))
	modAttrs.Set(modAttrObjectSize, strconv.FormatInt(written, 10))

	return &catalog.Layout{
		ObjectUUID: target.ObjectUUID,
		Version:    target.Version,
		CopyName:   target.CopyName,
		LayoutName: "raid1",
		ModAttrs:   modAttrs,
		Extents:    extents,
	}, nil
}

// encodeSplit requests one write allocation and writes min(remaining,
// grant.SplitSize) bytes through replCount replicas, stamping each extent's
// layout_idx at split*replCount+i (spec §3 "Extent": "extents[i*repl_count
// .. (i+1)*repl_count-1] are replicas of split i"). offset is the object
// offset this split starts at, for the Offset field replicas of the same
// split share.
func (c *Codec) encodeSplit(ctx context.Context, alloc layout.Allocator, split, replCount int, remaining, offset int64, enableMD5, enableXXH bool, r io.Reader) ([]catalog.Extent, int64, error) {
	grant, err := alloc.RequestWrite(ctx, catalog.FamilyDir, "", replCount, remaining)
	if err != nil {
		return nil, 0, perrors.Wrap(err, "raid1: request write allocation")
	}
	if len(grant.Media) < replCount || len(grant.Addresses) < replCount {
		return nil, 0, perrors.New(perrors.ENODEV, "raid1: write grant short of requested replicas", nil)
	}

	splitSize := remaining
	if grant.SplitSize > 0 && grant.SplitSize < splitSize {
		splitSize = grant.SplitSize
	}

	blockSize := smallestNonZero(grant.BlockSizes)
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}

	writers := make([]io.WriteCloser, replCount)
	for i := 0; i < replCount; i++ {
		w, _, err := c.adapter.Open(grant.Addresses[i], true)
		if err != nil {
			closeAll(writers[:i])
			return nil, 0, perrors.Wrap(err, "raid1: open replica for write")
		}
		writers[i] = w
	}

	hset := hashset.NewSet(enableMD5, enableXXH)
	buf := make([]byte, blockSize)
	var written int64

	toWrite := splitSize
	for toWrite > 0 {
		n := int64(len(buf))
		if toWrite < n {
			n = toWrite
		}
		nr, rerr := io.ReadFull(r, buf[:n])
		if nr > 0 {
			hset.Write(buf[:nr])
			for i, w := range writers {
				if _, werr := w.Write(buf[:nr]); werr != nil {
					closeAll(writers)
					return nil, 0, perrors.Wrap(werr, fmt.Sprintf("raid1: write replica %d", i))
				}
			}
			written += int64(nr)
			toWrite -= int64(nr)
		}
		if rerr != nil {
			closeAll(writers)
			return nil, 0, perrors.Wrap(rerr, "raid1: read source")
		}
	}

	digests := hset.Finalize()
	for i, w := range writers {
		if err := w.Close(); err != nil {
			return nil, 0, perrors.Wrap(err, fmt.Sprintf("raid1: close replica %d", i))
		}
		attrsIO, err := c.adapter.MetaOpen(grant.Addresses[i])
		if err != nil {
			return nil, 0, perrors.Wrap(err, "raid1: open attrs for stamping")
		}
		layoutIdx := split*replCount + i
		if err := attrsIO.Set(attrExtentIndex, strconv.Itoa(layoutIdx)); err != nil {
			return nil, 0, perrors.Wrap(err, "raid1: stamp extent_index")
		}
		if err := attrsIO.Set(attrReplCount, strconv.Itoa(replCount)); err != nil {
			return nil, 0, perrors.Wrap(err, "raid1: stamp repl_count")
		}
	}

	if err := alloc.Release(ctx, grant.GrantID); err != nil {
		return nil, 0, perrors.Wrap(err, "raid1: release write allocation")
	}

	extents := make([]catalog.Extent, replCount)
	for i := 0; i < replCount; i++ {
		e := catalog.Extent{
			ExtentUUID:  uuid.NewString(),
			State:       catalog.ExtentPending,
			Size:        written,
			Medium:      grant.Media[i],
			Address:     grant.Addresses[i],
			LayoutIndex: split*replCount + i,
			Offset:      offset,
		}
		if d, ok := digests[hashset.MD5]; ok {
			e.HashMD5 = d.Hex
		}
		if d, ok := digests[hashset.XXH128]; ok {
			e.HashXXH128 = d.Hex
		}
		extents[i] = e
	}
	return extents, written, nil
}

// Decode implements layout.Codec (spec §4.1 "Decoder").
func (c *Codec) Decode(ctx context.Context, alloc layout.Allocator, l *catalog.Layout, w io.Writer, checkHash bool) error {
	replCount, err := ReplCountOf(l)
	if err != nil {
		return err
	}
	if len(l.Extents)%replCount != 0 {
		return perrors.New(perrors.EINVAL, "raid1: extent count not a multiple of repl_count", nil)
	}
	splitCount := len(l.Extents) / replCount
	var toRead int64
	for s := 0; s < splitCount; s++ {
		toRead += l.Extents[s*replCount].Size
	}
	if toRead == 0 {
		return nil
	}

	grant, err := alloc.RequestRead(ctx, l.ObjectUUID, l.Version, l.CopyName)
	if err != nil {
		return perrors.Wrap(err, "raid1: request read allocation")
	}

	for s := 0; s < splitCount; s++ {
		idx, ok := grant.ChosenExtentAt[s]
		if !ok || idx < 0 || idx >= len(l.Extents) {
			_ = alloc.Release(ctx, grant.GrantID)
			return perrors.New(perrors.ENODEV, fmt.Sprintf("raid1: no replica nominated for split %d", s), nil)
		}
		ext := l.Extents[idx]
		if err := c.decodeSplit(ext, w, checkHash); err != nil {
			_ = alloc.Release(ctx, grant.GrantID)
			return err
		}
	}

	return alloc.Release(ctx, grant.GrantID)
}

func (c *Codec) decodeSplit(ext catalog.Extent, w io.Writer, checkHash bool) error {
	r, _, err := c.adapter.Open(ext.Address, false)
	if err != nil {
		return perrors.Wrap(err, "raid1: open replica for read")
	}
	defer r.Close()

	enableMD5 := ext.HashMD5 != ""
	enableXXH := ext.HashXXH128 != ""
	hset := hashset.NewSet(enableMD5 && checkHash, enableXXH && checkHash)

	buf := make([]byte, defaultBlockSize)
	remaining := ext.Size
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		nr, rerr := io.ReadFull(r, buf[:n])
		if nr > 0 {
			if checkHash {
				hset.Write(buf[:nr])
			}
			if _, werr := w.Write(buf[:nr]); werr != nil {
				return perrors.Wrap(werr, "raid1: write to sink")
			}
			remaining -= int64(nr)
		}
		if rerr != nil {
			return perrors.Wrap(rerr, "raid1: read replica")
		}
	}

	if checkHash {
		digests := hset.Finalize()
		if enableMD5 {
			if d := digests[hashset.MD5]; !d.Equal(ext.HashMD5) {
				metrics.HashVerifyFailuresTotal.Inc()
				return perrors.New(perrors.EINVAL, "raid1: md5 mismatch on read", nil)
			}
		}
		if enableXXH {
			if d := digests[hashset.XXH128]; !d.Equal(ext.HashXXH128) {
				metrics.HashVerifyFailuresTotal.Inc()
				return perrors.New(perrors.EINVAL, "raid1: xxh128 mismatch on read", nil)
			}
		}
	}
	return nil
}

// Erase implements layout.Codec (spec §4.1 "Eraser"): deletes non-tape
// extents outright; tape-resident extents transition to orphan instead,
// since tape is append-only in practice.
func (c *Codec) Erase(ctx context.Context, alloc layout.Allocator, l *catalog.Layout) error {
	for i, ext := range l.Extents {
		if ext.Medium.Family == catalog.FamilyTape {
			l.Extents[i].State = catalog.ExtentOrphan
			continue
		}
		if err := c.adapter.Delete(ext.Address); err != nil {
			return perrors.Wrap(err, "raid1: delete extent")
		}
	}
	return nil
}

// GetSpecificAttrs implements layout.Codec (spec §4.1 "Specific
// attributes"): opens each extent in metadata-only mode and reads back the
// codec-private attributes. A missing attribute signals a corrupted extent.
func (c *Codec) GetSpecificAttrs(ctx context.Context, alloc layout.Allocator, l *catalog.Layout) error {
	var replCount int
	for i := range l.Extents {
		attrsIO, err := c.adapter.MetaOpen(l.Extents[i].Address)
		if err != nil {
			return perrors.Wrap(err, "raid1: meta-open extent")
		}
		idxStr, ok, err := attrsIO.Get(attrExtentIndex)
		if err != nil {
			return err
		}
		if !ok {
			return perrors.New(perrors.EINVAL, "raid1: corrupted extent: missing extent_index", nil)
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return perrors.New(perrors.EINVAL, "raid1: corrupted extent: bad extent_index", err)
		}
		l.Extents[i].LayoutIndex = idx

		rcStr, ok, err := attrsIO.Get(attrReplCount)
		if err != nil {
			return err
		}
		if !ok {
			return perrors.New(perrors.EINVAL, "raid1: corrupted extent: missing repl_count", nil)
		}
		rc, err := strconv.Atoi(rcStr)
		if err != nil {
			return perrors.New(perrors.EINVAL, "raid1: corrupted extent: bad repl_count", err)
		}
		replCount = rc
	}
	if replCount > 0 {
		if l.ModAttrs == nil {
			l.ModAttrs = attrs.New()
		}
		l.ModAttrs.Set(modAttrReplCount, strconv.Itoa(replCount))
	}
	return nil
}

// Reconstruct implements layout.Codec (spec §4.1 "Reconstruct").
func (c *Codec) Reconstruct(l *catalog.Layout, objectSize int64) layout.ReconstructResult {
	replCount, err := ReplCountOf(l)
	if err != nil || replCount < 1 {
		return layout.ReconstructIncomplete
	}

	var total int64
	for _, e := range l.Extents {
		total += e.Size
	}
	if total == int64(replCount)*objectSize {
		return layout.ReconstructComplete
	}

	// Walk one replica's worth of (offset, size) tuples — replicas of the
	// same split always share offset/size (spec §3 "Extent"), so taking
	// every replCount-th extent gives one row per split.
	splits := map[int64]int64{} // offset -> size
	for i := 0; i < len(l.Extents); i += replCount {
		splits[l.Extents[i].Offset] = l.Extents[i].Size
	}
	var cursor int64
	for cursor < objectSize {
		size, ok := splits[cursor]
		if !ok || size == 0 {
			return layout.ReconstructIncomplete
		}
		cursor += size
	}
	if cursor == objectSize {
		return layout.ReconstructReadable
	}
	return layout.ReconstructIncomplete
}

func smallestNonZero(vals []int) int {
	best := 0
	for _, v := range vals {
		if v <= 0 {
			continue
		}
		if best == 0 || v < best {
			best = v
		}
	}
	return best
}

func closeAll(writers []io.WriteCloser) {
	for _, w := range writers {
		if w != nil {
			_ = w.Close()
		}
	}
}

var _ layout.Codec = (*Codec)(nil)
