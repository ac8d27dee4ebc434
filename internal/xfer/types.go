// Package xfer implements the transfer driver (spec §4.4): a per-batch
// handle coordinating N data processors, request routing to the LRS,
// catalog writes, and rollback. It drives internal/dproc and
// internal/catalog and reaches the codec and the LRS only through the
// layout.Codec/Allocator interfaces; pkg/store wires in internal/raid1 and
// internal/lrs.
package xfer

import (
	"io"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Op names one batch operation (spec §4.4 "operation tag").
type Op string

const (
	OpPut   Op = "PUT"
	OpGet   Op = "GET"
	OpGetMD Op = "GETMD"
	OpDel   Op = "DEL"
	OpUndel Op = "UNDEL"
	OpCopy  Op = "COPY"
)

// Target is one per-object descriptor within a batch (spec §3 "Transfer
// target", §4.4 "Xfer descriptor fields").
type Target struct {
	OID     string
	ObjUUID string // optional; derived from OID when empty
	Version int    // 0 means "unspecified" / "latest"

	// Source (PUT/COPY-put-side) or destination (GET) byte stream.
	SrcFd io.Reader
	DstFd io.Writer

	Size  int64
	Attrs *attrs.Map

	Family    catalog.MediumFamily
	Grouping  string
	CopyName  string
	Overwrite bool
	Scope     Scope // GET/DEL scope: alive vs deprecated

	// BestHost is GET's OBJ_BEST_HOST flag (spec §4.4 "GET"): when set, the
	// driver only runs this target on the host phobos_locate names best,
	// returning EREMOTE on every other host.
	BestHost bool

	// COPY's nested get+put parameters: src copy name to read, dest copy
	// name to create.
	SrcCopyName  string
	DestCopyName string

	// Result, populated by the driver (spec §4.4 "per-target result
	// code").
	RC perrors.Code

	// Resolved fields, populated by the driver once the target's identity
	// and copy are known — the uuid/version/copy_name a bare oid resolved
	// to, and (after a successful IO phase) the layout that was read or
	// written (spec §6 "responses carry the resolved uuid/version/copy_name").
	UUID             string
	ResolvedVersion  int
	ResolvedCopyName string
	Layout           *catalog.Layout
}

// Scope restricts which generation a GET/DEL targets (spec §6 "GET, DEL:
// copy_name/scope").
type Scope string

const (
	ScopeAlive      Scope = "alive"
	ScopeDeprecated Scope = "deprecated"
)

// BatchResult is the driver's per-batch outcome (spec §4.4 "Public
// contract": "returns a representative batch result code ... and
// per-transfer result codes").
type BatchResult struct {
	RC          perrors.Code
	TargetCodes []perrors.Code
}

// resultCode computes the §4.4 "Per-xfer return code" priority rule across
// a batch: any medium-global error wins; else the first non-zero; else 0.
func resultCode(errs []error) (perrors.Code, []perrors.Code) {
	codes := make([]perrors.Code, len(errs))
	var mediumGlobal perrors.Code
	haveGlobal := false
	var firstNonZero perrors.Code
	haveFirst := false
	for i, err := range errs {
		c := perrors.CodeOf(err)
		codes[i] = c
		if c == 0 {
			continue
		}
		if perrors.IsMediumGlobal(err) && !haveGlobal {
			mediumGlobal = c
			haveGlobal = true
		}
		if !haveFirst {
			firstNonZero = c
			haveFirst = true
		}
	}
	if haveGlobal {
		return mediumGlobal, codes
	}
	if haveFirst {
		return firstNonZero, codes
	}
	return 0, codes
}
