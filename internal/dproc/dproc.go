// Package dproc implements the data processor (spec §4.3): a per-target
// state machine with encoder/decoder/eraser/copier roles that drives a
// layout codec against an LRS allocator and a client-supplied fd.
//
// The spec describes each processor operation as a bounded, resumable step
// that emits LRS requests and returns, suspending at request/response
// boundaries (spec §4.3 "Scheduling model"). This module's Allocator
// (internal/lrs.Client) issues those requests over a synchronous
// request/response RPC rather than literally interleaving with a poll loop
// — see DESIGN.md for the rationale. The Processor type keeps the shape the
// spec requires (role, done flag, a single Step call per invocation) so a
// future asynchronous LRS transport could be swapped in behind the same
// Allocator interface without changing this package's public shape.
package dproc

import (
	"context"
	"io"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Role names one of the four processor shapes (spec §4.3 "Role variants").
type Role string

const (
	RoleEncoder Role = "encoder"
	RoleDecoder Role = "decoder"
	RoleEraser  Role = "eraser"
	RoleCopier  Role = "copier"
)

// Processor is a per-target handle coordinating one codec invocation (spec
// §3 "Data processor", §4.3). The spec's shared-buffer, reader/writer/eraser
// operation-vector machinery lives inside the codec itself now that
// raid1.Codec.Encode/Decode iterate per split; Processor exposes only
// Done/Err, since a single synchronous Step call has no intermediate state
// worth surfacing to a caller.
type Processor struct {
	Role       Role
	Codec      layout.Codec
	Alloc      layout.Allocator
	Cat        *catalog.Catalog
	ObjectSize int64

	// Encoder fields.
	WriteTarget layout.WriteTarget
	Source      io.Reader
	EncodedLayout *catalog.Layout

	// Decoder fields.
	SrcLayout *catalog.Layout
	Sink      io.Writer
	CheckHash bool

	// Copier fields: a copier is a decoder feeding an encoder through a
	// pipe, standing in for the shared buffer of spec §4.3 ("A copier is a
	// decoder feeding an encoder through the shared buffer").
	DestTarget layout.WriteTarget

	done bool
	err  error
}

// Done reports whether this processor has reached its terminal condition
// (spec §4.3 "Completion").
func (p *Processor) Done() bool { return p.done }

// Err returns the processor's terminal error, if any.
func (p *Processor) Err() error { return p.err }

// Step runs this processor's entire codec invocation and marks it done
// (spec §4.3 "Completion": encoder done once extents are stamped and
// allocations released; decoder done once object_size bytes are written;
// eraser done once every deletion request is issued; copier meets both).
func (p *Processor) Step(ctx context.Context) error {
	if p.done {
		return nil
	}
	defer func() { p.done = true }()

	switch p.Role {
	case RoleEncoder:
		l, err := p.Codec.Encode(ctx, p.Alloc, p.WriteTarget, p.Source)
		if err != nil {
			p.err = err
			return err
		}
		p.EncodedLayout = l
		return nil

	case RoleDecoder:
		if err := p.Codec.Decode(ctx, p.Alloc, p.SrcLayout, p.Sink, p.CheckHash); err != nil {
			p.err = err
			return err
		}
		return nil

	case RoleEraser:
		if err := p.Codec.Erase(ctx, p.Alloc, p.SrcLayout); err != nil {
			p.err = err
			return err
		}
		return nil

	case RoleCopier:
		pr, pw := io.Pipe()
		decodeErrCh := make(chan error, 1)
		go func() {
			decodeErrCh <- p.Codec.Decode(ctx, p.Alloc, p.SrcLayout, pw, p.CheckHash)
			pw.Close()
		}()
		l, encErr := p.Codec.Encode(ctx, p.Alloc, p.DestTarget, pr)
		decErr := <-decodeErrCh
		if decErr != nil {
			p.err = decErr
			return decErr
		}
		if encErr != nil {
			p.err = encErr
			return encErr
		}
		p.EncodedLayout = l
		return nil

	default:
		p.err = perrors.New(perrors.EINVAL, "dproc: unknown role", nil)
		return p.err
	}
}
