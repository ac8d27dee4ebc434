package xfer

import (
	"context"
	"time"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/dproc"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Get runs a GET batch (spec §4.4 "GET"): resolves the object/copy row,
// drives a decoder per target, then best-effort touches access times.
func (d *Driver) Get(ctx context.Context, targets []*Target) BatchResult {
	errs := runBatch(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		err := d.getOne(ctx, t, true)
		t.RC = perrors.CodeOf(err)
		observe(OpGet, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

// GetMD runs a GETMD batch: same resolution as GET but reads back
// codec-private attributes instead of object bytes (spec §4.4 "GETMD").
func (d *Driver) GetMD(ctx context.Context, targets []*Target) BatchResult {
	errs := runBatch(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		err := d.getOne(ctx, t, false)
		t.RC = perrors.CodeOf(err)
		observe(OpGetMD, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

func (d *Driver) resolveTarget(t *Target) (*catalog.Object, error) {
	if t.Scope == ScopeDeprecated {
		if t.ObjUUID == "" {
			return nil, perrors.New(perrors.EINVAL, "xfer: get deprecated generation requires a uuid", nil)
		}
		return d.Cat.GetDeprecated(t.ObjUUID, t.Version)
	}
	if t.OID != "" {
		alive, err := d.Cat.GetAlive(t.OID)
		switch {
		case err == nil:
			if t.Version == 0 || t.Version == alive.Version {
				return alive, nil
			}
			// An explicit version that doesn't match the alive generation
			// names an older one (spec §8 scenario 3: GET("x", version=1)
			// after an overwrite must return the deprecated v1 payload,
			// not the alive v2 one).
			return d.Cat.GetDeprecated(alive.UUID, t.Version)
		case perrors.CodeOf(err) == perrors.ENOENT && t.Version != 0:
			uuid, ferr := d.Cat.FindUUIDByOID(t.OID)
			if ferr != nil {
				return nil, err
			}
			return d.Cat.GetDeprecated(uuid, t.Version)
		default:
			return nil, err
		}
	}
	if t.ObjUUID != "" {
		// The catalog has no uuid->alive lookup, so a bare uuid is resolved
		// against deprecated generations only; an alive object is reached
		// through its oid.
		return d.Cat.GetDeprecated(t.ObjUUID, t.Version)
	}
	return nil, perrors.New(perrors.EINVAL, "xfer: get requires an oid or uuid", nil)
}

func (d *Driver) getOne(ctx context.Context, t *Target, withBody bool) error {
	obj, err := d.resolveTarget(t)
	if err != nil {
		return perrors.Wrap(err, "xfer: get: resolve object")
	}
	t.UUID = obj.UUID
	t.ResolvedVersion = obj.Version

	copyName := t.CopyName
	if copyName == "" {
		copyName, err = d.bestCopyName(obj.UUID, obj.Version)
		if err != nil {
			return err
		}
	}
	t.ResolvedCopyName = copyName

	l, err := d.Cat.GetLayout(obj.UUID, obj.Version, copyName)
	if err != nil {
		return perrors.Wrap(err, "xfer: get: read layout")
	}

	if withBody && t.BestHost {
		// OBJ_BEST_HOST: only run this target on the host phobos_locate
		// names best, short-circuiting everyone else to EREMOTE (spec §4.4
		// "GET": "only runs targets whose best host matches the local
		// hostname, returning remote for the rest").
		loc, err := d.Codec.Locate(ctx, d.Cat, l, d.Hostname)
		if err != nil {
			return perrors.Wrap(err, "xfer: get: locate best host")
		}
		if loc.Hostname != d.Hostname {
			return perrors.New(perrors.EREMOTE, "xfer: get: best host is "+loc.Hostname, nil)
		}
	}

	if err := d.Codec.GetSpecificAttrs(ctx, d.Alloc, l); err != nil {
		return perrors.Wrap(err, "xfer: get: refresh specific attrs")
	}
	t.Layout = l

	if withBody {
		if t.DstFd == nil {
			return perrors.New(perrors.EINVAL, "xfer: get requires a destination writer", nil)
		}
		p := &dproc.Processor{
			Role:      dproc.RoleDecoder,
			Codec:     d.Codec,
			Alloc:     d.Alloc,
			Cat:       d.Cat,
			SrcLayout: l,
			Sink:      t.DstFd,
			CheckHash: d.Cfg.Raid1.CheckHash,
		}
		if err := d.retryOnBusy(ctx, 8, func() error { return p.Step(ctx) }); err != nil {
			return perrors.Wrap(err, "xfer: get: decode")
		}
	}

	// Best-effort access-time bookkeeping (spec §4.4 phase 3 "Per
	// successful GET: update the copy's access_time").
	_ = d.Cat.TouchCopyAccessTime(obj.UUID, obj.Version, copyName)
	if t.Scope != ScopeDeprecated {
		_ = d.Cat.TouchAccessTime(obj.OID)
	}
	return nil
}

// bestCopyName picks a copy when the caller didn't name one: the first
// complete copy found, falling back to any readable one (spec §4.4 "GET
// without an explicit copy_name picks among complete copies").
func (d *Driver) bestCopyName(uuid string, version int) (string, error) {
	copies, err := d.Cat.ListCopiesByUUIDVersion(uuid, version)
	if err != nil {
		return "", perrors.Wrap(err, "xfer: get: list copies")
	}
	var fallback string
	for _, cp := range copies {
		if cp.Status == catalog.CopyComplete {
			return cp.CopyName, nil
		}
		if fallback == "" && cp.Status == catalog.CopyReadable {
			fallback = cp.CopyName
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", perrors.New(perrors.ENOENT, "xfer: get: no usable copy", nil)
}
