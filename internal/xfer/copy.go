package xfer

import (
	"context"
	"strconv"
	"time"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/dproc"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Copy runs a COPY batch: reads an existing copy and writes a new
// differently-named copy of the same object generation without a client fd
// in between (spec §4.4 "COPY"). The driver pipes decoder bytes straight
// into the encoder via dproc's copier role.
func (d *Driver) Copy(ctx context.Context, targets []*Target) BatchResult {
	errs := runBatch(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		err := d.copyOne(ctx, t)
		t.RC = perrors.CodeOf(err)
		observe(OpCopy, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

func (d *Driver) copyOne(ctx context.Context, t *Target) error {
	if t.OID == "" && t.ObjUUID == "" {
		return perrors.New(perrors.EINVAL, "xfer: copy requires an oid or uuid", nil)
	}
	if t.DestCopyName == "" {
		return perrors.New(perrors.EINVAL, "xfer: copy requires a destination copy name", nil)
	}

	obj, err := d.resolveTarget(t)
	if err != nil {
		return perrors.Wrap(err, "xfer: copy: resolve object")
	}
	t.UUID, t.ResolvedVersion = obj.UUID, obj.Version

	srcCopyName := t.SrcCopyName
	if srcCopyName == "" {
		srcCopyName, err = d.bestCopyName(obj.UUID, obj.Version)
		if err != nil {
			return err
		}
	}
	srcLayout, err := d.Cat.GetLayout(obj.UUID, obj.Version, srcCopyName)
	if err != nil {
		return perrors.Wrap(err, "xfer: copy: read source layout")
	}

	now := time.Now()
	cp := catalog.Copy{
		ObjectUUID:   obj.UUID,
		Version:      obj.Version,
		CopyName:     t.DestCopyName,
		Status:       catalog.CopyIncomplete,
		CreationTime: now,
		AccessTime:   now,
	}
	if err := d.Cat.InsertCopy(cp); err != nil {
		return perrors.Wrap(err, "xfer: copy: insert destination copy row")
	}

	objectSize, err := objectSizeOf(srcLayout)
	if err != nil {
		d.rollbackCopyNamed(obj.UUID, obj.Version, t.DestCopyName)
		return err
	}

	p := &dproc.Processor{
		Role:       dproc.RoleCopier,
		Codec:      d.Codec,
		Alloc:      d.Alloc,
		Cat:        d.Cat,
		ObjectSize: objectSize,
		SrcLayout:  srcLayout,
		CheckHash:  d.Cfg.Raid1.CheckHash,
		DestTarget: layout.WriteTarget{
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			CopyName:   t.DestCopyName,
			Size:       objectSize,
			ModAttrs:   encodeModAttrs(d.Cfg, nil),
		},
	}
	if err := d.retryOnBusy(ctx, 8, func() error { return p.Step(ctx) }); err != nil {
		d.rollbackCopyNamed(obj.UUID, obj.Version, t.DestCopyName)
		return perrors.Wrap(err, "xfer: copy: encode destination")
	}

	l := *p.EncodedLayout
	if err := d.Cat.InsertLayout(l); err != nil {
		d.rollbackCopyNamed(obj.UUID, obj.Version, t.DestCopyName)
		return perrors.Wrap(err, "xfer: copy: insert destination layout")
	}
	if err := d.Cat.SetAllExtentStates(obj.UUID, obj.Version, t.DestCopyName, catalog.ExtentSync); err != nil {
		return perrors.Wrap(err, "xfer: copy: commit extents")
	}
	if err := d.Cat.SetCopyStatus(obj.UUID, obj.Version, t.DestCopyName, catalog.CopyComplete); err != nil {
		return perrors.Wrap(err, "xfer: copy: commit copy status")
	}
	t.Layout = &l
	t.ResolvedCopyName = t.DestCopyName
	return nil
}

func (d *Driver) rollbackCopyNamed(uuid string, version int, copyName string) {
	_ = d.Cat.DeleteCopy(uuid, version, copyName)
}

// objectSizeOf recovers the logical object size from a layout's mod_attrs,
// stamped there by Encode (spec §4.1 "object_size").
func objectSizeOf(l *catalog.Layout) (int64, error) {
	if l.ModAttrs != nil {
		if v, ok := l.ModAttrs.Get("object_size"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	}
	return 0, perrors.New(perrors.EINVAL, "xfer: copy: source layout missing object_size", nil)
}
