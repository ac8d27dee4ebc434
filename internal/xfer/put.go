package xfer

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/config"
	"github.com/cea-hpc/phobosd-go/internal/dproc"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Put runs a PUT batch (spec §4.4 "PUT"): phase 1 reserves the catalog rows
// under lock, phase 2 drives an encoder per target, phase 3 commits the
// layout or rolls back on failure. Each target is independent; one
// target's failure does not abort the others (spec §4.4 "Per-xfer return
// code").
func (d *Driver) Put(ctx context.Context, targets []*Target) BatchResult {
	errs := runBatch(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		err := d.putOne(ctx, t)
		t.RC = perrors.CodeOf(err)
		observe(OpPut, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

func (d *Driver) putOne(ctx context.Context, t *Target) error {
	if t.OID == "" {
		return perrors.New(perrors.EINVAL, "xfer: put requires an oid", nil)
	}
	if t.CopyName == "" {
		t.CopyName = "source"
	}

	// --- phase 1: catalog reservation (spec §4.4 "PUT phase 1") ---
	lockKey := "object:" + t.OID
	if err := d.Cat.AcquireLocks(catalog.LockObject, []string{lockKey}, d.Hostname, pidOf()); err != nil {
		return perrors.Wrap(err, "xfer: put lock oid")
	}
	defer d.Cat.ReleaseLocks(catalog.LockObject, []string{lockKey}, d.Hostname)

	prior, err := d.Cat.GetAlive(t.OID)
	now := time.Now()
	switch {
	case err == nil:
		// Overwrite: deprecate the prior generation, bump the version.
		if !t.Overwrite {
			return perrors.New(perrors.EEXIST, "xfer: put: alive object exists for "+t.OID, nil)
		}
		if derr := d.Cat.AppendDeprecated(*prior); derr != nil {
			return perrors.Wrap(derr, "xfer: put: deprecate prior generation")
		}
		t.UUID = prior.UUID
		t.ResolvedVersion = prior.Version + 1
	case perrors.CodeOf(err) == perrors.ENOENT:
		t.UUID = uuid.NewString()
		t.ResolvedVersion = 1
	default:
		return perrors.Wrap(err, "xfer: put: read prior alive row")
	}

	obj := catalog.Object{
		OID:          t.OID,
		UUID:         t.UUID,
		Version:      t.ResolvedVersion,
		UserMD:       t.Attrs,
		Grouping:     t.Grouping,
		CreationTime: now,
		AccessTime:   now,
	}
	if obj.UserMD == nil {
		obj.UserMD = attrs.New()
	}
	if prior == nil {
		if err := d.Cat.InsertAlive(obj); err != nil {
			return perrors.Wrap(err, "xfer: put: insert alive row")
		}
	} else {
		if err := d.Cat.ReplaceAlive(obj); err != nil {
			return perrors.Wrap(err, "xfer: put: replace alive row")
		}
	}

	cp := catalog.Copy{
		ObjectUUID:   t.UUID,
		Version:      t.ResolvedVersion,
		CopyName:     t.CopyName,
		Status:       catalog.CopyIncomplete,
		CreationTime: now,
		AccessTime:   now,
	}
	if err := d.Cat.InsertCopy(cp); err != nil {
		d.rollbackObjectRows(t, prior)
		return perrors.Wrap(err, "xfer: put: insert copy row")
	}

	// --- phase 2: IO loop, one encoder step per target (spec §4.4 phase
	// 2; see internal/dproc package doc for the single-step simplification
	// of the literal suspend/resume model). ---
	p := &dproc.Processor{
		Role:       dproc.RoleEncoder,
		Codec:      d.Codec,
		Alloc:      d.Alloc,
		Cat:        d.Cat,
		ObjectSize: t.Size,
		WriteTarget: layout.WriteTarget{
			ObjectUUID: t.UUID,
			Version:    t.ResolvedVersion,
			CopyName:   t.CopyName,
			Size:       t.Size,
			ModAttrs:   encodeModAttrs(d.Cfg, t.Attrs),
		},
		Source: t.SrcFd,
	}
	if err := d.retryOnBusy(ctx, 8, func() error { return p.Step(ctx) }); err != nil {
		d.rollbackCopy(t)
		d.rollbackObjectRows(t, prior)
		return perrors.Wrap(err, "xfer: put: encode")
	}

	// --- phase 3: commit (spec §4.4 "PUT phase 3") ---
	l := *p.EncodedLayout
	if err := d.Cat.InsertLayout(l); err != nil {
		d.rollbackCopy(t)
		d.rollbackObjectRows(t, prior)
		return perrors.Wrap(err, "xfer: put: insert layout")
	}
	if err := d.Cat.SetAllExtentStates(t.UUID, t.ResolvedVersion, t.CopyName, catalog.ExtentSync); err != nil {
		return perrors.Wrap(err, "xfer: put: commit extents")
	}
	if err := d.Cat.SetCopyStatus(t.UUID, t.ResolvedVersion, t.CopyName, catalog.CopyComplete); err != nil {
		return perrors.Wrap(err, "xfer: put: commit copy status")
	}
	t.Layout = &l
	return nil
}

// rollbackCopy marks a failed PUT/COPY's copy row orphaned by deleting it —
// an incomplete copy with no extents carries nothing worth keeping (spec
// §4.4 "best-effort catalog cleanup on failed PUT/COPY").
func (d *Driver) rollbackCopy(t *Target) {
	_ = d.Cat.DeleteCopy(t.UUID, t.ResolvedVersion, t.CopyName)
}

// rollbackObjectRows undoes the phase-1 object-row reservation: if this PUT
// created a brand new alive row, delete it; if it overwrote one, restore
// the deprecated row it moved and put the prior generation back as alive.
func (d *Driver) rollbackObjectRows(t *Target, prior *catalog.Object) {
	if prior == nil {
		_ = d.Cat.DeleteAlive(t.OID)
		return
	}
	_ = d.Cat.ReplaceAlive(*prior)
	_ = d.Cat.DeleteDeprecated(prior.UUID, prior.Version)
}

// encodeModAttrs builds the mod_attrs map a PUT/COPY passes to the codec:
// the configured RAID1 defaults, overridden by any layout-param attributes
// the caller set on the object (spec §4.1 "Configuration" / "per-transfer
// layout-param attribute set").
func encodeModAttrs(cfg *config.Config, userAttrs *attrs.Map) *attrs.Map {
	m := attrs.New()
	m.Set("repl_count", strconv.Itoa(cfg.Raid1.ReplCount))
	if !cfg.Raid1.ExtentMD5 {
		m.Set("extent_md5", "no")
	}
	if !cfg.Raid1.ExtentXXH128 {
		m.Set("extent_xxh128", "no")
	}
	if userAttrs == nil {
		return m
	}
	for _, k := range userAttrs.Keys() {
		v, _ := userAttrs.Get(k)
		m.Set(k, v)
	}
	return m
}

func pidOf() int { return os.Getpid() }
