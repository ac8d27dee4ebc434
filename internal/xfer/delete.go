package xfer

import (
	"context"
	"time"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/dproc"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Delete runs a DEL batch. Soft delete moves the alive row to deprecated,
// leaving its copies and extents intact; hard delete also erases the
// extents and drops the copy and layout rows, except that the layout row of
// a copy with tape extents is kept, with those extents marked orphan
// (spec §4.4 "DEL").
func (d *Driver) Delete(ctx context.Context, targets []*Target, hard bool) BatchResult {
	errs := runBatch(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		var err error
		if hard {
			err = d.hardDeleteOne(ctx, t)
		} else {
			err = d.softDeleteOne(t)
		}
		t.RC = perrors.CodeOf(err)
		observe(OpDel, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

func (d *Driver) softDeleteOne(t *Target) error {
	if t.OID == "" {
		return perrors.New(perrors.EINVAL, "xfer: del requires an oid", nil)
	}
	lockKey := "object:" + t.OID
	if err := d.Cat.AcquireLocks(catalog.LockObject, []string{lockKey}, d.Hostname, pidOf()); err != nil {
		return perrors.Wrap(err, "xfer: del lock oid")
	}
	defer d.Cat.ReleaseLocks(catalog.LockObject, []string{lockKey}, d.Hostname)

	obj, err := d.Cat.GetAlive(t.OID)
	if err != nil {
		if perrors.CodeOf(err) == perrors.ENOENT {
			if _, ferr := d.Cat.FindUUIDByOID(t.OID); ferr == nil {
				return perrors.New(perrors.EINVAL, "xfer: del: soft delete of a deprecated-only object", nil)
			}
		}
		return perrors.Wrap(err, "xfer: del: no alive object")
	}
	if err := d.Cat.AppendDeprecated(*obj); err != nil {
		return perrors.Wrap(err, "xfer: del: append deprecated")
	}
	if err := d.Cat.DeleteAlive(t.OID); err != nil {
		return perrors.Wrap(err, "xfer: del: delete alive row")
	}
	t.UUID, t.ResolvedVersion = obj.UUID, obj.Version
	return nil
}

// hardDeleteOne cascades a full removal: erase every copy's extents, drop
// the layout and copy rows (a layout row with tape extents is kept, those
// extents left orphan), then the object row itself — whichever
// collection (alive or deprecated) currently holds it (spec §4.4 "hard DEL:
// delete layout rows ... delete copy rows ... delete the object row").
func (d *Driver) hardDeleteOne(ctx context.Context, t *Target) error {
	if t.OID == "" && t.ObjUUID == "" {
		return perrors.New(perrors.EINVAL, "xfer: del requires an oid or uuid", nil)
	}

	var obj *catalog.Object
	var fromAlive bool
	if t.OID != "" {
		if o, err := d.Cat.GetAlive(t.OID); err == nil {
			obj, fromAlive = o, true
		}
	}
	if obj == nil && t.ObjUUID != "" {
		o, err := d.Cat.GetDeprecated(t.ObjUUID, t.Version)
		if err != nil {
			return perrors.Wrap(err, "xfer: hard del: no such generation")
		}
		obj = o
	}
	if obj == nil {
		return perrors.New(perrors.ENOENT, "xfer: hard del: object not found", nil)
	}

	copies, err := d.Cat.ListCopiesByUUIDVersion(obj.UUID, obj.Version)
	if err != nil {
		return perrors.Wrap(err, "xfer: hard del: list copies")
	}
	for _, cp := range copies {
		l, err := d.Cat.GetLayout(obj.UUID, obj.Version, cp.CopyName)
		if err == nil {
			eraser := &dproc.Processor{Role: dproc.RoleEraser, Codec: d.Codec, Alloc: d.Alloc, Cat: d.Cat, SrcLayout: l}
			_ = eraser.Step(ctx) // best-effort; a stuck medium shouldn't block catalog cleanup

			// Erase orphans tape extents in place on l but never persists
			// that: the layout row is the only place an extent's state
			// lives (spec §3 "Extent" is embedded in the layout, not a
			// separate collection). Write the orphan states back, and keep
			// the layout row around for tape-bearing copies so it remains
			// observable after hard DEL (spec §8 "Soft vs hard delete":
			// "tape extents exist with state orphan").
			hasTape := false
			for _, e := range l.Extents {
				if e.Medium.Family == catalog.FamilyTape {
					hasTape = true
					_ = d.Cat.SetExtentState(obj.UUID, obj.Version, cp.CopyName, e.LayoutIndex, e.State)
				}
			}
			if !hasTape {
				_ = d.Cat.DeleteLayout(obj.UUID, obj.Version, cp.CopyName)
			}
		}
		_ = d.Cat.DeleteCopy(obj.UUID, obj.Version, cp.CopyName)
	}

	if fromAlive {
		if err := d.Cat.DeleteAlive(t.OID); err != nil {
			return perrors.Wrap(err, "xfer: hard del: delete alive row")
		}
	} else {
		if err := d.Cat.DeleteDeprecated(obj.UUID, obj.Version); err != nil {
			return perrors.Wrap(err, "xfer: hard del: delete deprecated row")
		}
	}
	t.UUID, t.ResolvedVersion = obj.UUID, obj.Version
	return nil
}

// Undelete runs an UNDEL batch: promotes the most recent deprecated
// generation of an object back to alive, failing if the target oid is
// ambiguous or already alive (spec §4.4 "UNDEL").
func (d *Driver) Undelete(ctx context.Context, targets []*Target) BatchResult {
	errs := runBatch(ctx, len(targets), func(_ context.Context, i int) error {
		t := targets[i]
		start := time.Now()
		err := d.undeleteOne(t)
		t.RC = perrors.CodeOf(err)
		observe(OpUndel, start, err)
		return err
	})
	rc, codes := resultCode(errs)
	return BatchResult{RC: rc, TargetCodes: codes}
}

func (d *Driver) undeleteOne(t *Target) error {
	if t.OID == "" {
		return perrors.New(perrors.EINVAL, "xfer: undel requires an oid", nil)
	}
	lockKey := "object:" + t.OID
	if err := d.Cat.AcquireLocks(catalog.LockObject, []string{lockKey}, d.Hostname, pidOf()); err != nil {
		return perrors.Wrap(err, "xfer: undel lock oid")
	}
	defer d.Cat.ReleaseLocks(catalog.LockObject, []string{lockKey}, d.Hostname)

	if _, err := d.Cat.GetAlive(t.OID); err == nil {
		return perrors.New(perrors.EEXIST, "xfer: undel: oid already alive", nil)
	}

	uuid, err := d.Cat.FindUUIDByOID(t.OID)
	if err != nil {
		return perrors.Wrap(err, "xfer: undel: resolve uuid")
	}
	gens, err := d.Cat.ListDeprecatedByUUID(uuid)
	if err != nil {
		return perrors.Wrap(err, "xfer: undel: list generations")
	}
	if len(gens) == 0 {
		return perrors.New(perrors.ENOENT, "xfer: undel: no deprecated generation", nil)
	}
	// ListDeprecatedByUUID sorts ascending by version, so the last entry is
	// the most recent generation; if it carries a different oid, the request
	// is rejected rather than guessed at.
	latest := gens[len(gens)-1]
	for _, g := range gens {
		if g.OID == t.OID && g.Version > latest.Version {
			latest = g
		}
	}
	if latest.OID != t.OID {
		return perrors.New(perrors.EINVAL, "xfer: undel: oid does not match latest generation", nil)
	}

	if err := d.Cat.InsertAlive(latest); err != nil {
		return perrors.Wrap(err, "xfer: undel: insert alive row")
	}
	if err := d.Cat.DeleteDeprecated(latest.UUID, latest.Version); err != nil {
		return perrors.Wrap(err, "xfer: undel: delete deprecated row")
	}
	t.UUID, t.ResolvedVersion = latest.UUID, latest.Version
	return nil
}
