package xfer

import (
	"context"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Locate resolves the best host to serve a copy (spec §4.2, §6 "locate"),
// retrying while the locator reports a transient no-host-reachable
// condition (EAGAIN, spec §4.2 step 5).
func (d *Driver) Locate(ctx context.Context, oid, objUUID string, version int, copyName, focusHost string) (layout.LocateResult, error) {
	uuid := objUUID
	if uuid == "" {
		if oid == "" {
			return layout.LocateResult{}, perrors.New(perrors.EINVAL, "xfer: locate requires an oid or uuid", nil)
		}
		u, err := d.Cat.FindUUIDByOID(oid)
		if err != nil {
			return layout.LocateResult{}, perrors.Wrap(err, "xfer: locate: resolve uuid")
		}
		uuid = u
	}
	if version == 0 {
		obj, err := d.resolveTarget(&Target{OID: oid, ObjUUID: objUUID})
		if err != nil {
			return layout.LocateResult{}, perrors.Wrap(err, "xfer: locate: resolve version")
		}
		version = obj.Version
	}
	if copyName == "" {
		n, err := d.bestCopyName(uuid, version)
		if err != nil {
			return layout.LocateResult{}, err
		}
		copyName = n
	}
	l, err := d.Cat.GetLayout(uuid, version, copyName)
	if err != nil {
		return layout.LocateResult{}, perrors.Wrap(err, "xfer: locate: read layout")
	}

	var result layout.LocateResult
	err = d.retryOnBusy(ctx, 8, func() error {
		r, lerr := d.Codec.Locate(ctx, d.Cat, l, focusHost)
		if lerr != nil {
			return lerr
		}
		result = r
		return nil
	})
	return result, err
}

// ListObjects returns every alive object matching filter (spec §6
// "list_objects").
func (d *Driver) ListObjects(filter catalog.Filter, sort catalog.SortSpec) ([]catalog.Object, error) {
	return d.Cat.ListAlive(filter, sort)
}

// ListCopies returns every copy matching filter (spec §6 "list_copies").
func (d *Driver) ListCopies(filter catalog.Filter, sort catalog.SortSpec) ([]catalog.Copy, error) {
	return d.Cat.ListCopies(filter, sort)
}
