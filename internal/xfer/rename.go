package xfer

import (
	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// Rename atomically relabels every generation of one object's uuid from
// oldOID to newOID: the alive row (if present) and every deprecated
// generation (spec §8 "Rename"). newOID must not already name an alive
// object.
func (d *Driver) Rename(oldOID, newOID string) error {
	if oldOID == "" || newOID == "" {
		return perrors.New(perrors.EINVAL, "xfer: rename requires both names", nil)
	}
	if oldOID == newOID {
		return nil
	}

	lockKeys := []string{"object:" + oldOID, "object:" + newOID}
	if err := d.Cat.AcquireLocks(catalog.LockObject, lockKeys, d.Hostname, pidOf()); err != nil {
		return perrors.Wrap(err, "xfer: rename: lock both names")
	}
	defer d.Cat.ReleaseLocks(catalog.LockObject, lockKeys, d.Hostname)

	if _, err := d.Cat.GetAlive(newOID); err == nil {
		return perrors.New(perrors.EEXIST, "xfer: rename: destination oid already alive", nil)
	}

	var uuid string
	alive, err := d.Cat.GetAlive(oldOID)
	if err == nil {
		uuid = alive.UUID
	} else if perrors.CodeOf(err) != perrors.ENOENT {
		return perrors.Wrap(err, "xfer: rename: read alive row")
	}
	if uuid == "" {
		uuid, err = d.Cat.FindUUIDByOID(oldOID)
		if err != nil {
			return perrors.Wrap(err, "xfer: rename: resolve uuid")
		}
	}

	gens, err := d.Cat.ListDeprecatedByUUID(uuid)
	if err != nil {
		return perrors.Wrap(err, "xfer: rename: list generations")
	}

	if alive != nil {
		renamed := *alive
		renamed.OID = newOID
		if err := d.Cat.InsertAlive(renamed); err != nil {
			return perrors.Wrap(err, "xfer: rename: insert renamed alive row")
		}
		if err := d.Cat.DeleteAlive(oldOID); err != nil {
			return perrors.Wrap(err, "xfer: rename: delete old alive row")
		}
	}
	for _, g := range gens {
		if g.OID != oldOID {
			continue
		}
		renamed := g
		renamed.OID = newOID
		if err := d.Cat.AppendDeprecated(renamed); err != nil {
			return perrors.Wrap(err, "xfer: rename: rewrite deprecated row")
		}
	}
	return nil
}
