package catalog

import (
	"sort"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// GetAlive returns the alive row for oid.
func (c *Catalog) GetAlive(oid string) (*Object, error) {
	var o Object
	err := c.db.View(func(tx *buntdb.Tx) error { return getJSON(tx, objKey(oid), &o) })
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertAlive inserts a new alive row; fails with EEXIST if one already
// exists for oid (spec §3 "At most one alive row per oid").
func (c *Catalog) InsertAlive(o Object) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(objKey(o.OID)); err == nil {
			return perrors.New(perrors.EEXIST, "catalog: alive row exists for "+o.OID, nil)
		} else if err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: read alive")
		}
		return setJSON(tx, objKey(o.OID), o)
	})
}

// ReplaceAlive overwrites the alive row for oid with o (used after moving
// the prior generation to deprecated, spec §4.4 "PUT").
func (c *Catalog) ReplaceAlive(o Object) error {
	return c.db.Update(func(tx *buntdb.Tx) error { return setJSON(tx, objKey(o.OID), o) })
}

// DeleteAlive removes the alive row for oid outright (used by hard DEL,
// spec §4.4 phase 3).
func (c *Catalog) DeleteAlive(oid string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(objKey(oid))
		if err != nil && err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: delete alive")
		}
		return nil
	})
}

// AppendDeprecated appends a row to the deprecated collection (spec §3
// "Appended on overwrite, soft DEL, or replaced generation").
func (c *Catalog) AppendDeprecated(o Object) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, depKey(o.UUID, o.Version), o)
	})
}

// GetDeprecated returns one deprecated row by (uuid, version).
func (c *Catalog) GetDeprecated(uuid string, version int) (*Object, error) {
	var o Object
	err := c.db.View(func(tx *buntdb.Tx) error { return getJSON(tx, depKey(uuid, version), &o) })
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteDeprecated removes one deprecated row (used by UNDEL promotion and
// hard DEL, spec §4.4).
func (c *Catalog) DeleteDeprecated(uuid string, version int) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(depKey(uuid, version))
		if err != nil && err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: delete deprecated")
		}
		return nil
	})
}

// ListDeprecatedByUUID returns every deprecated generation for uuid, sorted
// by version ascending (used by UNDEL to find the highest version and by
// rename to touch every generation, spec §3, §4.4, §8 "Rename").
func (c *Catalog) ListDeprecatedByUUID(uuid string) ([]Object, error) {
	var out []Object
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, depKeyPrefix, func(_, value string) bool {
			var o Object
			if json.Unmarshal([]byte(value), &o) == nil && o.UUID == uuid {
				out = append(out, o)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// FindUUIDByOID resolves the uuid for an oid by checking alive first, then
// the most recent deprecated row carrying that oid (used to derive uuid
// for UNDEL/rename when only oid is given, spec §4.4 "UNDEL").
func (c *Catalog) FindUUIDByOID(oid string) (string, error) {
	if o, err := c.GetAlive(oid); err == nil {
		return o.UUID, nil
	}
	var candidates []Object
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, depKeyPrefix, func(_, value string) bool {
			var o Object
			if json.Unmarshal([]byte(value), &o) == nil && o.OID == oid {
				candidates = append(candidates, o)
			}
			return true
		})
	})
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", perrors.New(perrors.ENOENT, "catalog: no object for oid "+oid, nil)
	}
	uuids := map[string]bool{}
	for _, o := range candidates {
		uuids[o.UUID] = true
	}
	if len(uuids) > 1 {
		return "", perrors.New(perrors.EINVAL, "catalog: ambiguous uuid for oid "+oid, nil)
	}
	return candidates[0].UUID, nil
}

// ListAlive returns every alive object matching filter, sorted per sort.
func (c *Catalog) ListAlive(filter Filter, s SortSpec) ([]Object, error) {
	var out []Object
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, objKeyPrefix, func(_, value string) bool {
			var o Object
			if json.Unmarshal([]byte(value), &o) != nil {
				return true
			}
			m, err := toMap(o)
			if err != nil {
				return true
			}
			if filter.Match(m) {
				out = append(out, o)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sortObjects(out, s)
	return out, nil
}

func sortObjects(rows []Object, s SortSpec) {
	if s.Field == "" {
		return
	}
	less := func(i, j int) bool {
		switch s.Field {
		case "oid":
			return rows[i].OID < rows[j].OID
		case "uuid":
			return rows[i].UUID < rows[j].UUID
		case "version":
			return rows[i].Version < rows[j].Version
		case "creation_time":
			return rows[i].CreationTime.Before(rows[j].CreationTime)
		case "access_time":
			return rows[i].AccessTime.Before(rows[j].AccessTime)
		default:
			return false
		}
	}
	if s.Reverse {
		sort.SliceStable(rows, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(rows, less)
	}
}

// TouchAccessTime best-effort updates an alive row's access time (spec §4.4
// "Per successful GET: update the copy's access_time" mirrors onto the
// object row too for list_objects freshness).
func (c *Catalog) TouchAccessTime(oid string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var o Object
		if err := getJSON(tx, objKey(oid), &o); err != nil {
			return err
		}
		o.AccessTime = time.Now()
		return setJSON(tx, objKey(oid), o)
	})
}
