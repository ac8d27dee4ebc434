package catalog

import (
	"sort"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// InsertCopy inserts a new copy row, normally in CopyIncomplete status
// (spec §3 "Copy", §4.4 "Inserted at PUT/COPY start").
func (c *Catalog) InsertCopy(cp Copy) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		key := copyKey(cp.ObjectUUID, cp.Version, cp.CopyName)
		if _, err := tx.Get(key); err == nil {
			return perrors.New(perrors.EEXIST, "catalog: copy row exists", nil)
		} else if err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: read copy")
		}
		return setJSON(tx, key, cp)
	})
}

// GetCopy returns one copy row.
func (c *Catalog) GetCopy(uuid string, version int, copyName string) (*Copy, error) {
	var cp Copy
	err := c.db.View(func(tx *buntdb.Tx) error { return getJSON(tx, copyKey(uuid, version, copyName), &cp) })
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SetCopyStatus flips a copy's status (spec §4.4 "updated at end").
func (c *Catalog) SetCopyStatus(uuid string, version int, copyName string, status CopyStatus) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var cp Copy
		if err := getJSON(tx, copyKey(uuid, version, copyName), &cp); err != nil {
			return err
		}
		cp.Status = status
		return setJSON(tx, copyKey(uuid, version, copyName), cp)
	})
}

// TouchCopyAccessTime best-effort updates a copy's access time after a
// successful GET (spec §4.4 phase 3, §7 "best-effort").
func (c *Catalog) TouchCopyAccessTime(uuid string, version int, copyName string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var cp Copy
		if err := getJSON(tx, copyKey(uuid, version, copyName), &cp); err != nil {
			return err
		}
		cp.AccessTime = time.Now()
		return setJSON(tx, copyKey(uuid, version, copyName), cp)
	})
}

// DeleteCopy removes one copy row (spec §4.4 "deleted on hard DEL").
func (c *Catalog) DeleteCopy(uuid string, version int, copyName string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(copyKey(uuid, version, copyName))
		if err != nil && err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: delete copy")
		}
		return nil
	})
}

// ListCopiesByUUIDVersion returns every copy row for (uuid, version).
func (c *Catalog) ListCopiesByUUIDVersion(uuid string, version int) ([]Copy, error) {
	var out []Copy
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, copyKeyPrefix, func(_, value string) bool {
			var cp Copy
			if json.Unmarshal([]byte(value), &cp) == nil && cp.ObjectUUID == uuid && cp.Version == version {
				out = append(out, cp)
			}
			return true
		})
	})
	return out, err
}

// ListCopies returns every copy row matching filter, sorted per sort (spec
// §6 "list_copies").
func (c *Catalog) ListCopies(filter Filter, s SortSpec) ([]Copy, error) {
	var out []Copy
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, copyKeyPrefix, func(_, value string) bool {
			var cp Copy
			if json.Unmarshal([]byte(value), &cp) != nil {
				return true
			}
			m, err := toMap(cp)
			if err != nil {
				return true
			}
			if filter.Match(m) {
				out = append(out, cp)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if s.Field != "" {
		less := func(i, j int) bool {
			switch s.Field {
			case "copy_name":
				return out[i].CopyName < out[j].CopyName
			case "copy_status":
				return out[i].Status < out[j].Status
			case "access_time":
				return out[i].AccessTime.Before(out[j].AccessTime)
			default:
				return false
			}
		}
		if s.Reverse {
			sort.SliceStable(out, func(i, j int) bool { return less(j, i) })
		} else {
			sort.SliceStable(out, less)
		}
	}
	return out, nil
}
