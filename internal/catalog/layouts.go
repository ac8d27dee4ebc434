package catalog

import (
	"github.com/tidwall/buntdb"

	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// InsertLayout persists a layout atomically with its extents (spec §3
// "Layout... Persisted atomically with its extents on successful write").
// Since buntdb stores the extent list inline on the Layout row, "atomic"
// here is exactly the single Set it already is.
func (c *Catalog) InsertLayout(l Layout) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		key := layoutKey(l.ObjectUUID, l.Version, l.CopyName)
		return setJSON(tx, key, l)
	})
}

// GetLayout returns one layout row with its extents.
func (c *Catalog) GetLayout(uuid string, version int, copyName string) (*Layout, error) {
	var l Layout
	err := c.db.View(func(tx *buntdb.Tx) error { return getJSON(tx, layoutKey(uuid, version, copyName), &l) })
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// DeleteLayout removes a layout row (spec §4.4 "hard DEL: delete layout
// rows").
func (c *Catalog) DeleteLayout(uuid string, version int, copyName string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(layoutKey(uuid, version, copyName))
		if err != nil && err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: delete layout")
		}
		return nil
	})
}

// SetExtentState rewrites one extent's state in place, e.g. pending->sync on
// commit or any->orphan on rollback/tape-hard-delete (spec §3 "Extent").
func (c *Catalog) SetExtentState(uuid string, version int, copyName string, layoutIndex int, state ExtentState) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		key := layoutKey(uuid, version, copyName)
		var l Layout
		if err := getJSON(tx, key, &l); err != nil {
			return err
		}
		for i := range l.Extents {
			if l.Extents[i].LayoutIndex == layoutIndex {
				l.Extents[i].State = state
			}
		}
		return setJSON(tx, key, l)
	})
}

// SetAllExtentStates rewrites the state of every extent in a layout, used
// for bulk pending->sync commit and bulk ->orphan rollback.
func (c *Catalog) SetAllExtentStates(uuid string, version int, copyName string, state ExtentState) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		key := layoutKey(uuid, version, copyName)
		var l Layout
		if err := getJSON(tx, key, &l); err != nil {
			return err
		}
		for i := range l.Extents {
			l.Extents[i].State = state
		}
		return setJSON(tx, key, l)
	})
}
