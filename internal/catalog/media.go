package catalog

import (
	"github.com/tidwall/buntdb"
)

// UpsertMedium inserts or replaces a medium's catalog row.
func (c *Catalog) UpsertMedium(m Medium) error {
	return c.db.Update(func(tx *buntdb.Tx) error { return setJSON(tx, mediumKey(m.Ref), m) })
}

// GetMedium returns one medium row.
func (c *Catalog) GetMedium(ref MediumRef) (*Medium, error) {
	var m Medium
	err := c.db.View(func(tx *buntdb.Tx) error { return getJSON(tx, mediumKey(ref), &m) })
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// IsUsable reports whether a medium can serve the named operation
// ("get"/"put"/"delete"). Only the admin status is checked: a medium is
// usable unless it is admin-locked, whatever op is; no per-operation
// permissions are recorded or consulted.
func (m *Medium) IsUsable(op string) bool {
	return m.AdminStatus != "locked"
}

// ListUnlockedByFamily returns every administratively-unlocked medium of the
// given family (spec §4.2 step 1).
func (c *Catalog) ListUnlockedByFamily(family MediumFamily) ([]Medium, error) {
	var out []Medium
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, mediumKeyPrefix, func(_, value string) bool {
			var m Medium
			if json.Unmarshal([]byte(value), &m) == nil && m.Ref.Family == family && m.IsUsable("get") {
				out = append(out, m)
			}
			return true
		})
	})
	return out, err
}

// UpsertDevice inserts or replaces a device row.
func (c *Catalog) UpsertDevice(d Device) error {
	return c.db.Update(func(tx *buntdb.Tx) error { return setJSON(tx, deviceKey(d.Hostname, d.Library, d.Model), d) })
}

// ListUnlockedDevices returns every administratively-unlocked device,
// grouped implicitly by hostname by the caller (spec §4.2 step 1).
func (c *Catalog) ListUnlockedDevices() ([]Device, error) {
	var out []Device
	err := c.db.View(func(tx *buntdb.Tx) error {
		return scanPrefix(tx, deviceKeyPrefix, func(_, value string) bool {
			var d Device
			if json.Unmarshal([]byte(value), &d) == nil && !d.AdminLocked {
				out = append(out, d)
			}
			return true
		})
	})
	return out, err
}
