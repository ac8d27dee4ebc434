package catalog

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Catalog is the DSS façade handle. One Catalog owns one buntdb.DB; DSS
// connections are not shared between driver threads (spec §5 "Shared
// resources"), so callers typically Open one Catalog per transfer driver.
type Catalog struct {
	db *buntdb.DB
}

// Open opens (creating if absent) the catalog at path. An empty path opens
// an in-memory store, handy for tests.
func Open(path string) (*Catalog, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: open")
	}
	c := &Catalog{db: db}
	if err := c.createIndexes(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) createIndexes() error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_ = tx.CreateIndex("obj_by_oid", objKeyPrefix+"*", buntdb.IndexJSON("oid"))
		_ = tx.CreateIndex("obj_by_uuid", objKeyPrefix+"*", buntdb.IndexJSON("uuid"))
		_ = tx.CreateIndex("dep_by_oid", depKeyPrefix+"*", buntdb.IndexJSON("oid"))
		_ = tx.CreateIndex("dep_by_uuid", depKeyPrefix+"*", buntdb.IndexJSON("uuid"))
		return nil
	})
}

// --- key layout -------------------------------------------------------
//
// Keys are flat strings; buntdb gives us lexicographic range scans and
// secondary JSON-path indexes, which is enough to express the §6 filter
// DSL subset this core needs (equality/regex/membership on named fields).

const (
	objKeyPrefix    = "obj:"
	depKeyPrefix    = "dep:"
	copyKeyPrefix   = "copy:"
	layoutKeyPrefix = "layout:"
	mediumKeyPrefix = "medium:"
	deviceKeyPrefix = "device:"
	lockKeyPrefix   = "lock:"
)

func objKey(oid string) string { return objKeyPrefix + oid }

func depKey(uuid string, version int) string {
	return fmt.Sprintf("%s%s:%d", depKeyPrefix, uuid, version)
}

func copyKey(uuid string, version int, copyName string) string {
	return fmt.Sprintf("%s%s:%d:%s", copyKeyPrefix, uuid, version, copyName)
}

func layoutKey(uuid string, version int, copyName string) string {
	return fmt.Sprintf("%s%s:%d:%s", layoutKeyPrefix, uuid, version, copyName)
}

func mediumKey(ref MediumRef) string {
	return fmt.Sprintf("%s%s:%s:%s", mediumKeyPrefix, ref.Family, ref.Library, ref.Name)
}

func deviceKey(hostname, library, model string) string {
	return fmt.Sprintf("%s%s:%s:%s", deviceKeyPrefix, hostname, library, model)
}

func lockKey(typ LockResourceType, key string) string {
	return fmt.Sprintf("%s%s:%s", lockKeyPrefix, typ, key)
}

// --- generic helpers ----------------------------------------------------

func getJSON(tx *buntdb.Tx, key string, out interface{}) error {
	val, err := tx.Get(key)
	if err == buntdb.ErrNotFound {
		return perrors.New(perrors.ENOENT, "catalog: get "+key, err)
	}
	if err != nil {
		return perrors.Wrap(err, "catalog: get "+key)
	}
	return json.Unmarshal([]byte(val), out)
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(b), nil)
	return err
}

func scanPrefix(tx *buntdb.Tx, prefix string, visit func(key, value string) bool) error {
	return tx.AscendKeys(prefix+"*", visit)
}

// --- locks ---------------------------------------------------------------

// AcquireLocks takes zero or more locks all-or-nothing (spec §3 "Lock", §4.2
// "early-locking", §5): if any requested resource is already locked, by any
// owner including ownerHost itself, none of the locks are taken.
func (c *Catalog) AcquireLocks(typ LockResourceType, keys []string, ownerHost string, ownerPID int) error {
	now := time.Now()
	return c.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Get(lockKey(typ, k)); err == nil {
				return perrors.New(perrors.EEXIST, "catalog: lock held: "+k, nil)
			} else if err != buntdb.ErrNotFound {
				return perrors.Wrap(err, "catalog: lock read")
			}
		}
		for _, k := range keys {
			l := Lock{ResourceType: typ, ResourceKey: k, OwnerHost: ownerHost, OwnerPID: ownerPID, Timestamp: now}
			if err := setJSON(tx, lockKey(typ, k), l); err != nil {
				return err
			}
		}
		return nil
	})
}

// TryAcquireLock attempts a single lock, returning (true, nil) if acquired
// and (false, nil) if another owner already holds it — used by the locator's
// per-medium fallback-on-race loop (spec §4.2 step 6), which never treats a
// race as a hard failure.
func (c *Catalog) TryAcquireLock(typ LockResourceType, key, ownerHost string, ownerPID int) (bool, error) {
	acquired := false
	err := c.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(lockKey(typ, key)); err == nil {
			return nil // already held, not an error
		} else if err != buntdb.ErrNotFound {
			return perrors.Wrap(err, "catalog: lock read")
		}
		l := Lock{ResourceType: typ, ResourceKey: key, OwnerHost: ownerHost, OwnerPID: ownerPID, Timestamp: time.Now()}
		if err := setJSON(tx, lockKey(typ, key), l); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseLocks releases locks owned by ownerHost; releasing a lock not held
// by ownerHost, or not held at all, is a no-op (best-effort rollback path,
// spec §4.2 step 6 "release every lock taken in this pass").
func (c *Catalog) ReleaseLocks(typ LockResourceType, keys []string, ownerHost string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			val, err := tx.Get(lockKey(typ, k))
			if err == buntdb.ErrNotFound {
				continue
			}
			if err != nil {
				return perrors.Wrap(err, "catalog: lock read")
			}
			var l Lock
			if err := json.Unmarshal([]byte(val), &l); err != nil {
				return err
			}
			if l.OwnerHost != ownerHost {
				continue
			}
			if _, err := tx.Delete(lockKey(typ, k)); err != nil && err != buntdb.ErrNotFound {
				return perrors.Wrap(err, "catalog: lock delete")
			}
		}
		return nil
	})
}

// LockOwner returns the hostname holding a lock on (typ, key), or "" if
// unlocked (spec §4.2 "split_access_info... hostname").
func (c *Catalog) LockOwner(typ LockResourceType, key string) (string, error) {
	var owner string
	err := c.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(lockKey(typ, key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return perrors.Wrap(err, "catalog: lock read")
		}
		var l Lock
		if e := json.Unmarshal([]byte(val), &l); e != nil {
			return e
		}
		owner = l.OwnerHost
		return nil
	})
	return owner, err
}

// RefreshLock bumps a lock's timestamp, leaving ownership unchanged. Used by
// the periodic "as-much-as-possible" refresh cycle (spec §5); the caller
// accumulates and returns the first error across a batch of refreshes.
func (c *Catalog) RefreshLock(typ LockResourceType, key string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(lockKey(typ, key))
		if err == buntdb.ErrNotFound {
			return perrors.New(perrors.ENOLCK, "catalog: refresh missing lock "+key, nil)
		}
		if err != nil {
			return perrors.Wrap(err, "catalog: lock read")
		}
		var l Lock
		if err := json.Unmarshal([]byte(val), &l); err != nil {
			return err
		}
		l.Timestamp = time.Now()
		return setJSON(tx, lockKey(typ, key), l)
	})
}

// RefreshLocks refreshes every key, remembering and returning the first
// error encountered while attempting every one (spec §5 "as-much-as-possible
// semantics").
func (c *Catalog) RefreshLocks(typ LockResourceType, keys []string) error {
	var first error
	for _, k := range keys {
		if err := c.RefreshLock(typ, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

