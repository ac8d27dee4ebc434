// Package catalog is the DSS façade (spec §3, §4.4, §6): typed CRUD,
// locking, and filtered queries over objects, deprecated_objects, copies,
// layouts, extents, media, and devices, backed by an embedded buntdb store
// standing in for the out-of-scope SQL-backed DSS.
package catalog

import (
	"time"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
)

// CopyStatus is the lifecycle state of a Copy row (spec §3).
type CopyStatus string

const (
	CopyIncomplete CopyStatus = "incomplete"
	CopyReadable   CopyStatus = "readable"
	CopyComplete   CopyStatus = "complete"
)

// ExtentState is the lifecycle state of an Extent row (spec §3).
type ExtentState string

const (
	ExtentPending ExtentState = "pending"
	ExtentSync    ExtentState = "sync"
	ExtentOrphan  ExtentState = "orphan"
)

// MediumFamily names a storage medium family (spec §3, §6).
type MediumFamily string

const (
	FamilyDir   MediumFamily = "dir"
	FamilyTape  MediumFamily = "tape"
	FamilyRados MediumFamily = "rados"
)

// Object is an alive or deprecated object row (spec §3 "Object (alive)" /
// "Deprecated object" — same shape, different collection).
type Object struct {
	OID          string     `json:"oid"`
	UUID         string     `json:"uuid"`
	Version      int        `json:"version"`
	UserMD       *attrs.Map `json:"user_md"`
	Grouping     string     `json:"grouping"`
	CreationTime time.Time  `json:"creation_time"`
	AccessTime   time.Time  `json:"access_time"`
}

// Copy is one named realization of an object's bytes (spec §3 "Copy").
type Copy struct {
	ObjectUUID   string     `json:"object_uuid"`
	Version      int        `json:"version"`
	CopyName     string     `json:"copy_name"`
	Status       CopyStatus `json:"copy_status"`
	AccessTime   time.Time  `json:"access_time"`
	CreationTime time.Time  `json:"creation_time"`
}

// MediumRef identifies a medium (spec §3 "Medium", §6).
type MediumRef struct {
	Family  MediumFamily `json:"family"`
	Name    string       `json:"name"`
	Library string       `json:"library"`
}

// Extent is one persisted byte range of a layout (spec §3 "Extent").
type Extent struct {
	ExtentUUID  string      `json:"extent_uuid"`
	State       ExtentState `json:"state"`
	Size        int64       `json:"size"`
	Medium      MediumRef   `json:"medium"`
	Address     string      `json:"address"`
	LayoutIndex int         `json:"layout_index"`
	Offset      int64       `json:"offset"`
	HashMD5     string      `json:"hash_md5,omitempty"`
	HashXXH128  string      `json:"hash_xxh128,omitempty"`
}

// Layout is the codec-specific plan mapping an object's bytes onto extents
// (spec §3 "Layout").
type Layout struct {
	ObjectUUID string     `json:"object_uuid"`
	Version    int        `json:"version"`
	CopyName   string     `json:"copy_name"`
	LayoutName string     `json:"layout_name"`
	ModAttrs   *attrs.Map `json:"mod_attrs"`
	Extents    []Extent   `json:"extents"`
}

// Medium is a storage unit's catalog-tracked state (spec §3 "Medium").
type Medium struct {
	Ref         MediumRef `json:"ref"`
	FSStatus    string    `json:"fs_status"`
	AdminStatus string    `json:"admin_status"` // "unlocked" | "locked"
	Model       string    `json:"model,omitempty"`
	Tags        []string  `json:"tags"`
	UsedBytes   int64     `json:"used_bytes"`
	FreeBytes   int64     `json:"free_bytes"`
	ObjectCount int64     `json:"object_count"`
}

// Device is a drive attached to a host, used by the RAID1 locator to
// determine tape-model compatibility (spec §4.2).
type Device struct {
	Hostname    string `json:"hostname"`
	Library     string `json:"library"`
	Model       string `json:"model"`
	AdminLocked bool   `json:"admin_locked"`
}

// LockResourceType names what a Lock protects (spec §3 "Lock").
type LockResourceType string

const (
	LockObject LockResourceType = "object"
	LockMedium LockResourceType = "medium"
)

// Lock is an all-or-nothing reservation (spec §3 "Lock", §4.2, §5).
type Lock struct {
	ResourceType LockResourceType `json:"resource_type"`
	ResourceKey  string           `json:"resource_key"`
	OwnerHost    string           `json:"owner_host"`
	OwnerPID     int              `json:"owner_pid"`
	Timestamp    time.Time        `json:"timestamp"`
	LastLocate   *time.Time       `json:"last_locate,omitempty"`
}
