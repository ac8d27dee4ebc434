package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAliveObjectLifecycle(t *testing.T) {
	c := openTest(t)

	err := c.InsertAlive(Object{OID: "o1", UUID: "u1", Version: 1, UserMD: attrs.New()})
	require.NoError(t, err)

	err = c.InsertAlive(Object{OID: "o1", UUID: "u1", Version: 1})
	assert.Equal(t, perrors.EEXIST, perrors.CodeOf(err), "a second InsertAlive for the same oid must fail")

	o, err := c.GetAlive("o1")
	require.NoError(t, err)
	assert.Equal(t, "u1", o.UUID)

	require.NoError(t, c.DeleteAlive("o1"))
	_, err = c.GetAlive("o1")
	assert.Equal(t, perrors.ENOENT, perrors.CodeOf(err))
}

func TestAcquireLocksAllOrNothing(t *testing.T) {
	c := openTest(t)

	require.NoError(t, c.AcquireLocks(LockMedium, []string{"dir:a"}, "host-a", 1))

	err := c.AcquireLocks(LockMedium, []string{"dir:b", "dir:a"}, "host-b", 2)
	assert.Error(t, err, "one already-locked resource must block the whole batch")

	owner, err := c.LockOwner(LockMedium, "dir:b")
	require.NoError(t, err)
	assert.Empty(t, owner, "dir:b must not have been locked by the failed batch")
}

func TestTryAcquireLockRace(t *testing.T) {
	c := openTest(t)

	ok, err := c.TryAcquireLock(LockMedium, "dir:x", "host-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryAcquireLock(LockMedium, "dir:x", "host-b", 2)
	require.NoError(t, err)
	assert.False(t, ok, "a second owner must not steal an already-held lock")
}

func TestReleaseLocksOwnershipChecked(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.AcquireLocks(LockMedium, []string{"dir:a"}, "host-a", 1))

	require.NoError(t, c.ReleaseLocks(LockMedium, []string{"dir:a"}, "host-b"))
	owner, err := c.LockOwner(LockMedium, "dir:a")
	require.NoError(t, err)
	assert.Equal(t, "host-a", owner, "releasing with the wrong owner must be a no-op")

	require.NoError(t, c.ReleaseLocks(LockMedium, []string{"dir:a"}, "host-a"))
	owner, err = c.LockOwner(LockMedium, "dir:a")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestFilterDSL(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.InsertAlive(Object{OID: "a", UUID: "ua", Grouping: "g1"}))
	require.NoError(t, c.InsertAlive(Object{OID: "b", UUID: "ub", Grouping: "g2"}))
	require.NoError(t, c.InsertAlive(Object{OID: "c", UUID: "uc", Grouping: "g1"}))

	rows, err := c.ListAlive(Filter{Field: "grouping", Value: "g1"}, SortSpec{Field: "oid"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].OID)
	assert.Equal(t, "c", rows[1].OID)

	rows, err = c.ListAlive(Filter{Field: "oid", Op: "$REGEXP", Value: "^[ab]$"}, SortSpec{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = c.ListAlive(Filter{Or: []Filter{
		{Field: "grouping", Value: "g2"},
		{Field: "oid", Value: "c"},
	}}, SortSpec{Field: "oid"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].OID)
	assert.Equal(t, "c", rows[1].OID)
}

func TestDeprecatedAndUndeleteResolution(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.AppendDeprecated(Object{OID: "o1", UUID: "u1", Version: 1}))
	require.NoError(t, c.AppendDeprecated(Object{OID: "o1", UUID: "u1", Version: 2}))

	uuid, err := c.FindUUIDByOID("o1")
	require.NoError(t, err)
	assert.Equal(t, "u1", uuid)

	gens, err := c.ListDeprecatedByUUID("u1")
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, 1, gens[0].Version)
	assert.Equal(t, 2, gens[1].Version)
}
