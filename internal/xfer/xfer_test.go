package xfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/config"
	"github.com/cea-hpc/phobosd-go/internal/lrs"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
	"github.com/cea-hpc/phobosd-go/internal/raid1"
)

type testRig struct {
	cat    *catalog.Catalog
	srv    *lrs.Server
	client *lrs.Client
	driver *Driver
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cat, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	for i := 0; i < 3; i++ {
		ref := catalog.MediumRef{Family: catalog.FamilyDir, Name: "medium-" + string(rune('a'+i))}
		require.NoError(t, cat.UpsertMedium(catalog.Medium{Ref: ref, AdminStatus: "unlocked"}))
	}

	srv, err := lrs.NewServer(cat, t.TempDir(), "testhost")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	sock := t.TempDir() + "/lrs.sock"
	require.NoError(t, srv.Serve(sock))

	cli, err := lrs.DialInProcess(srv, sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	codec := raid1.New(srv.Adapter())
	cfg := config.Default()
	cfg.Hostname = "testhost"
	d := New(cat, codec, cli, cfg)

	return &testRig{cat: cat, srv: srv, client: cli, driver: d}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	payload := []byte("round trip payload for phobosd-go")

	putRes := r.driver.Put(ctx, []*Target{{OID: "obj1", SrcFd: bytes.NewReader(payload), Size: int64(len(payload))}})
	require.Equal(t, perrors.Code(0), putRes.RC)

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj1", DstFd: &out}})
	require.Equal(t, perrors.Code(0), getRes.RC)
	assert.Equal(t, payload, out.Bytes())
}

func TestPutOverwriteBumpsVersion(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj2", SrcFd: bytes.NewReader([]byte("v1")), Size: 2}})
	require.Equal(t, perrors.Code(0), res.RC)

	res2 := r.driver.Put(ctx, []*Target{{OID: "obj2", SrcFd: bytes.NewReader([]byte("version-2")), Size: 9, Overwrite: true}})
	require.Equal(t, perrors.Code(0), res2.RC)

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj2", DstFd: &out}})
	require.Equal(t, perrors.Code(0), getRes.RC)
	assert.Equal(t, "version-2", out.String())
}

func TestPutWithoutOverwriteFailsOnExisting(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj3", SrcFd: bytes.NewReader([]byte("x")), Size: 1}})
	require.Equal(t, perrors.Code(0), res.RC)

	res2 := r.driver.Put(ctx, []*Target{{OID: "obj3", SrcFd: bytes.NewReader([]byte("y")), Size: 1}})
	assert.Equal(t, perrors.EEXIST, res2.RC)
}

func TestSoftDeleteThenUndelete(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj4", SrcFd: bytes.NewReader([]byte("payload")), Size: 7}})
	require.Equal(t, perrors.Code(0), res.RC)

	delRes := r.driver.Delete(ctx, []*Target{{OID: "obj4"}}, false)
	require.Equal(t, perrors.Code(0), delRes.RC)

	_, err := r.cat.GetAlive("obj4")
	assert.Equal(t, perrors.ENOENT, perrors.CodeOf(err))

	undelRes := r.driver.Undelete(ctx, []*Target{{OID: "obj4"}})
	require.Equal(t, perrors.Code(0), undelRes.RC)

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj4", DstFd: &out}})
	require.Equal(t, perrors.Code(0), getRes.RC)
	assert.Equal(t, "payload", out.String())
}

func TestHardDeleteRemovesLayout(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj5", SrcFd: bytes.NewReader([]byte("gone")), Size: 4}})
	require.Equal(t, perrors.Code(0), res.RC)
	obj, err := r.cat.GetAlive("obj5")
	require.NoError(t, err)

	delRes := r.driver.Delete(ctx, []*Target{{OID: "obj5"}}, true)
	require.Equal(t, perrors.Code(0), delRes.RC)

	_, err = r.cat.GetLayout(obj.UUID, obj.Version, "source")
	assert.Equal(t, perrors.ENOENT, perrors.CodeOf(err), "hard DEL must drop the layout row of a dir-only copy")

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj5", DstFd: &out}})
	assert.NotEqual(t, perrors.Code(0), getRes.RC, "a hard-deleted object must not be readable")
}

func TestCopyCreatesSecondNamedCopy(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	payload := []byte("copy me please")

	res := r.driver.Put(ctx, []*Target{{OID: "obj6", SrcFd: bytes.NewReader(payload), Size: int64(len(payload))}})
	require.Equal(t, perrors.Code(0), res.RC)

	copyRes := r.driver.Copy(ctx, []*Target{{OID: "obj6", DestCopyName: "backup"}})
	require.Equal(t, perrors.Code(0), copyRes.RC)

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj6", CopyName: "backup", DstFd: &out}})
	require.Equal(t, perrors.Code(0), getRes.RC)
	assert.Equal(t, payload, out.Bytes())
}

func TestRenameMovesAliveObject(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "old-name", SrcFd: bytes.NewReader([]byte("x")), Size: 1}})
	require.Equal(t, perrors.Code(0), res.RC)

	require.NoError(t, r.driver.Rename("old-name", "new-name"))

	_, err := r.cat.GetAlive("old-name")
	assert.Equal(t, perrors.ENOENT, perrors.CodeOf(err))
	_, err = r.cat.GetAlive("new-name")
	assert.NoError(t, err)
}

func TestLocateIsIdempotent(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj7", SrcFd: bytes.NewReader([]byte("locate")), Size: 6}})
	require.Equal(t, perrors.Code(0), res.RC)

	first, err := r.driver.Locate(ctx, "obj7", "", 0, "", "testhost")
	require.NoError(t, err)
	second, err := r.driver.Locate(ctx, "obj7", "", 0, "", "testhost")
	require.NoError(t, err)
	assert.Equal(t, first.Hostname, second.Hostname)
}

func TestBatchReturnCodePriority(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj8", SrcFd: bytes.NewReader([]byte("exists")), Size: 6}})
	require.Equal(t, perrors.Code(0), res.RC)

	batch := r.driver.Put(ctx, []*Target{
		{OID: "obj9", SrcFd: bytes.NewReader([]byte("ok")), Size: 2},
		{OID: "obj8", SrcFd: bytes.NewReader([]byte("dup")), Size: 3}, // no Overwrite -> EEXIST
	})
	require.Len(t, batch.TargetCodes, 2)
	assert.Equal(t, perrors.Code(0), batch.TargetCodes[0])
	assert.Equal(t, perrors.EEXIST, batch.TargetCodes[1])
	assert.Equal(t, perrors.EEXIST, batch.RC, "the first non-zero per-target code becomes the batch code")
}

func TestAllOrNothingLockingBlocksConcurrentPutSameOID(t *testing.T) {
	r := newTestRig(t)
	lockKey := "object:locked-oid"
	require.NoError(t, r.cat.AcquireLocks(catalog.LockObject, []string{lockKey}, "other-host", 999))

	ctx := context.Background()
	res := r.driver.Put(ctx, []*Target{{OID: "locked-oid", SrcFd: bytes.NewReader([]byte("x")), Size: 1}})
	assert.NotEqual(t, perrors.Code(0), res.RC, "a put on an already-locked oid must fail, not block forever")
}

// TestGetWithExplicitVersionReturnsOlderGeneration exercises spec §8
// scenario 3: GET(oid, version=1) after an overwrite must return the
// deprecated v1 payload, not the alive v2 one.
func TestGetWithExplicitVersionReturnsOlderGeneration(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj10", SrcFd: bytes.NewReader([]byte("one-kb-ish")), Size: 10}})
	require.Equal(t, perrors.Code(0), res.RC)

	res2 := r.driver.Put(ctx, []*Target{{OID: "obj10", SrcFd: bytes.NewReader([]byte("two-kb-ish-payload")), Size: 18, Overwrite: true}})
	require.Equal(t, perrors.Code(0), res2.RC)

	var latest bytes.Buffer
	getLatest := r.driver.Get(ctx, []*Target{{OID: "obj10", DstFd: &latest}})
	require.Equal(t, perrors.Code(0), getLatest.RC)
	assert.Equal(t, "two-kb-ish-payload", latest.String())

	var older bytes.Buffer
	getOlder := r.driver.Get(ctx, []*Target{{OID: "obj10", Version: 1, DstFd: &older}})
	require.Equal(t, perrors.Code(0), getOlder.RC)
	assert.Equal(t, "one-kb-ish", older.String())
}

// TestHardDeleteOrphansTapeExtentsButKeepsLayout exercises spec §8 "Soft vs
// hard delete": after hard DEL, tape extents persist with state orphan
// rather than vanishing with the rest of the layout row. Tape media are out
// of scope for this codec's write path (raid1.Encode always targets dir),
// so the layout row is built directly against the catalog.
func TestHardDeleteOrphansTapeExtentsButKeepsLayout(t *testing.T) {
	r := newTestRig(t)
	now := time.Now()

	obj := catalog.Object{OID: "tapeobj", UUID: "tape-uuid-1", Version: 1, CreationTime: now, AccessTime: now}
	require.NoError(t, r.cat.InsertAlive(obj))
	require.NoError(t, r.cat.InsertCopy(catalog.Copy{ObjectUUID: obj.UUID, Version: obj.Version, CopyName: "source", Status: catalog.CopyComplete, CreationTime: now, AccessTime: now}))

	mod := attrs.New()
	mod.Set("raid1.repl_count", "1")
	l := catalog.Layout{
		ObjectUUID: obj.UUID,
		Version:    obj.Version,
		CopyName:   "source",
		LayoutName: "raid1",
		ModAttrs:   mod,
		Extents: []catalog.Extent{{
			ExtentUUID:  "tape-ext-1",
			State:       catalog.ExtentSync,
			Size:        4,
			Medium:      catalog.MediumRef{Family: catalog.FamilyTape, Library: "lib0", Name: "tape0"},
			Address:     "tape0/addr",
			LayoutIndex: 0,
		}},
	}
	require.NoError(t, r.cat.InsertLayout(l))

	delRes := r.driver.Delete(context.Background(), []*Target{{OID: "tapeobj"}}, true)
	require.Equal(t, perrors.Code(0), delRes.RC)

	got, err := r.cat.GetLayout(obj.UUID, obj.Version, "source")
	require.NoError(t, err, "a tape-bearing layout must survive hard DEL")
	require.Len(t, got.Extents, 1)
	assert.Equal(t, catalog.ExtentOrphan, got.Extents[0].State)

	_, err = r.cat.GetCopy(obj.UUID, obj.Version, "source")
	assert.Equal(t, perrors.ENOENT, perrors.CodeOf(err), "the copy row itself is still dropped")
}

// TestGetBestHostReturnsRemoteForOtherHost exercises spec §4.4/§7: GET with
// best_host returns EREMOTE when the object's best host is not the local
// one, without performing the decode.
func TestGetBestHostReturnsRemoteForOtherHost(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res := r.driver.Put(ctx, []*Target{{OID: "obj11", SrcFd: bytes.NewReader([]byte("remote me")), Size: 9}})
	require.Equal(t, perrors.Code(0), res.RC)

	// Lock every split to "other-host" first, so the driver's own hostname
	// ("testhost") is no longer the best host for this object.
	_, err := r.driver.Locate(ctx, "obj11", "", 0, "", "other-host")
	require.NoError(t, err)

	var out bytes.Buffer
	getRes := r.driver.Get(ctx, []*Target{{OID: "obj11", BestHost: true, DstFd: &out}})
	assert.Equal(t, perrors.EREMOTE, getRes.RC)
	assert.Zero(t, out.Len(), "a remote target must not have bytes written to its sink")
}
