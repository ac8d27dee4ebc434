package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Catalog.Path = ""
	cfg.Hostname = "testhost"
	cfg.LRS.SocketPath = t.TempDir() + "/lrs.sock"

	s, err := Open(cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.cat.UpsertMedium(catalog.Medium{
		Ref:         catalog.MediumRef{Family: catalog.FamilyDir, Name: "m0"},
		AdminStatus: "unlocked",
	}))
	require.NoError(t, s.cat.UpsertMedium(catalog.Medium{
		Ref:         catalog.MediumRef{Family: catalog.FamilyDir, Name: "m1"},
		AdminStatus: "unlocked",
	}))
	return s
}

func TestStorePutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	payload := []byte("store-level put/get round trip")

	putRes := s.Put(ctx, []*Target{{OID: "smoke-1", SrcFd: bytes.NewReader(payload), Size: int64(len(payload))}})
	require.Zero(t, putRes.RC)

	var out bytes.Buffer
	getRes := s.Get(ctx, []*Target{{OID: "smoke-1", DstFd: &out}})
	require.Zero(t, getRes.RC)
	assert.Equal(t, payload, out.Bytes())
}

func TestStoreListObjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	putRes := s.Put(ctx, []*Target{{OID: "listed-1", SrcFd: bytes.NewReader([]byte("x")), Size: 1}})
	require.Zero(t, putRes.RC)

	objs, err := s.ListObjects(Filter{Field: "oid", Value: "listed-1"}, SortSpec{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "listed-1", objs[0].OID)
}
