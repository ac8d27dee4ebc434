package lrs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/phobosd-go/internal/attrs"
	"github.com/cea-hpc/phobosd-go/internal/catalog"
)

func newTestServer(t *testing.T) (*catalog.Catalog, *Server, *Client) {
	t.Helper()
	cat, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	require.NoError(t, cat.UpsertMedium(catalog.Medium{
		Ref:         catalog.MediumRef{Family: catalog.FamilyDir, Name: "m0"},
		AdminStatus: "unlocked",
	}))

	srv, err := NewServer(cat, t.TempDir(), "host0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	sock := t.TempDir() + "/lrs.sock"
	require.NoError(t, srv.Serve(sock))

	cli, err := DialInProcess(srv, sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	return cat, srv, cli
}

func TestWriteAllocGrantsRequestedReplicas(t *testing.T) {
	_, _, cli := newTestServer(t)
	grant, err := cli.RequestWrite(context.Background(), catalog.FamilyDir, "", 2, 0)
	require.NoError(t, err)
	assert.Len(t, grant.Media, 2)
	assert.Len(t, grant.Addresses, 2)
	assert.NotEmpty(t, grant.GrantID)
}

func TestWriteAllocNoUsableMediumFails(t *testing.T) {
	cat, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	srv, err := NewServer(cat, t.TempDir(), "host0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	sock := t.TempDir() + "/lrs.sock"
	require.NoError(t, srv.Serve(sock))
	cli, err := DialInProcess(srv, sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	_, err = cli.RequestWrite(context.Background(), catalog.FamilyDir, "", 1, 0)
	assert.Error(t, err, "no medium of the family registered, so the alloc must fail")
}

func TestReleaseThenReadAllocRoundTrip(t *testing.T) {
	cat, _, cli := newTestServer(t)
	ctx := context.Background()

	grant, err := cli.RequestWrite(ctx, catalog.FamilyDir, "", 1, 0)
	require.NoError(t, err)

	w, _, err := cli.Adapter().Open(grant.Addresses[0], true)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, cli.Release(ctx, grant.GrantID))

	l := catalog.Layout{
		ObjectUUID: "u1",
		Version:    1,
		CopyName:   "source",
		ModAttrs:   nil,
		Extents: []catalog.Extent{{
			ExtentUUID: "e1",
			State:      catalog.ExtentSync,
			Size:       7,
			Medium:     grant.Media[0],
			Address:    grant.Addresses[0],
		}},
	}
	mod := attrs.New()
	mod.Set("raid1.repl_count", "1")
	l.ModAttrs = mod
	require.NoError(t, cat.InsertLayout(l))

	readGrant, err := cli.RequestRead(ctx, "u1", 1, "source")
	require.NoError(t, err)
	idx, ok := readGrant.ChosenExtentAt[0]
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	r, _, err := cli.Adapter().Open(l.Extents[idx].Address, false)
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
	require.NoError(t, cli.Release(ctx, readGrant.GrantID))
}

func TestPing(t *testing.T) {
	_, _, cli := newTestServer(t)
	assert.NoError(t, cli.Ping())
}
