// Package store is the public object store API (spec §6): Put, Get, GetMD,
// Delete, Undelete, Copy, Locate, Rename, ListObjects, ListCopies. It is the
// composition root wiring internal/catalog, internal/lrs, internal/raid1,
// and internal/xfer behind one handle a client opens once per session.
package store

import (
	"context"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/config"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/lrs"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
	"github.com/cea-hpc/phobosd-go/internal/plog"
	"github.com/cea-hpc/phobosd-go/internal/raid1"
	"github.com/cea-hpc/phobosd-go/internal/xfer"
)

// Re-exported xfer types so callers never import internal packages.
type (
	Target      = xfer.Target
	Scope       = xfer.Scope
	BatchResult = xfer.BatchResult
	Filter      = catalog.Filter
	SortSpec    = catalog.SortSpec
	Object      = catalog.Object
	Copy        = catalog.Copy
	LocateResult = layout.LocateResult
)

const (
	ScopeAlive      = xfer.ScopeAlive
	ScopeDeprecated = xfer.ScopeDeprecated
)

// Store is one client session: a catalog handle, an in-process LRS broker
// and client, a RAID1 codec, and the transfer driver composing them (spec
// §5 "One driver instance owns one DSS connection and one LRS socket").
type Store struct {
	cfg    *config.Config
	cat    *catalog.Catalog
	srv    *lrs.Server
	cli    *lrs.Client
	Driver *xfer.Driver
}

// Open starts a store: opens the catalog, stands up an in-process LRS
// broker over its configured socket, dials it, and builds the transfer
// driver. dataRoot is where the broker's directory adapter persists extent
// bytes (spec §2 "dir" medium family).
func Open(cfg *config.Config, dataRoot string) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, perrors.Wrap(err, "store: open catalog")
	}
	srv, err := lrs.NewServer(cat, dataRoot, cfg.Hostname)
	if err != nil {
		cat.Close()
		return nil, perrors.Wrap(err, "store: build lrs broker")
	}
	if err := srv.Serve(cfg.LRS.SocketPath); err != nil {
		cat.Close()
		return nil, perrors.Wrap(err, "store: serve lrs socket")
	}
	cli, err := lrs.DialInProcess(srv, cfg.LRS.SocketPath)
	if err != nil {
		srv.Close()
		cat.Close()
		return nil, perrors.Wrap(err, "store: dial lrs broker")
	}
	codec := raid1.New(srv.Adapter())
	driver := xfer.New(cat, codec, cli, cfg)

	plog.Infof("store: opened catalog=%s lrs=%s data=%s", cfg.Catalog.Path, cfg.LRS.SocketPath, dataRoot)
	return &Store{cfg: cfg, cat: cat, srv: srv, cli: cli, Driver: driver}, nil
}

// Close tears the session down in reverse dependency order.
func (s *Store) Close() error {
	_ = s.cli.Close()
	_ = s.srv.Close()
	return s.cat.Close()
}

func (s *Store) Put(ctx context.Context, targets []*Target) BatchResult {
	return s.Driver.Put(ctx, targets)
}

func (s *Store) Get(ctx context.Context, targets []*Target) BatchResult {
	return s.Driver.Get(ctx, targets)
}

func (s *Store) GetMD(ctx context.Context, targets []*Target) BatchResult {
	return s.Driver.GetMD(ctx, targets)
}

func (s *Store) Delete(ctx context.Context, targets []*Target, hard bool) BatchResult {
	return s.Driver.Delete(ctx, targets, hard)
}

func (s *Store) Undelete(ctx context.Context, targets []*Target) BatchResult {
	return s.Driver.Undelete(ctx, targets)
}

func (s *Store) Copy(ctx context.Context, targets []*Target) BatchResult {
	return s.Driver.Copy(ctx, targets)
}

func (s *Store) Locate(ctx context.Context, oid, objUUID string, version int, copyName, focusHost string) (LocateResult, error) {
	return s.Driver.Locate(ctx, oid, objUUID, version, copyName, focusHost)
}

func (s *Store) Rename(oldOID, newOID string) error {
	return s.Driver.Rename(oldOID, newOID)
}

func (s *Store) ListObjects(filter Filter, sort SortSpec) ([]Object, error) {
	return s.Driver.ListObjects(filter, sort)
}

func (s *Store) ListCopies(filter Filter, sort SortSpec) ([]Copy, error) {
	return s.Driver.ListCopies(filter, sort)
}
