package lrs

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/ioadapter"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/lrswire"
)

// Client is a connection to an LRS broker, implementing layout.Allocator.
// One Client is exclusive to one driver instance (spec §5 "The LRS socket
// is exclusive to one driver instance").
type Client struct {
	conn    net.Conn
	adapter ioadapter.Adapter // the medium endpoint used for actual byte IO once granted

	mu sync.Mutex
}

// Dial connects to an LRS broker's UNIX socket. adapter is the IO endpoint
// used to perform the byte-level reads/writes the grants describe — in this
// minimal broker that is always the server's own directory adapter, reached
// out-of-band for the in-process case (see DialInProcess).
func Dial(socketPath string, adapter ioadapter.Adapter) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "lrs: dial")
	}
	return &Client{conn: conn, adapter: adapter}, nil
}

// DialInProcess connects to a Server running in the same process, reusing
// its directory adapter directly — avoids standing up a second on-disk root
// for tests and single-process deployments.
func DialInProcess(srv *Server, socketPath string) (*Client, error) {
	return Dial(socketPath, srv.Adapter())
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(req lrswire.Request) (lrswire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := lrswire.WriteFrame(c.conn, req); err != nil {
		return lrswire.Response{}, errors.Wrap(err, "lrs: send")
	}
	var resp lrswire.Response
	if err := lrswire.ReadFrame(c.conn, &resp); err != nil {
		return lrswire.Response{}, errors.Wrap(err, "lrs: recv")
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("lrs: %s", resp.Error)
	}
	return resp, nil
}

// RequestWrite implements layout.Allocator.
func (c *Client) RequestWrite(_ context.Context, family catalog.MediumFamily, grouping string, n int, remaining int64) (layout.WriteGrant, error) {
	req := lrswire.Request{
		ID:   uuid.NewString(),
		Kind: lrswire.KindWriteAlloc,
		Body: lrswire.Encode(lrswire.WriteAllocReq{Family: family, Grouping: grouping, ReplCount: n, ObjectSize: remaining}),
	}
	resp, err := c.call(req)
	if err != nil {
		return layout.WriteGrant{}, err
	}
	var body lrswire.WriteAllocResp
	if err := lrswire.Decode(resp.Body, &body); err != nil {
		return layout.WriteGrant{}, err
	}
	return layout.WriteGrant{
		GrantID:    body.GrantID,
		Media:      body.Media,
		Addresses:  body.Addresses,
		BlockSizes: body.BlockSizes,
		SplitSize:  body.SplitSize,
	}, nil
}

// RequestRead implements layout.Allocator (spec §6 "read-allocation (by
// layout id)").
func (c *Client) RequestRead(_ context.Context, objectUUID string, version int, copyName string) (layout.ReadGrant, error) {
	req := lrswire.Request{
		ID:   uuid.NewString(),
		Kind: lrswire.KindReadAlloc,
		Body: lrswire.Encode(lrswire.ReadAllocReq{ObjectUUID: objectUUID, Version: version, CopyName: copyName}),
	}
	resp, err := c.call(req)
	if err != nil {
		return layout.ReadGrant{}, err
	}
	var body lrswire.ReadAllocResp
	if err := lrswire.Decode(resp.Body, &body); err != nil {
		return layout.ReadGrant{}, err
	}
	return layout.ReadGrant{GrantID: body.GrantID, ChosenExtentAt: body.ChosenExtentAt}, nil
}

// Release implements layout.Allocator.
func (c *Client) Release(_ context.Context, grantID string) error {
	req := lrswire.Request{
		ID:   uuid.NewString(),
		Kind: lrswire.KindRelease,
		Body: lrswire.Encode(lrswire.ReleaseReq{GrantID: grantID}),
	}
	_, err := c.call(req)
	return err
}

// Erase asks the broker to delete (or orphan) one extent (spec §4.1
// "Eraser").
func (c *Client) Erase(extentUUID string, medium catalog.MediumRef, address string) error {
	req := lrswire.Request{
		ID:   uuid.NewString(),
		Kind: lrswire.KindErase,
		Body: lrswire.Encode(lrswire.EraseReq{ExtentUUID: extentUUID, Medium: medium, Address: address}),
	}
	_, err := c.call(req)
	return err
}

// Ping checks broker liveness.
func (c *Client) Ping() error {
	req := lrswire.Request{ID: uuid.NewString(), Kind: lrswire.KindPing, Body: lrswire.Encode(lrswire.PingReq{})}
	_, err := c.call(req)
	return err
}

// Adapter returns the IO endpoint used to perform granted byte IO.
func (c *Client) Adapter() ioadapter.Adapter { return c.adapter }

var _ layout.Allocator = (*Client)(nil)
