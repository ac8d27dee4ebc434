// Package lrs is a minimal resource broker standing in for the
// out-of-scope LRS daemon (spec §1: "LRS daemon internals ... out of
// scope ... their contracts are stated in §6 only as far as the core
// needs them"). It serves the write/read-allocation, release, erase, and
// ping request kinds over a UNIX stream socket (spec §6), backed by the
// catalog's media/lock tables and a directory IO adapter, just enough to
// drive the RAID1 codec and the transfer driver end to end.
package lrs

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/ioadapter"
	"github.com/cea-hpc/phobosd-go/internal/lrswire"
	"github.com/cea-hpc/phobosd-go/internal/plog"
)

// Server serves the LRS wire contract over a UNIX socket.
type Server struct {
	cat      *catalog.Catalog
	dataRoot string
	hostname string

	mu      sync.Mutex
	grants  map[string]*grant
	adapter *ioadapter.DirAdapter

	ln net.Listener
	wg sync.WaitGroup
}

type grant struct {
	kind    lrswire.Kind
	extents []catalog.Extent // for read grants: the extents considered
}

// NewServer builds a broker rooted at dataRoot (one DirAdapter for every
// medium, for simplicity; production phobos fans this out across many real
// device classes, which is exactly the part spec §1 puts out of scope).
func NewServer(cat *catalog.Catalog, dataRoot, hostname string) (*Server, error) {
	ad, err := ioadapter.NewDirAdapter(dataRoot, 64*1024)
	if err != nil {
		return nil, err
	}
	return &Server{cat: cat, dataRoot: dataRoot, hostname: hostname, grants: map[string]*grant{}, adapter: ad}, nil
}

// Serve listens on socketPath and handles connections until Close.
func (s *Server) Serve(socketPath string) error {
	_ = os.Remove(socketPath) // a stale socket file from a prior run blocks net.Listen
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return errors.Wrap(err, "lrs: listen")
	}
	s.ln = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		}
	}()
	return nil
}

func (s *Server) Close() error {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		var req lrswire.Request
		if err := lrswire.ReadFrame(conn, &req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := lrswire.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req lrswire.Request) lrswire.Response {
	switch req.Kind {
	case lrswire.KindWriteAlloc:
		return s.handleWriteAlloc(req)
	case lrswire.KindReadAlloc:
		return s.handleReadAlloc(req)
	case lrswire.KindRelease:
		return s.handleRelease(req)
	case lrswire.KindErase:
		return s.handleErase(req)
	case lrswire.KindPing:
		return lrswire.Response{ID: req.ID, Kind: req.Kind, Body: lrswire.Encode(lrswire.PingResp{})}
	default:
		return lrswire.Response{ID: req.ID, Kind: req.Kind, Error: "unknown request kind"}
	}
}

func (s *Server) handleWriteAlloc(req lrswire.Request) lrswire.Response {
	var body lrswire.WriteAllocReq
	if err := lrswire.Decode(req.Body, &body); err != nil {
		return errResp(req, err)
	}
	media, err := s.cat.ListUnlockedByFamily(body.Family)
	if err != nil || len(media) == 0 {
		return errResp(req, fmt.Errorf("no usable medium for family %s", body.Family))
	}
	n := body.ReplCount
	if n < 1 {
		n = 1
	}
	refs := make([]catalog.MediumRef, n)
	addrs := make([]string, n)
	blocks := make([]int, n)
	splitSize := body.ObjectSize
	for i := 0; i < n; i++ {
		m := media[i%len(media)]
		refs[i] = m.Ref
		addrs[i] = uuid.NewString()
		blocks[i] = s.adapter.PreferredBlockSize()
		// FreeBytes == 0 means untracked/unlimited capacity for this
		// medium; only a tracked, smaller capacity clamps the split (spec
		// §4.1 "the length of each split is decided by the LRS allocation
		// (medium capacity, minimum block size)").
		if m.FreeBytes > 0 && (splitSize <= 0 || m.FreeBytes < splitSize) {
			splitSize = m.FreeBytes
		}
	}
	grantID := uuid.NewString()
	s.mu.Lock()
	s.grants[grantID] = &grant{kind: lrswire.KindWriteAlloc}
	s.mu.Unlock()
	resp := lrswire.WriteAllocResp{
		GrantID:    grantID,
		Media:      refs,
		Addresses:  addrs,
		BlockSizes: blocks,
		SplitSize:  splitSize,
	}
	return lrswire.Response{ID: req.ID, Kind: req.Kind, Body: lrswire.Encode(resp)}
}

func (s *Server) handleReadAlloc(req lrswire.Request) lrswire.Response {
	var body lrswire.ReadAllocReq
	if err := lrswire.Decode(req.Body, &body); err != nil {
		return errResp(req, err)
	}
	l, err := s.cat.GetLayout(body.ObjectUUID, body.Version, body.CopyName)
	if err != nil {
		return errResp(req, err)
	}
	replCount := 1
	if v, ok := l.ModAttrs.Get("raid1.repl_count"); ok {
		fmt.Sscanf(v, "%d", &replCount)
	}
	if replCount < 1 {
		replCount = 1
	}
	chosen := map[int]int{}
	for split := 0; split*replCount < len(l.Extents); split++ {
		// nominate the first usable (non-orphan) replica, per spec §4.1
		// "decoder ... entitled to choose any one usable replica".
		picked := -1
		for r := 0; r < replCount; r++ {
			idx := split*replCount + r
			if idx >= len(l.Extents) {
				break
			}
			if l.Extents[idx].State != catalog.ExtentOrphan {
				picked = idx
				break
			}
		}
		if picked < 0 {
			return errResp(req, fmt.Errorf("no usable replica for split %d", split))
		}
		chosen[split] = picked
	}
	grantID := uuid.NewString()
	s.mu.Lock()
	s.grants[grantID] = &grant{kind: lrswire.KindReadAlloc, extents: l.Extents}
	s.mu.Unlock()
	resp := lrswire.ReadAllocResp{GrantID: grantID, ChosenExtentAt: chosen}
	return lrswire.Response{ID: req.ID, Kind: req.Kind, Body: lrswire.Encode(resp)}
}

func (s *Server) handleRelease(req lrswire.Request) lrswire.Response {
	var body lrswire.ReleaseReq
	if err := lrswire.Decode(req.Body, &body); err != nil {
		return errResp(req, err)
	}
	s.mu.Lock()
	delete(s.grants, body.GrantID)
	s.mu.Unlock()
	return lrswire.Response{ID: req.ID, Kind: req.Kind, Body: lrswire.Encode(lrswire.ReleaseResp{})}
}

func (s *Server) handleErase(req lrswire.Request) lrswire.Response {
	var body lrswire.EraseReq
	if err := lrswire.Decode(req.Body, &body); err != nil {
		return errResp(req, err)
	}
	if body.Medium.Family != catalog.FamilyTape {
		if err := s.adapter.Delete(body.Address); err != nil {
			return errResp(req, err)
		}
	}
	return lrswire.Response{ID: req.ID, Kind: req.Kind, Body: lrswire.Encode(lrswire.EraseResp{})}
}

// Adapter exposes the broker's directory adapter so an in-process client
// (internal/lrs.Client, used by tests and single-process deployments) can
// perform the actual byte IO once a grant is issued.
func (s *Server) Adapter() *ioadapter.DirAdapter { return s.adapter }

func errResp(req lrswire.Request, err error) lrswire.Response {
	plog.Errorln(err)
	return lrswire.Response{ID: req.ID, Kind: req.Kind, Error: err.Error()}
}
