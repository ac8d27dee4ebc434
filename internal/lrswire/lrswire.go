// Package lrswire implements the LRS wire contract (spec §6): length-
// prefixed, typed JSON messages exchanged over a UNIX stream socket. Every
// request carries an opaque id chosen by the sender; responses echo it,
// which is how a transfer driver demultiplexes concurrent data processors
// sharing one socket (spec §4.3 "Ordering guarantees").
package lrswire

import (
	"encoding/binary"
	encjson "encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage is an undecoded JSON body, deferred for Kind-specific decoding.
type RawMessage = encjson.RawMessage

// Kind names a request/response message type (spec §6 "LRS wire contract").
type Kind string

const (
	KindWriteAlloc Kind = "write_alloc"
	KindReadAlloc  Kind = "read_alloc"
	KindRelease    Kind = "release"
	KindErase      Kind = "erase"
	KindPing       Kind = "ping"
)

// Request is one typed LRS request envelope.
type Request struct {
	ID   string          `json:"id"`
	Kind Kind            `json:"kind"`
	Body RawMessage `json:"body"`
}

// Response is one typed LRS response envelope, echoing the request's ID.
type Response struct {
	ID    string          `json:"id"`
	Kind  Kind            `json:"kind"`
	Body  RawMessage `json:"body"`
	Error string          `json:"error,omitempty"`
}

// WriteAllocReq asks the LRS to reserve media for a write (spec §6
// "write-allocation (with family, library, grouping, stripe hints)").
type WriteAllocReq struct {
	Family     catalog.MediumFamily `json:"family"`
	Library    string               `json:"library"`
	Grouping   string               `json:"grouping"`
	ReplCount  int                  `json:"repl_count"`
	ObjectSize int64                `json:"object_size"`
}

// WriteAllocResp carries one granted medium/address/block-size per replica
// (spec §6 "write-responses carry per-replica medium identity, IO-adapter
// endpoint, and preferred block size").
type WriteAllocResp struct {
	GrantID    string               `json:"grant_id"`
	Media      []catalog.MediumRef  `json:"media"`
	Addresses  []string             `json:"addresses"`
	BlockSizes []int                `json:"block_sizes"`
	SplitSize  int64                `json:"split_size"`
}

// ReadAllocReq asks the LRS for access to one replica per split of a layout
// (spec §6 "read-allocation (by layout id)").
type ReadAllocReq struct {
	ObjectUUID string `json:"object_uuid"`
	Version    int    `json:"version"`
	CopyName   string `json:"copy_name"`
}

// ReadAllocResp carries the chosen replica per split (spec §6
// "read-responses carry the chosen replica per split").
type ReadAllocResp struct {
	GrantID        string      `json:"grant_id"`
	ChosenExtentAt map[int]int `json:"chosen_extent_at"`
}

// ReleaseReq releases a previously granted allocation. Splits is carried on
// the wire, but the broker in internal/lrs ignores it and always releases
// the whole grant.
type ReleaseReq struct {
	GrantID string `json:"grant_id"`
	Splits  []int  `json:"splits,omitempty"` // empty = release everything
}

// ReleaseResp acknowledges a release.
type ReleaseResp struct{}

// EraseReq asks the LRS to delete (or orphan, for tape) one extent (spec §6
// "erase (by extent)").
type EraseReq struct {
	ExtentUUID string             `json:"extent_uuid"`
	Medium     catalog.MediumRef  `json:"medium"`
	Address    string             `json:"address"`
}

// EraseResp acknowledges an erase.
type EraseResp struct{}

// PingReq/PingResp are the liveness pair (spec §6 "ping").
type PingReq struct{}
type PingResp struct{}

// Encode marshals v into a RawMessage body; the Kind travels on the
// enclosing Request/Response envelope, not in the body.
func Encode(v interface{}) RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Decode unmarshals a RawMessage body into v.
func Decode(body RawMessage, v interface{}) error {
	return json.Unmarshal(body, v)
}

// WriteFrame writes a length-prefixed JSON-encoded message to w. A 4-byte
// big-endian length prefix is exactly what encoding/binary is for; no
// ecosystem framing library is pulled in for this (see DESIGN.md).
func WriteFrame(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed JSON message from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}
