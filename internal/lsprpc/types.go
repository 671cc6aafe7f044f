// Package lsprpc implements the JSON-RPC Transport and LSP method router
// (spec.md §4.10, component C10): Content-Length-framed JSON-RPC 2.0 over
// stdio or a TCP socket, dispatching to registered method handlers.
//
// Grounded directly on the teacher's jsonrpc2 package (Conn/Handler/ID/
// WireRequest/WireResponse vocabulary, jsonrpc2/jsonrpc2.go and
// jsonrpc2/backoff_handler.go) which every provider in the pack drives
// through jsonrpc2.NewConn(jsonrpc2.NewHeaderStream(...), log). The
// retrieved copy of that package stops at the Conn/Handler layer and
// does not include the Stream implementation its callers construct with
// NewHeaderStream/NewStream, so this package supplies that layer itself,
// in the same style, to complete the transport this server needs.
package lsprpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// VersionTag is the literal "2.0" per the JSON-RPC 2.0 spec.
type VersionTag string

// MarshalJSON renders the version tag.
func (VersionTag) MarshalJSON() ([]byte, error) {
	return json.Marshal("2.0")
}

// UnmarshalJSON accepts (and discards) the incoming version string.
func (VersionTag) UnmarshalJSON([]byte) error {
	return nil
}

// ID is a JSON-RPC request identifier: either a number or a string, never
// both.
type ID struct {
	Name   string
	Number int64
}

// MarshalJSON renders whichever of Name/Number is set.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.Name != "" {
		return json.Marshal(id.Name)
	}
	return json.Marshal(id.Number)
}

// UnmarshalJSON accepts either a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &id.Number); err == nil {
		return nil
	}
	return json.Unmarshal(data, &id.Name)
}

func (id ID) String() string {
	if id.Name != "" {
		return id.Name
	}
	return fmt.Sprintf("%d", id.Number)
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int64            `json:"code"`
	Message string           `json:"message"`
	Data    *json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes used by this server (spec.md §4.10,
// item 4).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewErrorf builds an Error for code, formatting message like fmt.Sprintf.
func NewErrorf(code int64, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WireRequest is a JSON-RPC request or notification as it appears on the
// wire: a notification omits ID.
type WireRequest struct {
	VersionTag VersionTag       `json:"jsonrpc"`
	ID         *ID              `json:"id,omitempty"`
	Method     string           `json:"method"`
	Params     *json.RawMessage `json:"params,omitempty"`
}

// WireResponse is a JSON-RPC response as it appears on the wire.
type WireResponse struct {
	VersionTag VersionTag       `json:"jsonrpc"`
	ID         *ID              `json:"id,omitempty"`
	Result     *json.RawMessage `json:"result,omitempty"`
	Error      *Error           `json:"error,omitempty"`
}

// combined decodes either a request or a response; Run uses it to tell
// the two apart after reading one frame.
type combined struct {
	VersionTag VersionTag       `json:"jsonrpc"`
	ID         *ID              `json:"id,omitempty"`
	Method     string           `json:"method"`
	Params     *json.RawMessage `json:"params,omitempty"`
	Result     *json.RawMessage `json:"result,omitempty"`
	Error      *Error           `json:"error,omitempty"`
}

// Direction indicates whether a message is being sent or received, passed
// to Handler.Request/Response.
type Direction bool

const (
	Send    Direction = true
	Receive Direction = false
)

// Handler observes every message flowing through a Conn. All methods are
// optional to implement meaningfully; NoopHandler supplies no-op
// defaults to embed.
type Handler interface {
	Cancel(ctx context.Context, conn *Conn, id ID, cancelled bool) bool
	Request(ctx context.Context, conn *Conn, direction Direction, r *WireRequest) context.Context
	Response(ctx context.Context, conn *Conn, direction Direction, r *WireResponse) context.Context
	Done(ctx context.Context, err error)
	Read(ctx context.Context, bytes int64) context.Context
	Wrote(ctx context.Context, bytes int64) context.Context
	Error(ctx context.Context, err error)
}

// NoopHandler implements Handler with no-op methods; embed it to
// override only the methods a particular handler cares about.
type NoopHandler struct{}

func (NoopHandler) Cancel(ctx context.Context, conn *Conn, id ID, cancelled bool) bool {
	return cancelled
}
func (NoopHandler) Request(ctx context.Context, conn *Conn, direction Direction, r *WireRequest) context.Context {
	return ctx
}
func (NoopHandler) Response(ctx context.Context, conn *Conn, direction Direction, r *WireResponse) context.Context {
	return ctx
}
func (NoopHandler) Done(ctx context.Context, err error)        {}
func (NoopHandler) Read(ctx context.Context, bytes int64) context.Context  { return ctx }
func (NoopHandler) Wrote(ctx context.Context, bytes int64) context.Context { return ctx }
func (NoopHandler) Error(ctx context.Context, err error)       {}

func marshalToRaw(obj interface{}) (*json.RawMessage, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(data)
	return &raw, nil
}
