package lsprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Conn is a JSON-RPC 2.0 connection. It is bidirectional: it does not
// have a designated server or client end, matching the teacher's
// jsonrpc2.Conn (jsonrpc2/jsonrpc2.go).
type Conn struct {
	seq       int64 // accessed only via atomic operations
	handlers  []Handler
	stream    Stream
	pendingMu sync.Mutex
	pending   map[ID]chan *WireResponse
	logger    logr.Logger

	dispatch func(ctx context.Context, conn *Conn, req *WireRequest)
}

// NewConn creates a Conn around stream. Call Run to start processing
// incoming messages, and SetDispatch before Run to handle incoming
// requests/notifications.
func NewConn(stream Stream, log logr.Logger) *Conn {
	return &Conn{
		handlers: []Handler{NoopHandler{}},
		stream:   stream,
		pending:  make(map[ID]chan *WireResponse),
		logger:   log,
	}
}

// AddHandler adds a new handler; handlers are invoked in the reverse
// order they were added, letting the most recently added one observe a
// message first (matches the teacher's AddHandler contract).
func (c *Conn) AddHandler(h Handler) {
	c.handlers = append([]Handler{h}, c.handlers...)
}

// SetDispatch installs the function invoked for every incoming request
// or notification. It must be set before Run is called.
func (c *Conn) SetDispatch(fn func(ctx context.Context, conn *Conn, req *WireRequest)) {
	c.dispatch = fn
}

// Notify sends a notification (a request with no ID, expecting no
// response).
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	jsonParams, err := marshalToRaw(params)
	if err != nil {
		return fmt.Errorf("marshal notify params: %w", err)
	}
	request := &WireRequest{VersionTag: "2.0", Method: method, Params: jsonParams}
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal notify request: %w", err)
	}

	for _, h := range c.handlers {
		ctx = h.Request(ctx, c, Send, request)
	}
	var sendErr error
	defer func() {
		for _, h := range c.handlers {
			h.Done(ctx, sendErr)
		}
	}()

	n, err := c.stream.Write(ctx, data)
	for _, h := range c.handlers {
		ctx = h.Wrote(ctx, n)
	}
	sendErr = err
	return err
}

// Call sends a request and waits for its response, decoding the result
// into result (which must be a pointer, or nil to discard the result).
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	id := ID{Number: atomic.AddInt64(&c.seq, 1)}
	jsonParams, err := marshalToRaw(params)
	if err != nil {
		return fmt.Errorf("marshal call params: %w", err)
	}
	request := &WireRequest{VersionTag: "2.0", ID: &id, Method: method, Params: jsonParams}
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal call request: %w", err)
	}

	for _, h := range c.handlers {
		ctx = h.Request(ctx, c, Send, request)
	}

	rchan := make(chan *WireResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = rchan
	c.pendingMu.Unlock()

	var callErr error
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		for _, h := range c.handlers {
			h.Done(ctx, callErr)
		}
	}()

	n, err := c.stream.Write(ctx, data)
	for _, h := range c.handlers {
		ctx = h.Wrote(ctx, n)
	}
	if err != nil {
		callErr = err
		return err
	}

	select {
	case response := <-rchan:
		for _, h := range c.handlers {
			ctx = h.Response(ctx, c, Receive, response)
		}
		if response.Error != nil {
			callErr = response.Error
			return response.Error
		}
		if result == nil || response.Result == nil {
			return nil
		}
		if err := json.Unmarshal(*response.Result, result); err != nil {
			callErr = err
			return fmt.Errorf("unmarshal call result: %w", err)
		}
		return nil
	case <-ctx.Done():
		cancelled := false
		for _, h := range c.handlers {
			if h.Cancel(ctx, c, id, cancelled) {
				cancelled = true
			}
		}
		callErr = ctx.Err()
		return ctx.Err()
	}
}

// Reply sends a response for a request previously delivered to the
// dispatch function (matching the id it carried).
func (c *Conn) Reply(ctx context.Context, id ID, result interface{}, replyErr *Error) error {
	response := &WireResponse{VersionTag: "2.0", ID: &id, Error: replyErr}
	if replyErr == nil {
		raw, err := marshalToRaw(result)
		if err != nil {
			return fmt.Errorf("marshal reply result: %w", err)
		}
		response.Result = raw
	}
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	for _, h := range c.handlers {
		ctx = h.Response(ctx, c, Send, response)
	}
	n, err := c.stream.Write(ctx, data)
	for _, h := range c.handlers {
		ctx = h.Wrote(ctx, n)
	}
	return err
}

// Run reads messages from the stream until it closes or errors,
// dispatching incoming requests/notifications to the installed dispatch
// function and routing incoming responses back to their waiting Call.
// It must be called exactly once per Conn (matches the teacher's
// jsonrpc2.Conn.Run contract).
func (c *Conn) Run(ctx context.Context) error {
	c.logger.V(5).Info("starting to run rpc connection")
	for {
		data, n, err := c.stream.Read(ctx)
		if err != nil {
			return err
		}
		for _, h := range c.handlers {
			ctx = h.Read(ctx, n)
		}

		msg := &combined{}
		if err := json.Unmarshal(data, msg); err != nil {
			for _, h := range c.handlers {
				h.Error(ctx, fmt.Errorf("unmarshal message: %w", err))
			}
			continue
		}

		switch {
		case msg.ID != nil && msg.Method == "" && (msg.Result != nil || msg.Error != nil):
			// response to one of our own outgoing calls
			c.pendingMu.Lock()
			rchan, ok := c.pending[*msg.ID]
			if ok {
				delete(c.pending, *msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				rchan <- &WireResponse{Result: msg.Result, Error: msg.Error, ID: msg.ID}
				close(rchan)
			}

		case msg.Method != "":
			req := &WireRequest{VersionTag: msg.VersionTag, ID: msg.ID, Method: msg.Method, Params: msg.Params}
			for _, h := range c.handlers {
				ctx = h.Request(ctx, c, Receive, req)
			}
			if c.dispatch != nil {
				c.dispatch(ctx, c, req)
			}

		default:
			for _, h := range c.handlers {
				h.Error(ctx, fmt.Errorf("message is neither a call, notify, nor response"))
			}
		}
	}
}

// Close releases the underlying stream.
func (c *Conn) Close() error {
	return c.stream.Close()
}
