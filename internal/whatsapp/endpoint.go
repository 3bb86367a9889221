package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const notificationBuffer = 100

// endpoint is the JSON-RPC session shared by every transport. A transport
// feeds it inbound frames from its read loop and supplies the raw writer.
type endpoint struct {
	ctx    context.Context
	send   func([]byte) error
	logger *slog.Logger

	handler atomic.Pointer[RequestHandler]

	pending   map[string]chan *inbound
	pendingMu sync.Mutex
	writeMu   sync.Mutex

	notifications chan *Notification

	cancel    context.CancelFunc
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newEndpoint(send func([]byte) error, logger *slog.Logger) *endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	return &endpoint{
		ctx:           ctx,
		cancel:        cancel,
		send:          send,
		logger:        logger,
		pending:       make(map[string]chan *inbound),
		notifications: make(chan *Notification, notificationBuffer),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (e *endpoint) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-e.done:
		return nil, ErrClosed
	case <-e.stopCh:
		return nil, ErrClosed
	default:
	}

	id := uuid.NewString()
	data, err := json.Marshal(&frame{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.Quote(id)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *inbound, 1)
	e.pendingMu.Lock()
	e.pending[id] = respChan
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}()

	if err := e.write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for response: %w", ctx.Err())
	case <-e.done:
		return nil, ErrClosed
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (e *endpoint) write(data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.send(data)
}

// dispatch routes one inbound frame. It must only be called from the read loop.
func (e *endpoint) dispatch(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		e.logger.Debug("dropping malformed frame", slog.Any("error", err))
		return
	}

	switch {
	case in.Method != "" && in.hasID():
		go e.serve(&in)
	case in.Method != "":
		select {
		case e.notifications <- &Notification{JSONRPC: "2.0", Method: in.Method, Params: in.Params}:
		case <-e.stopCh:
		}
	case in.hasID():
		e.pendingMu.Lock()
		ch, ok := e.pending[idKey(in.ID)]
		e.pendingMu.Unlock()
		if ok {
			ch <- &in
		}
	}
}

func (e *endpoint) serve(in *inbound) {
	reply := &frame{JSONRPC: "2.0", ID: in.ID}

	h := e.handler.Load()
	if h == nil {
		reply.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + in.Method}
	} else {
		result, err := (*h)(e.ctx, in.Method, in.Params)
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			reply.Error = rpcErr
		case err != nil:
			reply.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		case result == nil:
			reply.Result = json.RawMessage("null")
		default:
			reply.Result = result
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		e.logger.Error("failed to marshal reply", slog.String("method", in.Method), slog.Any("error", err))
		return
	}
	if err := e.write(data); err != nil {
		e.logger.Debug("failed to answer bridge request", slog.String("method", in.Method), slog.Any("error", err))
	}
}

func (e *endpoint) setHandler(h RequestHandler) {
	if h == nil {
		e.handler.Store(nil)
		return
	}
	e.handler.Store(&h)
}

// stop signals shutdown. Safe to call more than once.
func (e *endpoint) stop() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.cancel()
	})
}

// finish is called once by the read loop when it exits.
func (e *endpoint) finish() {
	close(e.notifications)
	close(e.done)
	e.cancel()
}
