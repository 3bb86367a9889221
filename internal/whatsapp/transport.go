package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrClosed is returned by calls on a closed transport.
var ErrClosed = errors.New("transport closed")

// JSON-RPC error codes used when answering bridge requests.
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Transport is the JSON-RPC 2.0 connection to the bridge sidecar.
type Transport interface {
	// Call makes a JSON-RPC call and waits for its result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Subscribe returns the notification stream. It is closed when the
	// connection ends.
	Subscribe(ctx context.Context) (<-chan *Notification, error)

	// Handle installs the handler for requests the bridge sends to us.
	Handle(h RequestHandler)

	// Close closes the transport.
	Close() error
}

// RequestHandler answers a request initiated by the bridge.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Notification is a JSON-RPC notification.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is a JSON-RPC error returned by the bridge.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// frame is any JSON-RPC message on the wire. Requests and notifications carry
// a method; responses carry a result or an error. Requests and responses
// carry an id.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type inbound struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

func (in *inbound) hasID() bool {
	return len(in.ID) > 0 && string(in.ID) != "null"
}

// idKey normalizes an id so "7" and 7 match the same pending call.
func idKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
