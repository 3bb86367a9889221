package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	responses     map[string]*mockResponse
	calls         map[string][]any
	delays        map[string]time.Duration
	notifications chan *Notification
	handler       RequestHandler
	mu            sync.RWMutex
	closed        bool
}

type mockResponse struct {
	result json.RawMessage
	err    error
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:     make(map[string]*mockResponse),
		calls:         make(map[string][]any),
		delays:        make(map[string]time.Duration),
		notifications: make(chan *Notification, notificationBuffer),
	}
}

// SetResponse sets the raw result for a method.
func (m *MockTransport) SetResponse(method string, result json.RawMessage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = &mockResponse{result: result, err: err}
}

// SetResult marshals v as the result for a method.
func (m *MockTransport) SetResult(method string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mock result for %s: %v", method, err))
	}
	m.SetResponse(method, data, nil)
}

// SetError sets an error response for a method.
func (m *MockTransport) SetError(method string, err error) {
	m.SetResponse(method, nil, err)
}

// SetResponseDelay delays a method's response.
func (m *MockTransport) SetResponseDelay(method string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[method] = delay
}

// GetCalls returns the params of every call to method.
func (m *MockTransport) GetCalls(method string) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]any(nil), m.calls[method]...)
}

// Call implements Transport.Call. Methods without a configured response
// succeed with a null result.
func (m *MockTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.calls[method] = append(m.calls[method], params)
	response := m.responses[method]
	delay := m.delays[method]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if response == nil {
		return json.RawMessage("null"), nil
	}
	return response.result, response.err
}

// Subscribe implements Transport.Subscribe.
func (m *MockTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.notifications, nil
}

// Handle implements Transport.Handle.
func (m *MockTransport) Handle(h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SimulateNotification delivers a notification with params marshaled from v.
func (m *MockTransport) SimulateNotification(method string, v any) {
	params, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mock notification %s: %v", method, err))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.notifications <- &Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// SimulateRequest invokes the installed handler as the bridge would.
func (m *MockTransport) SimulateRequest(ctx context.Context, method string, v any) (any, error) {
	params, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h == nil {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
	return h(ctx, method, params)
}

// Close implements Transport.Close.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notifications)
	}
	return nil
}

// IsClosed returns whether the transport is closed.
func (m *MockTransport) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
