package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is returned by an RPCHandler to produce a JSON-RPC error response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// RPCHandler answers one JSON-RPC method. The result is JSON-encoded.
type RPCHandler func(params json.RawMessage) (any, *RPCError)

// MockEthRPC is an httptest JSON-RPC server with per-method handlers.
// Single and batch requests are both supported.
type MockEthRPC struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]RPCHandler
	calls    map[string]int
}

// StartMockEthRPC starts a server answering the given methods. Unknown methods
// get a -32601 error.
func StartMockEthRPC(t *testing.T, handlers map[string]RPCHandler) *MockEthRPC {
	t.Helper()
	m := &MockEthRPC{handlers: make(map[string]RPCHandler), calls: make(map[string]int)}
	for k, v := range handlers {
		m.handlers[k] = v
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// Handle registers or replaces the handler for method.
func (m *MockEthRPC) Handle(method string, h RPCHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

// CallCount returns how many times method was requested.
func (m *MockEthRPC) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockEthRPC) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	if len(body) > 0 && body[0] == '[' {
		var reqs []JSONRPCRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
			return
		}
		responses := make([]map[string]json.RawMessage, len(reqs))
		for i, req := range reqs {
			responses[i] = m.dispatch(req)
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}
	_ = json.NewEncoder(w).Encode(m.dispatch(req))
}

func (m *MockEthRPC) dispatch(req JSONRPCRequest) map[string]json.RawMessage {
	m.mu.Lock()
	m.calls[req.Method]++
	h, ok := m.handlers[req.Method]
	m.mu.Unlock()

	if !ok {
		return errorEnvelope(req.ID, &RPCError{Code: -32601, Message: "method not found: " + req.Method})
	}
	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		return errorEnvelope(req.ID, rpcErr)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return errorEnvelope(req.ID, &RPCError{Code: -32603, Message: err.Error()})
	}
	return map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      req.ID,
		"result":  resultJSON,
	}
}

func errorEnvelope(id json.RawMessage, e *RPCError) map[string]json.RawMessage {
	errJSON, _ := json.Marshal(e)
	return map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   errJSON,
	}
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	_ = json.NewEncoder(w).Encode(errorEnvelope(id, &RPCError{Code: code, Message: message}))
}
