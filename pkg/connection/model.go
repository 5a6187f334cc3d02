package connection

import "fmt"

// Error codes carried by RPCError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerBusy asks the client to retry later.
	CodeServerBusy = -32000
)

// RPCError is an error reported by the server for one request.
type RPCError struct {
	Code        int    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r *RPCError) Error() string {
	msg := r.Message
	if r.Description != "" {
		msg = r.Description
	}
	return fmt.Sprintf("rpc error %d: %s", r.Code, msg)
}

// RPCRequest is one call sent to the server.
type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

// RPCResponse is the server's answer to an RPCRequest.
type RPCResponse[T any] struct {
	// ID is the ID of the request this response corresponds to.
	// It is empty for HTTP, where requests and responses pair up by exchange.
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

// RPC methods used by the task client.
const (
	MethodUse          = "use"
	MethodAuthenticate = "authenticate"
	MethodPing         = "ping"
	MethodSelect       = "select"
	MethodMerge        = "merge"
)
