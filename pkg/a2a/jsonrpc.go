package a2a

import "encoding/json"

// ============================================================================
// JSON-RPC 2.0 FRAMING
// ============================================================================

const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MessageSendParams are the params for message/send and message/stream.
type MessageSendParams struct {
	Message  *Envelope              `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  MessageSendParams `json:"params"`
}

// NewRequest builds a request frame for the given method and envelope,
// advertising the client protocol version in the params metadata.
func NewRequest(id, method string, env *Envelope) *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params: MessageSendParams{
			Message: env,
			Metadata: map[string]interface{}{
				MetadataVersionKey: ProtocolVersion,
			},
		},
	}
}

// Response is a JSON-RPC 2.0 response frame. Result is left raw so the
// caller decides how to decode it.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
