package aisdk

import (
	"encoding/json"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either string or
// integer in the protocol, such as request IDs. It handles automatic conversion during JSON
// unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with the MCP endpoint. It can represent
// either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0"
	JSONRPC string `json:"jsonrpc"`
	// ID pairs a response with its request; a single request is outstanding per call
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error. The value is unstructured and may be
	// omitted.
	Data any `json:"data,omitempty"`
}

// Info identifies a client or server implementation.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities represents client capabilities. This client advertises none.
type ClientCapabilities struct{}

// ServerCapabilities represents the capabilities a server declares in its initialize result.
type ServerCapabilities struct {
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Logging   *struct{}              `json:"logging,omitempty"`
}

// ListChangedCapability is declared by servers for prompts and tools.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams are sent with the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool describes a tool a server exposes.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams contains parameters for listing available tools.
type ListToolsParams struct {
	// Cursor is a pagination cursor from a previous ListTools call. Empty requests the first page.
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult represents a page of tools. NextCursor can be used to retrieve the next page.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams contains parameters for executing a tool.
type CallToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// CallToolResult represents the outcome of a tool invocation. IsError indicates whether the tool
// failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
}

// ContentType represents the type of content in a tool result.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP protocol revision requested on initialize.
	ProtocolVersion = "2025-03-26"

	// MethodInitialize opens a session.
	MethodInitialize = "initialize"
	// MethodNotificationsInitialized must follow a successful initialize.
	MethodNotificationsInitialized = "notifications/initialized"
	// MethodToolsList is a method name for listing tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is a method name for calling a tool.
	MethodToolsCall = "tools/call"

	// SessionIDHeader carries the server-assigned session identifier.
	SessionIDHeader = "Mcp-Session-Id"
	// ProtocolVersionHeader carries the negotiated protocol revision on requests after initialize.
	ProtocolVersionHeader = "Mcp-Protocol-Version"
)

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString, handling both
// string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case nil:
		*m = ""
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler, always encoding MustString as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j *JSONRPCError) Error() string {
	if j.Data == nil {
		return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
	}
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
