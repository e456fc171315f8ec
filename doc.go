// Package aisdk is a client for the AI SDK CMS plugin. It streams generated text from the plugin's
// chat endpoints and speaks the Model Context Protocol (MCP) to the plugin's tool endpoint over
// Streamable HTTP.
//
// # Streaming
//
// Client.Stream posts a prompt and returns an iterator over text fragments. The response body is an
// event stream of newline-delimited "data: <json>" lines:
//
//	data: {"text":"Hello"}
//	data: {"text":", world"}
//	data: [DONE]
//
// The body is consumed in two explicit stages. LineDecoder reassembles lines from arbitrary chunks,
// holding back an incomplete trailing line. ExtractFragments filters those lines: anything that is
// not a "data: " line, the [DONE] sentinel, and payloads that are not JSON objects with a "text"
// field are dropped and never surface as errors. The stream ends when the response body ends.
//
// Cancelling the context ends the sequence without an error. Asker builds on this for interactive
// callers: it owns the single in-flight request and cancels it, waiting for it to finish, before
// starting the next one.
//
// # MCP sessions
//
// RPCClient follows the Streamable HTTP session lifecycle:
//
//	sessID, err := rpc.CreateSession(ctx) // initialize + notifications/initialized
//	res, err := rpc.Call(ctx, "tools/list", map[string]any{})
//	_ = rpc.CloseSession(ctx, sessID)     // DELETE, advisory
//
// A call may be answered with a JSON document or with an event stream; CallResult normalizes both
// and keeps every collected event for inspection.
//
// # Errors
//
// A non-success status is a *StatusError. Responses this client cannot interpret match ErrProtocol.
// Cancellation is reported by IsCanceled and is never a fault.
package aisdk
