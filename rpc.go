package aisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

// RPCClient issues JSON-RPC calls against a single MCP Streamable HTTP endpoint and manages the
// session handshake: initialize, the initialized notification, calls carrying the server-assigned
// session identifier, and explicit deletion.
//
// A server may answer a call with a JSON document or with a short-lived event stream. Call hides the
// difference and returns one logical result, see CallResult.
//
// Calls on one RPCClient are serialized; a second call waits for the first to finish. At most one
// session is current at a time, but creating a new session does not release the previous one.
// Release it with CloseSession or it leaks server-side.
type RPCClient struct {
	endpoint        string
	httpClient      *http.Client
	token           string
	clientInfo      Info
	protocolVersion string
	maxEventSize    int
	logger          *slog.Logger

	// callMu serializes requests: only one request/response context is tracked at a time.
	callMu sync.Mutex

	mu         sync.Mutex
	sessionID  string
	negotiated string
	initResult InitializeResult
}

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	rpcAcceptHeader     = "text/event-stream, application/json"
	defaultMaxEventSize = 1 << 20
)

// NewRPCClient creates an RPCClient for the MCP endpoint at endpoint, for example
// "http://localhost:1337/api/ai-sdk/mcp". If httpClient is nil, http.DefaultClient is used.
func NewRPCClient(endpoint string, httpClient *http.Client, options ...RPCOption) *RPCClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &RPCClient{
		endpoint:        endpoint,
		httpClient:      cli,
		clientInfo:      Info{Name: "go-aisdk", Version: "1.0.0"},
		protocolVersion: ProtocolVersion,
		maxEventSize:    defaultMaxEventSize,
		logger:          slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithRPCBearerToken sets a credential sent as "Authorization: Bearer <token>" on every request.
func WithRPCBearerToken(token string) RPCOption {
	return func(c *RPCClient) {
		c.token = token
	}
}

// WithClientInfo sets the client identification sent on initialize.
func WithClientInfo(info Info) RPCOption {
	return func(c *RPCClient) {
		c.clientInfo = info
	}
}

// WithProtocolVersion sets the protocol revision requested on initialize.
func WithProtocolVersion(version string) RPCOption {
	return func(c *RPCClient) {
		c.protocolVersion = version
	}
}

// WithMaxEventSize sets the maximum size of a single event in an event-stream response. Larger events
// fail the call.
func WithMaxEventSize(size int) RPCOption {
	return func(c *RPCClient) {
		c.maxEventSize = size
	}
}

// WithRPCLogger sets the logger used by the client.
func WithRPCLogger(logger *slog.Logger) RPCOption {
	return func(c *RPCClient) {
		c.logger = logger
	}
}

// SessionID returns the current session identifier, or "" when there is no active session.
func (c *RPCClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerInfo returns the initialize result of the current session. The boolean is false when there is
// no active session.
func (c *RPCClient) ServerInfo() (InitializeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initResult, c.sessionID != ""
}

// Call sends a request for method with params and returns its normalized result. The current session
// identifier is attached when there is one. A nil params is omitted from the request.
//
// A JSON-RPC error answer is not a Go error here: it is part of the result, see CallResult.Envelope.
// Errors are transport faults (*StatusError), protocol faults (errors.Is(err, ErrProtocol)), or
// failures of the underlying transport, including cancellation of ctx.
func (c *RPCClient) Call(ctx context.Context, method string, params any) (*CallResult, error) {
	res, _, err := c.call(ctx, method, params, c.SessionID())
	return res, err
}

// Notify sends a notification, a request without id. No response is expected; any body the server
// returns is discarded.
func (c *RPCClient) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params, c.SessionID())
}

func (c *RPCClient) call(
	ctx context.Context,
	method string,
	params any,
	sessionID string,
) (*CallResult, http.Header, error) {
	msg, err := newMessage(method, params)
	if err != nil {
		return nil, nil, err
	}
	msg.ID = MustString(uuid.New().String())

	c.callMu.Lock()
	defer c.callMu.Unlock()

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, &msg, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sErr := newStatusError(resp)
		c.logger.Warn("rpc.call.fail", slog.String("method", method), slog.Int("status", sErr.StatusCode))
		return nil, nil, sErr
	}

	res, streamed, err := c.readResult(resp)
	if err != nil {
		c.logger.Warn("rpc.call.fail", slog.String("method", method), slog.String("err", err.Error()))
		return nil, nil, err
	}

	c.logger.Debug("rpc.call.ok",
		slog.String("method", method),
		slog.Bool("streamed", streamed),
		slog.Int("events", len(res.Events)),
		slog.Duration("dur", time.Since(start)))

	return res, resp.Header, nil
}

func (c *RPCClient) notify(ctx context.Context, method string, params any, sessionID string) error {
	msg, err := newMessage(method, params)
	if err != nil {
		return err
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	resp, err := c.do(ctx, http.MethodPost, &msg, sessionID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *RPCClient) do(ctx context.Context, method string, msg *JSONRPCMessage, sessionID string) (*http.Response, error) {
	var body io.Reader
	if msg != nil {
		bs, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if msg != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", rpcAcceptHeader)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
		c.mu.Lock()
		if sessionID == c.sessionID && c.negotiated != "" {
			req.Header.Set(ProtocolVersionHeader, c.negotiated)
		}
		c.mu.Unlock()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// readResult detects the response kind and normalizes it into a CallResult. The boolean reports
// whether the answer was an event stream.
func (c *RPCClient) readResult(resp *http.Response) (*CallResult, bool, error) {
	ctype := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	switch {
	case ctype.Matches(jsonMediaType):
		var doc json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, false, fmt.Errorf("%w: failed to decode response: %v", ErrProtocol, err)
		}
		return &CallResult{Raw: doc, Events: []json.RawMessage{doc}}, false, nil
	case ctype.Matches(eventStreamMediaType):
		events, err := c.collectEvents(resp.Body)
		if err != nil {
			return nil, true, err
		}
		return pickResult(events), true, nil
	default:
		sErr := newStatusError(resp)
		return nil, false, fmt.Errorf("%w %q: %s", ErrUnexpectedContentType, resp.Header.Get("Content-Type"), sErr.Body)
	}
}

// collectEvents reads the event stream to its end and returns the data of every event that decodes
// as JSON, in arrival order. Events whose data is not JSON are skipped.
func (c *RPCClient) collectEvents(body io.Reader) ([]json.RawMessage, error) {
	var config *sse.ReadConfig
	if c.maxEventSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: c.maxEventSize,
		}
	}

	var events []json.RawMessage
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read event stream: %w", err)
		}
		if !json.Valid([]byte(ev.Data)) {
			c.logger.Debug("rpc.event.skip", slog.String("type", ev.Type), slog.Int("size", len(ev.Data)))
			continue
		}
		events = append(events, json.RawMessage(ev.Data))
	}

	return events, nil
}

func newMessage(method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = bs
	}
	return msg, nil
}
