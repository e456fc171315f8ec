package aisdk_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MegaGrindStone/go-aisdk"
)

const okEnvelope = `{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`

func newRPCServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRPCClient(endpoint string, options ...aisdk.RPCOption) *aisdk.RPCClient {
	options = append([]aisdk.RPCOption{aisdk.WithRPCLogger(discardLogger)}, options...)
	return aisdk.NewRPCClient(endpoint, nil, options...)
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func respondEvents(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
		}
	}
}

func TestRPCClientJSONAndSingleEventAreIdentical(t *testing.T) {
	jsonSrv := newRPCServer(t, respondJSON(okEnvelope))
	eventSrv := newRPCServer(t, respondEvents(okEnvelope))

	fromJSON, err := newTestRPCClient(jsonSrv.URL).Call(t.Context(), "ping", nil)
	require.NoError(t, err)
	fromEvents, err := newTestRPCClient(eventSrv.URL).Call(t.Context(), "ping", nil)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromEvents)
	assert.JSONEq(t, okEnvelope, string(fromJSON.Raw))
	assert.False(t, fromJSON.Ambiguous)

	var result struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, fromEvents.Decode(&result))
	assert.True(t, result.OK)
}

func TestRPCClientPicksResponseAmongEvents(t *testing.T) {
	progress := `{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":1}}`
	srv := newRPCServer(t, respondEvents(progress, okEnvelope, progress))

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "tools/call", nil)

	require.NoError(t, err)
	assert.JSONEq(t, okEnvelope, string(res.Raw))
	assert.Len(t, res.Events, 3)
	assert.False(t, res.Ambiguous)
}

func TestRPCClientSingleNonResponseEvent(t *testing.T) {
	srv := newRPCServer(t, respondEvents(`{"value":42}`))

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "custom", nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(res.Raw))
	assert.False(t, res.Ambiguous)

	_, err = res.Envelope()
	assert.ErrorIs(t, err, aisdk.ErrProtocol)
}

func TestRPCClientAmbiguousEvents(t *testing.T) {
	srv := newRPCServer(t, respondEvents(`{"a":1}`, `{"b":2}`))

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "custom", nil)

	require.NoError(t, err)
	assert.True(t, res.Ambiguous)
	assert.JSONEq(t, `[{"a":1},{"b":2}]`, string(res.Raw))
	assert.ErrorIs(t, res.Decode(&struct{}{}), aisdk.ErrProtocol)
}

func TestRPCClientNoEvents(t *testing.T) {
	srv := newRPCServer(t, respondEvents())

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "custom", nil)

	require.NoError(t, err)
	assert.True(t, res.Ambiguous)
	assert.JSONEq(t, `[]`, string(res.Raw))
	assert.Empty(t, res.Events)
}

func TestRPCClientSkipsNonJSONEvents(t *testing.T) {
	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: ping\n\n")
		fmt.Fprintf(w, "data: %s\n\n", okEnvelope)
	})

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "ping", nil)

	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.JSONEq(t, okEnvelope, string(res.Raw))
}

func TestRPCClientEventStreamWithCharset(t *testing.T) {
	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprintf(w, "data: %s\n\n", okEnvelope)
	})

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "ping", nil)

	require.NoError(t, err)
	assert.JSONEq(t, okEnvelope, string(res.Raw))
}

func TestRPCClientUnexpectedContentType(t *testing.T) {
	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>login</html>")
	})

	_, err := newTestRPCClient(srv.URL).Call(t.Context(), "ping", nil)

	assert.ErrorIs(t, err, aisdk.ErrUnexpectedContentType)
	assert.ErrorIs(t, err, aisdk.ErrProtocol)
}

func TestRPCClientStatusError(t *testing.T) {
	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := newTestRPCClient(srv.URL).Call(t.Context(), "ping", nil)

	var sErr *aisdk.StatusError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusInternalServerError, sErr.StatusCode)
	assert.Equal(t, "boom", sErr.Body)
	assert.NotErrorIs(t, err, aisdk.ErrProtocol)
}

func TestRPCClientErrorAnswer(t *testing.T) {
	srv := newRPCServer(t, respondJSON(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"method not found"}}`))

	res, err := newTestRPCClient(srv.URL).Call(t.Context(), "nope", nil)
	require.NoError(t, err)

	env, err := res.Envelope()
	require.NoError(t, err)
	require.NotNil(t, env.Error)

	var rpcErr *aisdk.JSONRPCError
	require.ErrorAs(t, res.Decode(&struct{}{}), &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestRPCClientRequestShape(t *testing.T) {
	type received struct {
		header http.Header
		body   map[string]json.RawMessage
	}
	requests := make(chan received, 2)
	srv := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests <- received{header: r.Header.Clone(), body: body}
		if _, ok := body["id"]; !ok {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		respondJSON(okEnvelope)(w, r)
	})
	client := newTestRPCClient(srv.URL, aisdk.WithRPCBearerToken("secret-token"))

	_, err := client.Call(t.Context(), "ping", map[string]any{"n": 1})
	require.NoError(t, err)
	require.NoError(t, client.Notify(t.Context(), "notifications/cancelled", nil))

	call := <-requests
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.Contains(t, call.header.Get("Accept"), "application/json")
	assert.Contains(t, call.header.Get("Accept"), "text/event-stream")
	assert.Equal(t, "Bearer secret-token", call.header.Get("Authorization"))
	assert.Empty(t, call.header.Get(aisdk.SessionIDHeader))
	assert.JSONEq(t, `"2.0"`, string(call.body["jsonrpc"]))
	assert.JSONEq(t, `"ping"`, string(call.body["method"]))
	assert.JSONEq(t, `{"n":1}`, string(call.body["params"]))
	assert.Contains(t, call.body, "id")

	notification := <-requests
	assert.NotContains(t, notification.body, "id")
	assert.NotContains(t, notification.body, "params")
	assert.JSONEq(t, `"notifications/cancelled"`, string(notification.body["method"]))
}

func TestRPCClientSerializesCalls(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		respondEvents(okEnvelope)(w, r)
	})
	client := newTestRPCClient(srv.URL)

	var g errgroup.Group
	for range 5 {
		g.Go(func() error {
			_, err := client.Call(t.Context(), "ping", nil)
			return err
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

// sessionServer is a minimal MCP endpoint that assigns one session per initialize and records what it
// receives.
type sessionServer struct {
	t *testing.T

	mu       sync.Mutex
	sessions map[string]bool
	next     int
	requests []sessionRequest

	// initializeAnswer overrides the result or error member of the initialize answer when set.
	initializeAnswer string
	// omitSessionID makes initialize answer without a session identifier.
	omitSessionID bool
	// deleteStatus overrides the status of a successful DELETE.
	deleteStatus int
}

type sessionRequest struct {
	httpMethod      string
	method          string
	hasID           bool
	sessionID       string
	protocolVersion string
}

func newSessionServer(t *testing.T) *sessionServer {
	return &sessionServer{t: t, sessions: map[string]bool{}}
}

func (s *sessionServer) start() *httptest.Server {
	return newRPCServer(s.t, s.ServeHTTP)
}

func (s *sessionServer) recorded() []sessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sessionRequest(nil), s.requests...)
}

func (s *sessionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg aisdk.JSONRPCMessage
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&msg)
	}

	sessID := r.Header.Get(aisdk.SessionIDHeader)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, sessionRequest{
		httpMethod:      r.Method,
		method:          msg.Method,
		hasID:           msg.ID != "",
		sessionID:       sessID,
		protocolVersion: r.Header.Get(aisdk.ProtocolVersionHeader),
	})

	if r.Method == http.MethodDelete {
		if !s.sessions[sessID] {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		delete(s.sessions, sessID)
		status := http.StatusNoContent
		if s.deleteStatus != 0 {
			status = s.deleteStatus
		}
		w.WriteHeader(status)
		return
	}

	if msg.Method == aisdk.MethodInitialize {
		s.next++
		newID := fmt.Sprintf("sess-%d", s.next)
		s.sessions[newID] = true
		if !s.omitSessionID {
			w.Header().Set(aisdk.SessionIDHeader, newID)
		}
		answer := s.initializeAnswer
		if answer == "" {
			answer = `"result":{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},` +
				`"serverInfo":{"name":"fake","version":"0.1.0"}}`
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%q,%s}\n\n", msg.ID, answer)
		return
	}

	if !s.sessions[sessID] {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if msg.ID == "" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch msg.Method {
	case aisdk.MethodToolsList:
		var params aisdk.ListToolsParams
		_ = json.Unmarshal(msg.Params, &params)
		page := `{"tools":[{"name":"a"},{"name":"b"}],"nextCursor":"page-2"}`
		if params.Cursor == "page-2" {
			page = `{"tools":[{"name":"c","description":"third"}]}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%q,"result":%s}`, msg.ID, page)
	case aisdk.MethodToolsCall:
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		text, _ := json.Marshal(params.Name + " " + string(params.Arguments))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%q,\"result\":{\"content\":[{\"type\":\"text\",\"text\":%s}]}}\n\n",
			msg.ID, text)
	default:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%q,"error":{"code":-32601,"message":"method not found"}}`, msg.ID)
	}
}
