package aisdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-aisdk"
	"github.com/MegaGrindStone/go-aisdk/servers/cms"
)

func TestRPCClientSessionLifecycle(t *testing.T) {
	fake := newSessionServer(t)
	client := newTestRPCClient(fake.start().URL)

	sessID, err := client.CreateSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessID)
	assert.Equal(t, sessID, client.SessionID())

	info, ok := client.ServerInfo()
	require.True(t, ok)
	assert.Equal(t, "fake", info.ServerInfo.Name)
	assert.NotNil(t, info.Capabilities.Tools)

	tools, err := client.ListTools(t.Context())
	require.NoError(t, err)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	res, err := client.CallTool(t.Context(), "echo", nil)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, aisdk.ContentTypeText, res.Content[0].Type)
	assert.Equal(t, "echo {}", res.Content[0].Text)

	require.NoError(t, client.CloseSession(t.Context(), sessID))
	assert.Empty(t, client.SessionID())
	_, ok = client.ServerInfo()
	assert.False(t, ok)

	// The server no longer knows the session; closing again is harmless.
	require.NoError(t, client.CloseSession(t.Context(), sessID))

	reqs := fake.recorded()
	require.Len(t, reqs, 7)

	assert.Equal(t, sessionRequest{httpMethod: http.MethodPost, method: aisdk.MethodInitialize, hasID: true}, reqs[0])
	assert.Equal(t, sessionRequest{
		httpMethod:      http.MethodPost,
		method:          aisdk.MethodNotificationsInitialized,
		sessionID:       sessID,
		protocolVersion: aisdk.ProtocolVersion,
	}, reqs[1])
	for _, req := range reqs[2:5] {
		assert.True(t, req.hasID)
		assert.Equal(t, sessID, req.sessionID)
		assert.Equal(t, aisdk.ProtocolVersion, req.protocolVersion)
	}
	assert.Equal(t, http.MethodDelete, reqs[5].httpMethod)
	assert.Equal(t, sessID, reqs[5].sessionID)
	assert.Equal(t, http.MethodDelete, reqs[6].httpMethod)
}

func TestRPCClientMissingSessionID(t *testing.T) {
	fake := newSessionServer(t)
	fake.omitSessionID = true
	client := newTestRPCClient(fake.start().URL)

	_, err := client.CreateSession(t.Context())

	assert.ErrorIs(t, err, aisdk.ErrMissingSessionID)
	assert.ErrorIs(t, err, aisdk.ErrProtocol)
	assert.Empty(t, client.SessionID())
}

func TestRPCClientInitializeRejected(t *testing.T) {
	fake := newSessionServer(t)
	fake.initializeAnswer = `"error":{"code":-32602,"message":"unsupported protocol version"}`
	client := newTestRPCClient(fake.start().URL)

	_, err := client.CreateSession(t.Context())

	var rpcErr *aisdk.JSONRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Empty(t, client.SessionID())

	// The session the server allocated is released.
	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodDelete, reqs[1].httpMethod)
	assert.Equal(t, "sess-1", reqs[1].sessionID)
}

func TestRPCClientInitializeStatusError(t *testing.T) {
	srv := newRPCServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	client := newTestRPCClient(srv.URL)

	_, err := client.CreateSession(t.Context())

	var sErr *aisdk.StatusError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusUnauthorized, sErr.StatusCode)
}

func TestRPCClientNewSessionKeepsPrevious(t *testing.T) {
	fake := newSessionServer(t)
	client := newTestRPCClient(fake.start().URL)

	first, err := client.CreateSession(t.Context())
	require.NoError(t, err)
	second, err := client.CreateSession(t.Context())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, client.SessionID())
	for _, req := range fake.recorded() {
		assert.NotEqual(t, http.MethodDelete, req.httpMethod)
	}

	// Closing the older session leaves the current one alone.
	require.NoError(t, client.CloseSession(t.Context(), first))
	assert.Equal(t, second, client.SessionID())

	require.NoError(t, client.Close(t.Context()))
	assert.Empty(t, client.SessionID())
	require.NoError(t, client.Close(t.Context()))
}

func TestRPCClientCloseSession(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		client := newTestRPCClient("http://127.0.0.1:0")
		assert.ErrorIs(t, client.CloseSession(t.Context(), ""), aisdk.ErrNoSession)
	})

	t.Run("deletion not supported", func(t *testing.T) {
		fake := newSessionServer(t)
		fake.deleteStatus = http.StatusMethodNotAllowed
		client := newTestRPCClient(fake.start().URL)

		sessID, err := client.CreateSession(t.Context())
		require.NoError(t, err)
		assert.NoError(t, client.CloseSession(t.Context(), sessID))
	})

	t.Run("server failure", func(t *testing.T) {
		fake := newSessionServer(t)
		fake.deleteStatus = http.StatusInternalServerError
		client := newTestRPCClient(fake.start().URL)

		sessID, err := client.CreateSession(t.Context())
		require.NoError(t, err)

		err = client.CloseSession(t.Context(), sessID)
		var sErr *aisdk.StatusError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, http.StatusInternalServerError, sErr.StatusCode)
		assert.Empty(t, client.SessionID())
	})
}

func TestRPCClientCallAfterClose(t *testing.T) {
	fake := newSessionServer(t)
	client := newTestRPCClient(fake.start().URL)

	sessID, err := client.CreateSession(t.Context())
	require.NoError(t, err)
	require.NoError(t, client.CloseSession(t.Context(), sessID))

	_, err = client.ListTools(t.Context())

	var sErr *aisdk.StatusError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusNotFound, sErr.StatusCode)
}

func TestRPCClientAgainstContentServer(t *testing.T) {
	for _, jsonResponse := range []bool{false, true} {
		name := "event stream"
		if jsonResponse {
			name = "json response"
		}
		t.Run(name, func(t *testing.T) {
			store, err := cms.NewStore("", cms.DefaultContentTypes())
			require.NoError(t, err)
			srv := httptest.NewServer(cms.NewServer(store, nil).Handler(jsonResponse))
			t.Cleanup(srv.Close)

			client := newTestRPCClient(srv.URL)

			sessID, err := client.CreateSession(t.Context())
			require.NoError(t, err)
			require.NotEmpty(t, sessID)

			info, ok := client.ServerInfo()
			require.True(t, ok)
			assert.Equal(t, cms.ServerName, info.ServerInfo.Name)
			assert.NotNil(t, info.Capabilities.Tools)

			tools, err := client.ListTools(t.Context())
			require.NoError(t, err)
			var names []string
			for _, tool := range tools {
				names = append(names, tool.Name)
			}
			assert.ElementsMatch(t, []string{"list_content_types", "search_content", "write_content"}, names)
			assert.NotContains(t, names, "trigger_animation")

			listed, err := client.CallTool(t.Context(), "list_content_types", nil)
			require.NoError(t, err)
			require.False(t, listed.IsError)
			require.Len(t, listed.Content, 1)

			var registry struct {
				ContentTypes []cms.ContentType `json:"contentTypes"`
				Components   []cms.ContentType `json:"components"`
			}
			require.NoError(t, json.Unmarshal([]byte(listed.Content[0].Text), &registry))
			assert.Len(t, registry.ContentTypes, 3)
			assert.Len(t, registry.Components, 1)

			written, err := client.CallTool(t.Context(), "write_content", map[string]any{
				"contentType": "api::article.article",
				"data":        map[string]any{"title": "Hello from Go"},
			})
			require.NoError(t, err)
			require.False(t, written.IsError, written.Content)

			found, err := client.CallTool(t.Context(), "search_content", map[string]any{
				"contentType": "api::article.article",
				"query":       "hello",
			})
			require.NoError(t, err)
			require.False(t, found.IsError)
			var search struct {
				Results []cms.Entry `json:"results"`
			}
			require.NoError(t, json.Unmarshal([]byte(found.Content[0].Text), &search))
			require.Len(t, search.Results, 1)
			assert.Equal(t, "Hello from Go", search.Results[0].Data["title"])

			require.NoError(t, client.CloseSession(t.Context(), sessID))
			require.NoError(t, client.CloseSession(t.Context(), sessID))
		})
	}
}
