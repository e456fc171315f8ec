package aisdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const abandonTimeout = 5 * time.Second

// CreateSession opens a new session: it sends initialize, reads the session identifier from the
// response headers, sends the initialized notification, and makes the session current. It returns the
// new identifier.
//
// A session that was current before is not released; call CloseSession for it.
func (c *RPCClient) CreateSession(ctx context.Context) (string, error) {
	params := InitializeParams{
		ProtocolVersion: c.protocolVersion,
		ClientInfo:      c.clientInfo,
	}

	// initialize never carries a session identifier.
	res, header, err := c.call(ctx, MethodInitialize, params, "")
	if err != nil {
		return "", fmt.Errorf("failed to initialize: %w", err)
	}

	sessID := header.Get(SessionIDHeader)
	if sessID == "" {
		return "", ErrMissingSessionID
	}

	var initResult InitializeResult
	if err := res.Decode(&initResult); err != nil {
		c.abandon(sessID)
		return "", fmt.Errorf("failed to initialize: %w", err)
	}

	negotiated := initResult.ProtocolVersion
	if negotiated == "" {
		negotiated = c.protocolVersion
	}

	c.mu.Lock()
	c.sessionID = sessID
	c.negotiated = negotiated
	c.initResult = initResult
	c.mu.Unlock()

	if err := c.notify(ctx, MethodNotificationsInitialized, nil, sessID); err != nil {
		c.clearSession(sessID)
		c.abandon(sessID)
		return "", fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.logger.Info("session.create.ok",
		slog.String("session_id", sessID),
		slog.String("server", initResult.ServerInfo.Name),
		slog.String("protocol_version", negotiated))

	return sessID, nil
}

// CloseSession asks the server to delete the session sessID. Deletion is advisory: a session the
// server no longer knows (404) or a server that does not support deletion (405) counts as closed, so
// closing twice is harmless. Other failures are returned for callers that care; most can ignore them.
//
// If sessID is the current session, the client returns to having no session regardless of the
// outcome.
func (c *RPCClient) CloseSession(ctx context.Context, sessID string) error {
	if sessID == "" {
		return ErrNoSession
	}
	c.clearSession(sessID)

	c.callMu.Lock()
	defer c.callMu.Unlock()

	resp, err := c.do(ctx, http.MethodDelete, nil, sessID)
	if err != nil {
		c.logger.Warn("session.delete.fail", slog.String("session_id", sessID), slog.String("err", err.Error()))
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed:
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("session.delete.ok", slog.String("session_id", sessID), slog.Int("status", resp.StatusCode))
		return nil
	default:
		sErr := newStatusError(resp)
		c.logger.Warn("session.delete.fail", slog.String("session_id", sessID), slog.Int("status", sErr.StatusCode))
		return sErr
	}
}

// Close releases the current session, if any.
func (c *RPCClient) Close(ctx context.Context) error {
	sessID := c.SessionID()
	if sessID == "" {
		return nil
	}
	return c.CloseSession(ctx, sessID)
}

func (c *RPCClient) clearSession(sessID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessID {
		return
	}
	c.sessionID = ""
	c.negotiated = ""
	c.initResult = InitializeResult{}
}

// abandon makes a best-effort attempt to delete a session that never became usable.
func (c *RPCClient) abandon(sessID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	_ = c.CloseSession(ctx, sessID)
}
