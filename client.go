package aisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// AskOption adds an option to the body of a single chat request.
type AskOption func(map[string]any)

// Client talks to the chat endpoints of the AI SDK plugin: "/ask" answers with one JSON document and
// "/ask-stream" answers with an event stream of text fragments.
//
// A Client holds no per-request state and is safe for concurrent use. Superseding an in-flight
// stream when a new one starts is the job of the caller-side wrapper, see Asker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	chunkSize  int
	logger     *slog.Logger
}

const defaultReadChunkSize = 4096

// NewClient creates a Client for the plugin mounted at baseURL, for example
// "http://localhost:1337/api/ai-sdk". If httpClient is nil, http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client, options ...ClientOption) *Client {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cli,
		chunkSize:  defaultReadChunkSize,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithBearerToken sets a credential sent as "Authorization: Bearer <token>". The token is passed
// through unchanged.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithReadChunkSize sets the size of each read from a streaming response body.
func WithReadChunkSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithSystem forwards a system directive to the model backend.
func WithSystem(system string) AskOption {
	return func(body map[string]any) {
		body["system"] = system
	}
}

// WithField adds a free-form field to the request body. Fields are forwarded to the backend as-is
// and may override the prompt.
func WithField(key string, value any) AskOption {
	return func(body map[string]any) {
		body[key] = value
	}
}

// Ask sends prompt to "/ask" and returns the complete generated text.
func (c *Client) Ask(ctx context.Context, prompt string, options ...AskOption) (string, error) {
	resp, err := c.post(ctx, "/ask", askBody(prompt, options), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res struct {
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return res.Data.Text, nil
}

// Stream sends prompt to "/ask-stream" and returns an iterator over the generated text fragments,
// yielded as soon as each one arrives. The request is issued when iteration starts; each range over
// the returned sequence issues its own request.
//
// The sequence ends in one of three ways:
//   - normally, when the response body ends;
//   - by cancellation, when ctx is cancelled. No error is yielded; the sequence just stops;
//   - by a fault, yielded as the last element with an empty fragment. A *StatusError is yielded
//     before any fragment; a read failure may follow fragments already delivered. An expired ctx
//     deadline is a fault, not a cancellation, and matches context.DeadlineExceeded.
//
// Cancellation is observed between reads: a read already in progress completes (or is aborted by the
// transport) first. The response body is closed on every exit path, including an early break by the
// caller.
func (c *Client) Stream(ctx context.Context, prompt string, options ...AskOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		c.logger.Debug("stream.open", slog.Int("prompt_size", len(prompt)))

		resp, err := c.post(ctx, "/ask-stream", askBody(prompt, options), "text/event-stream")
		if err != nil {
			if c.interrupted(ctx, "request", yield) {
				return
			}
			yield("", err)
			return
		}
		defer resp.Body.Close()

		var dec LineDecoder
		buf := make([]byte, c.chunkSize)
		fragments := 0
		for {
			if c.interrupted(ctx, "read", yield) {
				return
			}

			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, fragment := range ExtractFragments(dec.Feed(buf[:n])) {
					fragments++
					if !yield(fragment, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				if rest := dec.Flush(); rest != "" {
					c.logger.Debug("stream.partial_line.discard", slog.Int("size", len(rest)))
				}
				c.logger.Debug("stream.ok",
					slog.Int("fragments", fragments),
					slog.Duration("dur", time.Since(start)))
				return
			}
			if err != nil {
				if c.interrupted(ctx, "read", yield) {
					return
				}
				if IsCanceled(err) {
					c.logger.Debug("stream.cancel", slog.String("stage", "read"))
					return
				}
				yield("", fmt.Errorf("failed to read stream: %w", err))
				return
			}
		}
	}
}

// interrupted reports whether ctx is done and the stream must stop. A caller cancellation stops it
// silently; any other cause, such as an expired deadline, is yielded as the final fault.
func (c *Client) interrupted(ctx context.Context, stage string, yield func(string, error) bool) bool {
	cause := ctx.Err()
	if cause == nil {
		return false
	}
	if IsCanceled(cause) {
		c.logger.Debug("stream.cancel", slog.String("stage", stage))
		return true
	}
	c.logger.Warn("stream.interrupted", slog.String("stage", stage), slog.String("err", cause.Error()))
	yield("", fmt.Errorf("stream interrupted: %w", cause))
	return true
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		sErr := newStatusError(resp)
		c.logger.Warn("http.status.fail", slog.String("path", path), slog.Int("status", sErr.StatusCode))
		return nil, sErr
	}

	return resp, nil
}

func askBody(prompt string, options []AskOption) map[string]any {
	body := map[string]any{"prompt": prompt}
	for _, opt := range options {
		opt(body)
	}
	return body
}
