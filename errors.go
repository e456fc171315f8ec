package aisdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrProtocol is the root of every protocol fault: the server answered, but not in a shape this
// client understands. Use errors.Is to tell protocol faults apart from *StatusError.
var ErrProtocol = errors.New("protocol error")

var (
	// ErrUnexpectedContentType is returned when a response is neither a JSON document nor an event
	// stream.
	ErrUnexpectedContentType = fmt.Errorf("%w: unexpected content type", ErrProtocol)

	// ErrMissingSessionID is returned when an initialize response carries no session identifier.
	ErrMissingSessionID = fmt.Errorf("%w: no session id returned", ErrProtocol)

	// ErrNoSession is returned by operations that require an active session when there is none.
	ErrNoSession = errors.New("no active session")
)

// StatusError is a transport fault: the initiating request was answered with a non-success status.
// It is returned before any fragment or result is produced and is never retried.
type StatusError struct {
	StatusCode int
	// Body holds the beginning of the response body, if any, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("API error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsCanceled reports whether err is the result of a caller-triggered cancellation rather than a
// fault. Cancellation must not be shown to end users as a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

const maxErrorBodySize = 512

// newStatusError builds a StatusError from resp, keeping a prefix of the body for context. The
// caller remains responsible for closing resp.Body.
func newStatusError(resp *http.Response) *StatusError {
	buf := make([]byte, maxErrorBodySize)
	n, _ := io.ReadFull(resp.Body, buf)
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(buf[:n])),
	}
}
