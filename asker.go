package aisdk

import (
	"context"
	"strings"
	"sync"
)

// AskerOption configures an Asker.
type AskerOption func(*Asker)

// AskerState is a point-in-time view of an Asker, shaped for rendering: a fault shows up in Err, which
// is distinct from Loading, and a cancelled request leaves both unset.
type AskerState struct {
	Response string
	Loading  bool
	Err      error
}

// Asker is the caller-side wrapper around Client.Stream for interactive use. It accumulates the
// fragments of the current answer and guarantees that at most one stream is active at a time:
// the in-flight request lives in a single replaceable slot, and installing a new request cancels
// the previous occupant and waits for it to finish first.
//
// An Asker is safe for concurrent use.
type Asker struct {
	client     *Client
	onFragment func(string)

	mu       sync.Mutex
	current  *inflight
	response strings.Builder
	loading  bool
	err      error
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAsker creates an Asker that streams through client.
func NewAsker(client *Client, options ...AskerOption) *Asker {
	a := &Asker{client: client}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// WithFragmentHandler registers fn to be called with every fragment of the current answer, in
// arrival order. fn is not called for fragments of a request that was cancelled or superseded.
func WithFragmentHandler(fn func(fragment string)) AskerOption {
	return func(a *Asker) {
		a.onFragment = fn
	}
}

// Ask cancels any request still in flight on this Asker, waits for it to terminate, and then streams
// the answer to prompt, blocking until the stream ends.
//
// Ask returns nil when the stream completes, and also when it is cancelled, either through Cancel,
// Reset, cancellation of ctx, or a newer call to Ask. Faults are returned and recorded in the state;
// an expired ctx deadline is a fault.
func (a *Asker) Ask(ctx context.Context, prompt string, options ...AskOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := &inflight{cancel: cancel, done: make(chan struct{})}
	defer close(req.done)

	a.mu.Lock()
	prev := a.current
	a.current = req
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	a.mu.Lock()
	if a.current != req {
		// Superseded while waiting for the previous request.
		a.mu.Unlock()
		return nil
	}
	a.loading = true
	a.err = nil
	a.response.Reset()
	a.mu.Unlock()

	var err error
	for fragment, sErr := range a.client.Stream(ctx, prompt, options...) {
		if sErr != nil {
			err = sErr
			break
		}
		if !a.appendFragment(req, fragment) {
			break
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != req {
		return nil
	}
	a.current = nil
	a.loading = false
	if err != nil && !IsCanceled(ctx.Err()) {
		a.err = err
		return err
	}
	return nil
}

// Cancel stops the request in flight, if any, and resets the loading state without recording an
// error. It does not wait for the request to wind down.
func (a *Asker) Cancel() {
	a.mu.Lock()
	prev := a.current
	a.current = nil
	a.loading = false
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// Reset cancels the request in flight and clears the accumulated response and error.
func (a *Asker) Reset() {
	a.Cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.response.Reset()
	a.err = nil
}

// Snapshot returns the current state of the Asker.
func (a *Asker) Snapshot() AskerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AskerState{
		Response: a.response.String(),
		Loading:  a.loading,
		Err:      a.err,
	}
}

// Response returns the text accumulated so far for the latest request.
func (a *Asker) Response() string {
	return a.Snapshot().Response
}

// appendFragment adds fragment to the response if req still owns the slot. It reports whether the
// stream should continue.
func (a *Asker) appendFragment(req *inflight, fragment string) bool {
	a.mu.Lock()
	if a.current != req {
		a.mu.Unlock()
		return false
	}
	a.response.WriteString(fragment)
	a.mu.Unlock()

	if a.onFragment != nil {
		a.onFragment(fragment)
	}
	return true
}
