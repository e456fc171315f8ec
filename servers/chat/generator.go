package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Request is what a generator is asked to answer.
type Request struct {
	Prompt string
	System string
	// Extra holds free-form fields sent along with the prompt.
	Extra map[string]any
}

// Generator produces the answer to a request as a sequence of text fragments. Implementations must
// stop when ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, req Request) iter.Seq2[string, error]
}

// EchoGenerator answers by echoing the prompt back word by word. It stands in for a model backend in
// demos and tests.
type EchoGenerator struct {
	// Delay is waited before each fragment.
	Delay time.Duration
}

// Generate implements Generator.
func (g EchoGenerator) Generate(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reply := fmt.Sprintf("You said: %s", req.Prompt)
		if req.System != "" {
			reply = fmt.Sprintf("[%s] %s", req.System, reply)
		}

		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			if g.Delay > 0 {
				timer := time.NewTimer(g.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					yield("", ctx.Err())
					return
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(w, nil) {
				return
			}
		}
	}
}

// Reply is the full answer an EchoGenerator gives to req.
func (g EchoGenerator) Reply(req Request) string {
	var sb strings.Builder
	for w, err := range g.Generate(context.Background(), req) {
		if err != nil {
			break
		}
		sb.WriteString(w)
	}
	return sb.String()
}
