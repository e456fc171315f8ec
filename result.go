package aisdk

import (
	"encoding/json"
	"fmt"
)

// CallResult is the normalized answer to a call.
//
// For a JSON document, Raw is the document. For an event stream, every event whose data decodes as
// JSON is kept in Events and Raw is picked by this fallback policy:
//  1. the first event that looks like a JSON-RPC response (an object with a "result" or "error"
//     key);
//  2. otherwise, the single event if exactly one arrived;
//  3. otherwise, a JSON array of all events. Ambiguous is set and nothing is guessed.
//
// A single-event stream and a JSON document carrying the same payload produce the same Raw and
// Events.
type CallResult struct {
	// Raw is the normalized result.
	Raw json.RawMessage
	// Events holds every decoded event in arrival order. For a JSON document it holds the document.
	Events []json.RawMessage
	// Ambiguous reports that no event was a response envelope and the event count was not one.
	Ambiguous bool
}

// Envelope decodes Raw as a JSON-RPC response. It fails for ambiguous results and for results that
// are not response envelopes.
func (r *CallResult) Envelope() (JSONRPCMessage, error) {
	if r.Ambiguous {
		return JSONRPCMessage{}, fmt.Errorf("%w: %d events and none is a response", ErrProtocol, len(r.Events))
	}
	if !isResponseEnvelope(r.Raw) {
		return JSONRPCMessage{}, fmt.Errorf("%w: result is not a response envelope", ErrProtocol)
	}
	var msg JSONRPCMessage
	if err := json.Unmarshal(r.Raw, &msg); err != nil {
		return JSONRPCMessage{}, fmt.Errorf("%w: failed to decode response: %v", ErrProtocol, err)
	}
	return msg, nil
}

// Decode unmarshals the "result" member of the response into v. A JSON-RPC error answer is returned
// as *JSONRPCError.
func (r *CallResult) Decode(v any) error {
	msg, err := r.Envelope()
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return msg.Error
	}
	if err := json.Unmarshal(msg.Result, v); err != nil {
		return fmt.Errorf("%w: failed to decode result: %v", ErrProtocol, err)
	}
	return nil
}

func pickResult(events []json.RawMessage) *CallResult {
	res := &CallResult{Events: events}

	for _, ev := range events {
		if isResponseEnvelope(ev) {
			res.Raw = ev
			return res
		}
	}

	if len(events) == 1 {
		res.Raw = events[0]
		return res
	}

	all, _ := json.Marshal(events)
	if events == nil {
		all = []byte("[]")
	}
	res.Raw = all
	res.Ambiguous = true
	return res
}

func isResponseEnvelope(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, hasResult := obj["result"]
	_, hasError := obj["error"]
	return hasResult || hasError
}
