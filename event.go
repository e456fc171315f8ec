package aisdk

import (
	"encoding/json"
	"strings"
)

const (
	// EventPrefix marks a deliverable line of the event stream. Only lines starting with exactly
	// this prefix carry an event; everything else (comments, keep-alives, "event:" fields) is
	// ignored.
	EventPrefix = "data: "

	// DoneSentinel is the payload a backend sends after its last fragment. It carries no data and
	// does not end the stream by itself; the end of the response body does.
	DoneSentinel = "[DONE]"
)

// textEvent is the JSON object carried by a streaming chat event.
type textEvent struct {
	Text *string `json:"text"`
}

// EventPayload returns the payload of a "data: " line. The boolean is false for lines that are not
// events.
func EventPayload(line string) (string, bool) {
	return strings.CutPrefix(line, EventPrefix)
}

// IsDoneSentinel reports whether payload is the end-of-stream marker.
func IsDoneSentinel(payload string) bool {
	return payload == DoneSentinel
}

// TextFragment decodes payload as a JSON object and returns its "text" field. The boolean is false
// when the payload is not valid JSON, is not an object, or has no string "text" field.
func TextFragment(payload string) (string, bool) {
	var ev textEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", false
	}
	if ev.Text == nil {
		return "", false
	}
	return *ev.Text, true
}

// ExtractFragments runs decoded lines through the event filters and returns the text fragments they
// carry, in order. Non-event lines, the done sentinel and malformed payloads are filtered out; they
// are never reported as errors and never affect the lines around them.
func ExtractFragments(lines []string) []string {
	var fragments []string
	for _, line := range lines {
		payload, ok := EventPayload(line)
		if !ok {
			continue
		}
		if IsDoneSentinel(payload) {
			continue
		}
		text, ok := TextFragment(payload)
		if !ok {
			continue
		}
		fragments = append(fragments, text)
	}
	return fragments
}
