package aisdk

import (
	"bytes"
	"strings"
)

// LineDecoder turns an arbitrary sequence of transport chunks into complete text lines. A trailing
// line without its terminating newline is held back until a later chunk completes it.
//
// Lines are split on the raw '\n' byte before any text decoding happens, so a multi-byte UTF-8
// sequence split across two chunks is reassembled before it is decoded. Invalid byte sequences are
// rendered with the Unicode replacement character, the decoder never fails.
//
// The zero value is ready to use. A LineDecoder is owned by a single stream and must not be shared.
type LineDecoder struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every line completed by it, in order and without
// the newline. A "\r" preceding the newline is kept, matching the wire contract that only '\n'
// delimits lines.
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decodeText(d.buf[:i]))
		d.buf = d.buf[i+1:]
	}

	// Compact so the retained tail doesn't pin the backing array of a long stream.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 4*len(d.buf) {
		d.buf = append([]byte(nil), d.buf...)
	}

	return lines
}

// Flush returns the partial line still held by the decoder and resets it. It is called once at
// the end of a stream; the result is incomplete by definition and callers discard it.
func (d *LineDecoder) Flush() string {
	rest := decodeText(d.buf)
	d.buf = nil
	return rest
}

// Buffered reports the number of bytes held back as an incomplete line.
func (d *LineDecoder) Buffered() int {
	return len(d.buf)
}

func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
