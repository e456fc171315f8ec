package aisdk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-aisdk"
)

func TestLineDecoderHoldsBackPartialLine(t *testing.T) {
	var dec aisdk.LineDecoder

	assert.Empty(t, dec.Feed([]byte("data: {\"te")))
	assert.Equal(t, 10, dec.Buffered())

	lines := dec.Feed([]byte("xt\":\"a\"}\ndata: [DO"))
	assert.Equal(t, []string{`data: {"text":"a"}`}, lines)

	lines = dec.Feed([]byte("NE]\n"))
	assert.Equal(t, []string{"data: [DONE]"}, lines)
	assert.Zero(t, dec.Buffered())
}

func TestLineDecoderEmitsEmptyLines(t *testing.T) {
	var dec aisdk.LineDecoder

	lines := dec.Feed([]byte("a\n\nb\n"))
	assert.Equal(t, []string{"a", "", "b"}, lines)
}

func TestLineDecoderNewlineSplitAcrossChunks(t *testing.T) {
	var dec aisdk.LineDecoder

	assert.Empty(t, dec.Feed([]byte("first")))
	assert.Equal(t, []string{"first"}, dec.Feed([]byte("\n")))
	assert.Equal(t, []string{"", "second"}, dec.Feed([]byte("\nsecond\n")))
}

func TestLineDecoderMultiByteSplit(t *testing.T) {
	var dec aisdk.LineDecoder
	payload := []byte("héllo wörld\n")

	// Split inside the two-byte encoding of "é".
	assert.Empty(t, dec.Feed(payload[:2]))
	lines := dec.Feed(payload[2:])

	require.Len(t, lines, 1)
	assert.Equal(t, "héllo wörld", lines[0])
}

func TestLineDecoderInvalidBytes(t *testing.T) {
	var dec aisdk.LineDecoder

	lines := dec.Feed([]byte("a\xffb\n"))

	require.Len(t, lines, 1)
	assert.Equal(t, "a�b", lines[0])
}

func TestLineDecoderFlush(t *testing.T) {
	var dec aisdk.LineDecoder

	dec.Feed([]byte("complete\npartial"))

	assert.Equal(t, "partial", dec.Flush())
	assert.Equal(t, "", dec.Flush())
	assert.Zero(t, dec.Buffered())
}
