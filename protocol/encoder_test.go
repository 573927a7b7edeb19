package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentEncodeUnreservedPassThrough(t *testing.T) {
	assert.Equal(t, "abcABC019-._~", PercentEncode("abcABC019-._~"))
}

func TestPercentEncodeReservedCharacters(t *testing.T) {
	assert.Equal(t, "a%20b", PercentEncode("a b"))
	assert.Equal(t, "a%26b%3Dc", PercentEncode("a&b=c"))
	assert.Equal(t, "100%25", PercentEncode("100%"))
}

func TestPercentEncodeAdditionalReservedSet(t *testing.T) {
	// underscore is unreserved by default
	assert.Equal(t, "a_b", PercentEncode("a_b"))
	// and escaped when listed as additionally reserved
	assert.Equal(t, "a%5Fb", PercentEncode("a_b", '_'))
	assert.NotContains(t, PercentEncode("x_y_z", '_'), "_")
}

func TestPercentEncodeMultiByteUTF8(t *testing.T) {
	// each byte of the UTF-8 sequence is escaped individually
	assert.Equal(t, "%C3%A4", PercentEncode("ä"))
	assert.Equal(t, "%E2%82%AC", PercentEncode("€"))
}

func TestPercentEncodeUppercaseHexDigits(t *testing.T) {
	assert.Equal(t, "%2F%3F%3A", PercentEncode("/?:"))
}

func TestPercentEncodeEmptyString(t *testing.T) {
	assert.Equal(t, "", PercentEncode(""))
}
