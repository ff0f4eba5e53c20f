package emailtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME_ExtractPayload_RoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	raw := buildMIME("from@example.com", "to@example.com", payload)

	got, ok := extractPayload(string(raw))
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestBuildMIME_IncludesProtocolHeader(t *testing.T) {
	raw := string(buildMIME("a@x.com", "b@x.com", []byte("x")))
	assert.Contains(t, raw, protocolHeader+": 1")
}

func TestExtractPayload_RejectsMessagesWithoutProtocolHeader(t *testing.T) {
	raw := "From: a@x.com\r\nTo: b@x.com\r\nSubject: hi\r\n\r\nplain text body\r\n"
	_, ok := extractPayload(raw)
	assert.False(t, ok)
}

func TestExtractPayload_RejectsMalformedBody(t *testing.T) {
	raw := "From: a@x.com\r\nTo: b@x.com\r\n" + protocolHeader + ": 1\r\n\r\nnot-valid-base64!!!\r\n"
	_, ok := extractPayload(raw)
	assert.False(t, ok)
}

func TestExtractPayload_NoHeaderBodySplit(t *testing.T) {
	_, ok := extractPayload("not a mime message at all")
	assert.False(t, ok)
}
