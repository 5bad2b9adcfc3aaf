package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeInitRoundTrip(t *testing.T) {
	var want HandshakeInit
	want.RelayURL = "relay.example.com:8443"
	got, err := ParseHandshakeInit(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHandshakeCompleteRoundTrip(t *testing.T) {
	want := HandshakeComplete{Status: HandshakeAccepted, RelayURL: "relay.example.com:8443"}
	got, err := ParseHandshakeComplete(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContentRoundTrip(t *testing.T) {
	want := Content{
		ContentType: ContentTypeOctetStream,
		RelayURL:    "relay.example.com:8443",
		Payload:     []byte("firmware bytes"),
	}
	got, err := ParseContent(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContentRoundTripEmptyRelayURL(t *testing.T) {
	want := Content{ContentType: ContentTypeText, Payload: []byte("hi")}
	got, err := ParseContent(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContentResponseRoundTrip(t *testing.T) {
	want := ContentResponse{
		Status:       ContentStatusOK,
		NextPreimage: [32]byte{9},
		RelayURL:     "relay.example.com:8443",
		Payload:      []byte("ack"),
	}
	got, err := ParseContentResponse(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPeekDiscriminator(t *testing.T) {
	kind, ok := PeekDiscriminator([]byte{DevMessage, 0, 0})
	assert.True(t, ok)
	assert.Equal(t, DevMessage, kind)

	_, ok = PeekDiscriminator([]byte("{\"cmd\":\"node/info\"}"))
	assert.False(t, ok)

	_, ok = PeekDiscriminator(nil)
	assert.False(t, ok)
}
