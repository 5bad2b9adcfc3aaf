package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Type: MsgSend, Payload: []byte("hello")}

	require.NoError(t, WriteFrame(&buf, want))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: MsgSend, Payload: make([]byte, MaxFrameLength+1)}
	assert.Error(t, WriteFrame(&buf, f))
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 3, 0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 3, 0, 0, 0, 10})
	buf.Write([]byte("short"))
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}
