package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	want := NewHello(0xdeadbeef, 64*1024)
	got, err := ParseHello(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIAmRoundTrip(t *testing.T) {
	want := IAm{
		Commits: [][32]byte{{1}, {2}, {3}},
		RecentResponses: []RecentResponse{
			{Preimage: [32]byte{9}, Response: []byte("cached")},
		},
	}
	copy(want.ID52[:], bytesOf(1, 32))
	copy(want.Signature[:], bytesOf(2, 64))

	got, err := ParseIAm(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIAmEmptyRoundTrip(t *testing.T) {
	var want IAm
	got, err := ParseIAm(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, len(got.Commits))
	assert.Equal(t, 0, len(got.RecentResponses))
}

func TestSendRoundTrip(t *testing.T) {
	var want Send
	want.Payload = []byte("payload bytes")
	got, err := ParseSend(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateCommitsRoundTrip(t *testing.T) {
	want := UpdateCommits{Commits: [][32]byte{{1}, {2}}}
	got, err := ParseUpdateCommits(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeliverRoundTrip(t *testing.T) {
	want := Deliver{MsgID: 42, Preimage: [32]byte{1, 2, 3, 4}, Payload: []byte("payload")}
	got, err := ParseDeliver(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAckRoundTrip(t *testing.T) {
	want := Ack{MsgID: 7, Payload: []byte("ack body")}
	got, err := ParseAck(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSendResultRoundTrip(t *testing.T) {
	want := SendResultOK([]byte("response"))
	got, err := ParseSendResult(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSendResultErrorHasEmptyPayload(t *testing.T) {
	want := SendResultError(SendErrTimeout)
	got, err := ParseSendResult(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(SendErrTimeout), got.Status)
	assert.Empty(t, got.Payload)
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
