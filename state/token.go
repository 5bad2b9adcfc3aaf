package state

import (
	"encoding/base64"
	"fmt"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
)

// invite tokens are raw id52 (32 bytes) || preimage (32 bytes), base64url
// encoded without padding — 64 raw bytes become an 86-character token.
const inviteTokenRawLength = 64

// CreateInviteToken encodes the out-of-band token an inviter hands to a
// would-be peer: their id52 and the preimage that gates a HANDSHAKE_INIT.
func CreateInviteToken(id identity.ID, preimage capability.Preimage) string {
	data := make([]byte, 0, inviteTokenRawLength)
	data = append(data, id[:]...)
	data = append(data, preimage[:]...)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseInviteToken decodes an invite token back into the inviter's id52
// and the preimage to present in HANDSHAKE_INIT.
func ParseInviteToken(token string) (identity.ID, capability.Preimage, error) {
	var id identity.ID
	var preimage capability.Preimage

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, preimage, fmt.Errorf("invalid invite token encoding: %w", err)
	}
	if len(data) != inviteTokenRawLength {
		return id, preimage, fmt.Errorf("invite token must decode to %d bytes, got %d", inviteTokenRawLength, len(data))
	}

	copy(id[:], data[0:32])
	copy(preimage[:], data[32:64])
	return id, preimage, nil
}
