// Package capability implements the preimage/commit scheme that gates who
// may send a message to an endpoint through the relay: a commit is the
// SHA-256 hash of a 32-byte preimage, the relay only ever sees commits, and
// presenting the matching preimage consumes it as a one-shot capability.
package capability

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Preimage is a 32-byte one-shot secret; its SHA-256 hash is the Commit
// registered with the relay.
type Preimage [32]byte

// Commit is the SHA-256 hash of a Preimage, the only form the relay is
// allowed to see.
type Commit [32]byte

// Generate returns a fresh, cryptographically random preimage.
func Generate() (Preimage, error) {
	var p Preimage
	if _, err := rand.Read(p[:]); err != nil {
		return p, fmt.Errorf("generate preimage: %w", err)
	}
	return p, nil
}

// CommitFor computes the commit a relay should register for a preimage.
func CommitFor(p Preimage) Commit {
	return Commit(sha256.Sum256(p[:]))
}
