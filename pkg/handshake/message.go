// Package handshake implements the three-message Noise-NK-inspired mutual
// authentication handshake (spec.md C3): Init (I→R), Reply (R→I), Finish
// (I→R), transcript-hash binding, and authorization against a known peer
// set. The session manager (pkg/session) owns the pendingHandshakes table;
// this package holds the protocol logic that produces and consumes it.
package handshake

// CurrentVersion is the only handshake wire version this gateway speaks.
const CurrentVersion = 1

// InitMessage is the initiator's first message: its long-term signing
// identity, a fresh ephemeral X25519 key, a random nonce, and a signature
// binding the two together.
type InitMessage struct {
	SigningPubKey   string `json:"signingPubKey"`   // PEM
	EphemeralPubKey string `json:"ephemeralPubKey"` // PEM, X25519
	NonceI          string `json:"nonceI"`          // 32 bytes, hex
	Signature       string `json:"signature"`       // hex
	Version         int    `json:"version"`
}

// ReplyMessage is the responder's reply: its own ephemeral X25519 key, a
// fresh nonce, and a signature binding both nonces together so the
// initiator can verify which exchange it belongs to.
type ReplyMessage struct {
	EphemeralPubKey string `json:"ephemeralPubKey"` // PEM, X25519
	NonceR          string `json:"nonceR"`          // 32 bytes, hex
	Signature       string `json:"signature"`       // hex
}

// FinishPayload is the plaintext the initiator encrypts under the freshly
// derived channel as the Finish message, proving correct key derivation.
type FinishPayload struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
