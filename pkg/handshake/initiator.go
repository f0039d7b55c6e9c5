package handshake

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vaultproxy/pkg/channel"
	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/keystore"
)

// Initiator is the local proxy's side of the handshake. Per Noise-NK, the
// responder's static signing key is known to the initiator in advance; only
// the responder authorizes by peer set, not the other direction.
type Initiator struct {
	keys           *keystore.KeyBundle
	peerSigningPub ed25519.PublicKey
}

// NewInitiator builds an Initiator for keys that will connect to a
// responder whose signing public key is peerSigningPub.
func NewInitiator(keys *keystore.KeyBundle, peerSigningPub ed25519.PublicKey) *Initiator {
	return &Initiator{keys: keys, peerSigningPub: peerSigningPub}
}

// State carries the per-handshake secrets between BuildInit and
// ProcessReply: the ephemeral private key and nonce the initiator must
// remember until the Reply arrives.
type State struct {
	ephemeralPriv *ecdh.PrivateKey
	nonceI        []byte
}

// BuildInit generates a fresh ephemeral key and nonce and returns the wire
// bytes to POST to /handshake/init, along with the State needed to process
// the Reply.
func (i *Initiator) BuildInit() (initBytes []byte, state *State, err error) {
	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	nonceI := make([]byte, 32)
	if _, err := rand.Read(nonceI); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ephemeralPubPEM := keystore.ExportExchangePublic(ephemeralPriv.PublicKey())
	signingPubPEM, err := keystore.ExportSigningPublic(i.keys.Signing.Public)
	if err != nil {
		return nil, nil, fmt.Errorf("export signing public key: %w", err)
	}

	signed := concat(ephemeralPubPEM, nonceI)
	sig := ed25519.Sign(i.keys.Signing.Private, signed)

	msg := InitMessage{
		SigningPubKey:   string(signingPubPEM),
		EphemeralPubKey: string(ephemeralPubPEM),
		NonceI:          hex.EncodeToString(nonceI),
		Signature:       hex.EncodeToString(sig),
		Version:         CurrentVersion,
	}
	initBytes, err = json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal init: %w", err)
	}

	return initBytes, &State{ephemeralPriv: ephemeralPriv, nonceI: nonceI}, nil
}

// ProcessReply verifies the responder's Reply, derives the shared session
// keys from the transcript both sides observed, and returns the ready-to-use
// encrypted Channel.
func (i *Initiator) ProcessReply(state *State, initBytes, replyBytes []byte) (*channel.Channel, error) {
	var reply ReplyMessage
	if err := json.Unmarshal(replyBytes, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed reply", gatewayerrors.ErrUnauthorized)
	}

	ephemeralPubR, err := keystore.ImportExchangePublic([]byte(reply.EphemeralPubKey))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ephemeral key", gatewayerrors.ErrUnauthorized)
	}
	nonceR, err := hex.DecodeString(reply.NonceR)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed nonce", gatewayerrors.ErrUnauthorized)
	}
	sig, err := hex.DecodeString(reply.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", gatewayerrors.ErrUnauthorized)
	}

	signed := concat(concat([]byte(reply.EphemeralPubKey), nonceR), state.nonceI)
	if !ed25519.Verify(i.peerSigningPub, signed, sig) {
		return nil, fmt.Errorf("%w: responder signature invalid", gatewayerrors.ErrUnauthorized)
	}

	sharedSecret, err := state.ephemeralPriv.ECDH(ephemeralPubR)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh failed", gatewayerrors.ErrUnauthorized)
	}
	transcript := sha256.Sum256(concat(initBytes, replyBytes))

	sessionKeys, err := channel.DeriveKeys(sharedSecret, transcript[:], true)
	if err != nil {
		return nil, fmt.Errorf("derive session keys: %w", err)
	}
	return channel.New(sessionKeys)
}

// BuildFinish encrypts the ready-status Finish payload under ch, the proof
// of correct key derivation the responder checks before establishing the
// session.
func (i *Initiator) BuildFinish(ch *channel.Channel) ([]byte, error) {
	payload := FinishPayload{Status: "ready", Timestamp: time.Now().Unix()}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal finish payload: %w", err)
	}
	return ch.Encrypt(b)
}
