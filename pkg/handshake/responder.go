package handshake

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vaultproxy/internal/logger"
	"vaultproxy/internal/metrics"
	"vaultproxy/pkg/channel"
	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/keystore"
	"vaultproxy/pkg/route"
)

// PendingHandshake is the short-lived state produced by HandleInit and
// consumed by HandleFinish: the half-derived channel keyed by the sessionId
// both sides will use once established. The session manager stores this in
// its pendingHandshakes table with a 30s TTL.
type PendingHandshake struct {
	SessionID   string
	CallerAlias string
	Channel     *channel.Channel
	CreatedAt   time.Time
}

// Responder is the remote gateway's side of the handshake: it knows its own
// KeyBundle and the set of peers authorized to connect, keyed by signing-key
// fingerprint so Init processing never has to scan a list.
type Responder struct {
	keys *keystore.KeyBundle
	log  logger.Logger

	mu    sync.RWMutex
	peers map[string]route.AuthorizedPeer
}

// NewResponder builds a Responder for keys, authorized to accept handshakes
// from any of peers.
func NewResponder(keys *keystore.KeyBundle, peers []route.AuthorizedPeer, log logger.Logger) *Responder {
	m := make(map[string]route.AuthorizedPeer, len(peers))
	for _, p := range peers {
		m[keystore.Fingerprint(p.Keys.SigningPublic)] = p
	}
	return &Responder{keys: keys, log: log, peers: m}
}

// SetPeers replaces the authorized peer set, e.g. after a config reload.
func (r *Responder) SetPeers(peers []route.AuthorizedPeer) {
	m := make(map[string]route.AuthorizedPeer, len(peers))
	for _, p := range peers {
		m[keystore.Fingerprint(p.Keys.SigningPublic)] = p
	}
	r.mu.Lock()
	r.peers = m
	r.mu.Unlock()
}

// HandleInit validates an Init message against the authorized peer set,
// derives the responder side of the session keys, and returns the bytes to
// send back as the Reply plus the PendingHandshake the session manager
// should store until Finish arrives.
func (r *Responder) HandleInit(initBytes []byte) (replyBytes []byte, pending *PendingHandshake, err error) {
	start := time.Now()
	metrics.HandshakesInitiated.WithLabelValues("server").Inc()

	var init InitMessage
	if err := json.Unmarshal(initBytes, &init); err != nil {
		metrics.HandshakesFailed.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: malformed init message", gatewayerrors.ErrUnauthorized)
	}
	if init.Version != CurrentVersion {
		metrics.HandshakesFailed.WithLabelValues("version").Inc()
		return nil, nil, fmt.Errorf("%w: unsupported handshake version %d", gatewayerrors.ErrUnauthorized, init.Version)
	}

	signingPub, err := keystore.ImportSigningPublic([]byte(init.SigningPubKey))
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: malformed signing key", gatewayerrors.ErrUnauthorized)
	}

	fingerprint := keystore.Fingerprint(signingPub)
	r.mu.RLock()
	peer, authorized := r.peers[fingerprint]
	r.mu.RUnlock()
	if !authorized {
		metrics.HandshakesFailed.WithLabelValues("unknown_peer").Inc()
		r.log.Warn("handshake rejected: initiator not authorized", logger.String("fingerprint", fingerprint))
		return nil, nil, fmt.Errorf("%w: initiator not authorized", gatewayerrors.ErrUnauthorized)
	}

	nonceI, err := hex.DecodeString(init.NonceI)
	if err != nil || len(nonceI) != 32 {
		metrics.HandshakesFailed.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: malformed nonce", gatewayerrors.ErrUnauthorized)
	}
	sig, err := hex.DecodeString(init.Signature)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: malformed signature", gatewayerrors.ErrUnauthorized)
	}

	signed := concat([]byte(init.EphemeralPubKey), nonceI)
	if !ed25519.Verify(signingPub, signed, sig) {
		metrics.HandshakesFailed.WithLabelValues("bad_signature").Inc()
		return nil, nil, fmt.Errorf("%w: initiator signature invalid", gatewayerrors.ErrUnauthorized)
	}

	ephemeralPubI, err := keystore.ImportExchangePublic([]byte(init.EphemeralPubKey))
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: malformed ephemeral key", gatewayerrors.ErrUnauthorized)
	}

	ephemeralPrivR, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	nonceR := make([]byte, 32)
	if _, err := rand.Read(nonceR); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ephemeralPubRPEM := keystore.ExportExchangePublic(ephemeralPrivR.PublicKey())

	replySigned := concat(concat(ephemeralPubRPEM, nonceR), nonceI)
	sigR := ed25519.Sign(r.keys.Signing.Private, replySigned)

	reply := ReplyMessage{
		EphemeralPubKey: string(ephemeralPubRPEM),
		NonceR:          hex.EncodeToString(nonceR),
		Signature:       hex.EncodeToString(sigR),
	}
	replyBytes, err = json.Marshal(reply)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal reply: %w", err)
	}

	transcript := sha256.Sum256(concat(initBytes, replyBytes))
	sharedSecret, err := ephemeralPrivR.ECDH(ephemeralPubI)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("ecdh").Inc()
		return nil, nil, fmt.Errorf("%w: ecdh failed", gatewayerrors.ErrUnauthorized)
	}

	sessionKeys, err := channel.DeriveKeys(sharedSecret, transcript[:], false)
	if err != nil {
		return nil, nil, fmt.Errorf("derive session keys: %w", err)
	}
	ch, err := channel.New(sessionKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("new channel: %w", err)
	}

	metrics.HandshakeDuration.WithLabelValues("reply").Observe(time.Since(start).Seconds())

	return replyBytes, &PendingHandshake{
		SessionID:   sessionKeys.SessionID,
		CallerAlias: peer.Alias,
		Channel:     ch,
		CreatedAt:   time.Now(),
	}, nil
}

// HandleFinish decrypts the Finish frame under pending's channel and
// validates its payload. On success the pending handshake is ready to be
// promoted to an active Session by the caller.
func (r *Responder) HandleFinish(pending *PendingHandshake, frameBytes []byte) error {
	plaintext, err := pending.Channel.Decrypt(frameBytes)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("finish_decrypt").Inc()
		r.log.Warn("handshake finish failed", logger.String("sessionId", pending.SessionID), logger.Error(err))
		return fmt.Errorf("%w: finish decryption failed", gatewayerrors.ErrUnauthorized)
	}

	var payload FinishPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload.Status != "ready" {
		metrics.HandshakesFailed.WithLabelValues("finish_payload").Inc()
		return fmt.Errorf("%w: finish payload invalid", gatewayerrors.ErrUnauthorized)
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	r.log.Info("handshake complete", logger.String("sessionId", pending.SessionID), logger.String("caller", pending.CallerAlias))
	return nil
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
