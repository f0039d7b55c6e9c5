// Copyright (C) 2025 vaultproxy contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package keystore generates and serializes the Ed25519 signing and X25519
// exchange key pairs that make up one identity's KeyBundle, and loads the
// shareable PublicKeyBundle half for peers.
package keystore

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrInvalidKeyType   = errors.New("invalid key type")
)

// SigningKeyPair is an Ed25519 identity key used to authenticate handshake
// messages.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Sign signs message with the private key.
func (k SigningKeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify reports whether signature is a valid Ed25519 signature over message.
func (k SigningKeyPair) Verify(message, signature []byte) bool {
	return ed25519.Verify(k.Public, message, signature)
}

// Fingerprint returns the first 8 bytes of SHA-256(pubkey), hex-encoded —
// the same truncated-digest scheme the teacher uses to ID any key pair.
func (k SigningKeyPair) Fingerprint() string {
	return Fingerprint(k.Public)
}

// ExchangeKeyPair is an X25519 key pair used for the handshake's per-session
// ephemeral ECDH, and (for the responder) the long-lived static key whose
// public half is advertised to initiators.
type ExchangeKeyPair struct {
	Public  *ecdh.PublicKey
	Private *ecdh.PrivateKey
}

// Fingerprint returns the first 8 bytes of SHA-256(pubkey), hex-encoded.
func (k ExchangeKeyPair) Fingerprint() string {
	return Fingerprint(k.Public.Bytes())
}

// SharedSecret computes X25519(k.Private, peerPublic).
func (k ExchangeKeyPair) SharedSecret(peerPublic *ecdh.PublicKey) ([]byte, error) {
	return k.Private.ECDH(peerPublic)
}

// KeyBundle is one identity's full key material: the signing pair used to
// authenticate handshakes, and the exchange pair used to derive shared
// secrets. It lives for the process lifetime.
type KeyBundle struct {
	Signing  SigningKeyPair
	Exchange ExchangeKeyPair
}

// PublicKeyBundle is the shareable half of a KeyBundle, the form persisted
// to disk per peer and loaded at startup by the remote server (one per
// caller) and by the proxy (one for the configured remote).
type PublicKeyBundle struct {
	SigningPublic  ed25519.PublicKey
	ExchangePublic *ecdh.PublicKey
}

// Public returns the shareable half of the bundle.
func (b *KeyBundle) Public() PublicKeyBundle {
	return PublicKeyBundle{
		SigningPublic:  b.Signing.Public,
		ExchangePublic: b.Exchange.Public,
	}
}

// Describe renders a short human-readable summary of the bundle's
// fingerprints, used by the server's keygen subcommand to show operators
// which key they just generated.
func (b *KeyBundle) Describe() string {
	return "signing=" + b.Signing.Fingerprint() + " exchange=" + b.Exchange.Fingerprint()
}

// Generate creates a fresh Ed25519 signing pair and X25519 exchange pair.
func Generate() (*KeyBundle, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	exchPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyBundle{
		Signing: SigningKeyPair{Public: signPub, Private: signPriv},
		Exchange: ExchangeKeyPair{
			Public:  exchPriv.PublicKey(),
			Private: exchPriv,
		},
	}, nil
}

// Fingerprint returns hex(SHA-256(pub)[:8]), the scheme used throughout the
// keystore and route config for short, human-diffable key identifiers.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
