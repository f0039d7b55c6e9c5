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

package keystore

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	signingPubFile  = "signing.pub.pem"
	signingKeyFile  = "signing.key.pem"
	exchangePubFile = "exchange.pub.pem"
	exchangeKeyFile = "exchange.key.pem"
)

// ExportSigningPrivate PEM-encodes an Ed25519 private key using PKCS8, the
// one curve x509 supports natively.
func ExportSigningPrivate(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal signing private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ExportSigningPublic PEM-encodes an Ed25519 public key using PKIX.
func ExportSigningPublic(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal signing public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ImportSigningPrivate parses a PKCS8 PEM block into an Ed25519 private key.
func ImportSigningPrivate(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("expected PRIVATE KEY PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected Ed25519, got %T", ErrInvalidKeyType, key)
	}
	return priv, nil
}

// ImportSigningPublic parses a PKIX PEM block into an Ed25519 public key.
func ImportSigningPublic(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("expected PUBLIC KEY PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected Ed25519, got %T", ErrInvalidKeyType, key)
	}
	return pub, nil
}

// x509 has no PKCS8/PKIX OID for X25519 raw Montgomery-form keys, so — the
// same way the teacher stores secp256k1 behind a custom PEM header rather
// than forcing it through an ASN.1 shape it doesn't have — X25519 keys are
// stored as raw key bytes in a "X25519 PRIVATE KEY"/"X25519 PUBLIC KEY"
// block. This is the documented non-standard mode, not an implicit one.

// ExportExchangePrivate PEM-encodes an X25519 private key as raw bytes.
func ExportExchangePrivate(priv *ecdh.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "X25519 PRIVATE KEY", Bytes: priv.Bytes()})
}

// ExportExchangePublic PEM-encodes an X25519 public key as raw bytes.
func ExportExchangePublic(pub *ecdh.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "X25519 PUBLIC KEY", Bytes: pub.Bytes()})
}

// ImportExchangePrivate parses a raw X25519 private key PEM block.
func ImportExchangePrivate(data []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "X25519 PRIVATE KEY" {
		return nil, errors.New("expected X25519 PRIVATE KEY PEM block")
	}
	return ecdh.X25519().NewPrivateKey(block.Bytes)
}

// ImportExchangePublic parses a raw X25519 public key PEM block.
func ImportExchangePublic(data []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "X25519 PUBLIC KEY" {
		return nil, errors.New("expected X25519 PUBLIC KEY PEM block")
	}
	return ecdh.X25519().NewPublicKey(block.Bytes)
}

// SaveToDir writes the four PEM files for bundle into dir, creating dir with
// mode 0700 if needed. Public files are 0644, private files 0600 — the file
// mode layout spec.md pins exactly.
func SaveToDir(dir string, bundle *KeyBundle) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	signPubPEM, err := ExportSigningPublic(bundle.Signing.Public)
	if err != nil {
		return err
	}
	signKeyPEM, err := ExportSigningPrivate(bundle.Signing.Private)
	if err != nil {
		return err
	}
	exchPubPEM := ExportExchangePublic(bundle.Exchange.Public)
	exchKeyPEM := ExportExchangePrivate(bundle.Exchange.Private)

	writes := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{signingPubFile, signPubPEM, 0o644},
		{signingKeyFile, signKeyPEM, 0o600},
		{exchangePubFile, exchPubPEM, 0o644},
		{exchangeKeyFile, exchKeyPEM, 0o600},
	}
	for _, w := range writes {
		if err := os.WriteFile(filepath.Join(dir, w.name), w.data, w.mode); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}
	return nil
}

// LoadFromDir reads a full KeyBundle (public and private halves) from dir.
func LoadFromDir(dir string) (*KeyBundle, error) {
	signKeyPEM, err := os.ReadFile(filepath.Join(dir, signingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	signPriv, err := ImportSigningPrivate(signKeyPEM)
	if err != nil {
		return nil, err
	}

	exchKeyPEM, err := os.ReadFile(filepath.Join(dir, exchangeKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read exchange key: %w", err)
	}
	exchPriv, err := ImportExchangePrivate(exchKeyPEM)
	if err != nil {
		return nil, err
	}

	return &KeyBundle{
		Signing: SigningKeyPair{
			Public:  signPriv.Public().(ed25519.PublicKey),
			Private: signPriv,
		},
		Exchange: ExchangeKeyPair{
			Public:  exchPriv.PublicKey(),
			Private: exchPriv,
		},
	}, nil
}

// LoadPublicFromDir reads only the public halves of a bundle from dir — the
// shape used for a peer's PublicKeyBundle, loaded at startup per caller.
func LoadPublicFromDir(dir string) (*PublicKeyBundle, error) {
	signPubPEM, err := os.ReadFile(filepath.Join(dir, signingPubFile))
	if err != nil {
		return nil, fmt.Errorf("read signing public key: %w", err)
	}
	signPub, err := ImportSigningPublic(signPubPEM)
	if err != nil {
		return nil, err
	}

	exchPubPEM, err := os.ReadFile(filepath.Join(dir, exchangePubFile))
	if err != nil {
		return nil, fmt.Errorf("read exchange public key: %w", err)
	}
	exchPub, err := ImportExchangePublic(exchPubPEM)
	if err != nil {
		return nil, err
	}

	return &PublicKeyBundle{SigningPublic: signPub, ExchangePublic: exchPub}, nil
}
