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

// Package channel implements the encrypted channel: HKDF-SHA256 directional
// key derivation from a handshake's shared secret and transcript hash, and
// AES-256-GCM frame encryption with sliding-window anti-replay.
package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeys holds the two directional AES-256 keys and the session
// identifier derived from one handshake's shared secret and transcript.
type SessionKeys struct {
	SendKey   [32]byte
	RecvKey   [32]byte
	SessionID string
}

// DeriveKeys derives the initiator-to-responder key, responder-to-initiator
// key, and sessionId from the X25519 shared secret ss and transcript hash h,
// per spec.md §4.1. isInitiator picks which directional key is Send vs Recv
// for the caller.
func DeriveKeys(ss, transcriptHash []byte, isInitiator bool) (SessionKeys, error) {
	iToR, err := hkdfExpand(ss, transcriptHash, "initiator-to-responder", 32)
	if err != nil {
		return SessionKeys{}, err
	}
	rToI, err := hkdfExpand(ss, transcriptHash, "responder-to-initiator", 32)
	if err != nil {
		return SessionKeys{}, err
	}
	sid, err := hkdfExpand(ss, transcriptHash, "session-id", 16)
	if err != nil {
		return SessionKeys{}, err
	}

	keys := SessionKeys{SessionID: hex.EncodeToString(sid)}
	if isInitiator {
		copy(keys.SendKey[:], iToR)
		copy(keys.RecvKey[:], rToI)
	} else {
		copy(keys.SendKey[:], rToI)
		copy(keys.RecvKey[:], iToR)
	}
	return keys, nil
}

func hkdfExpand(secret, salt []byte, info string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand %q: %w", info, err)
	}
	return out, nil
}
