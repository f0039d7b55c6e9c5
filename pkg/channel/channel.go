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

package channel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Window is the sliding anti-replay window size (spec.md §4.1). It is a
// package constant rather than negotiated per-session, per the open
// question in spec.md §9 — left as a follow-up if cross-version
// interoperability with a persisted cursor is ever needed.
const Window = 256

const (
	ivSize     = 12
	tagSize    = 16
	counterLen = 8
	minFrame   = ivSize + tagSize + counterLen // 36
)

var (
	ErrMessageTooShort = errors.New("message too short")
	ErrTooOld          = errors.New("too old")
	ErrDuplicate       = errors.New("duplicate")
	ErrTampered        = errors.New("tampered or wrong key")
)

// Channel is one directional-keyed encrypted channel: a send side with a
// monotone counter, and a receive side with a sliding-window replay guard.
// Sends on one Channel must be serialized by the caller (spec.md §5); the
// request pipeline does this by holding the owning Session's lock across
// decrypt→dispatch→encrypt.
type Channel struct {
	sendGCM cipher.AEAD
	recvGCM cipher.AEAD

	mu          sync.Mutex
	sendCounter uint64

	recvMu     sync.Mutex
	maxCounter int64 // -1 means none authenticated yet
	seen       map[uint64]struct{}
}

// New constructs a Channel from a derived SessionKeys pair.
func New(keys SessionKeys) (*Channel, error) {
	sendBlock, err := aes.NewCipher(keys.SendKey[:])
	if err != nil {
		return nil, fmt.Errorf("new send cipher: %w", err)
	}
	sendGCM, err := cipher.NewGCM(sendBlock)
	if err != nil {
		return nil, fmt.Errorf("new send gcm: %w", err)
	}

	recvBlock, err := aes.NewCipher(keys.RecvKey[:])
	if err != nil {
		return nil, fmt.Errorf("new recv cipher: %w", err)
	}
	recvGCM, err := cipher.NewGCM(recvBlock)
	if err != nil {
		return nil, fmt.Errorf("new recv gcm: %w", err)
	}

	return &Channel{
		sendGCM:    sendGCM,
		recvGCM:    recvGCM,
		maxCounter: -1,
		seen:       make(map[uint64]struct{}),
	}, nil
}

// Encrypt seals plaintext under the next send counter and returns the wire
// frame IV(12) || authTag(16) || counter_be64(8) || ciphertext.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counter := c.sendCounter
	c.sendCounter++

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	var counterBytes [counterLen]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	sealed := c.sendGCM.Seal(nil, iv, plaintext, counterBytes[:])
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	frame := make([]byte, 0, minFrame+len(ciphertext))
	frame = append(frame, iv...)
	frame = append(frame, tag...)
	frame = append(frame, counterBytes[:]...)
	frame = append(frame, ciphertext...)
	return frame, nil
}

// Decrypt authenticates and opens frame, enforcing the sliding-window
// anti-replay policy from spec.md §4.1. Window state is only mutated after
// authentication succeeds, so forged frames cannot poison it.
func (c *Channel) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < minFrame {
		return nil, ErrMessageTooShort
	}

	iv := frame[:ivSize]
	tag := frame[ivSize : ivSize+tagSize]
	counterBytes := frame[ivSize+tagSize : ivSize+tagSize+counterLen]
	ciphertext := frame[ivSize+tagSize+counterLen:]
	counter := binary.BigEndian.Uint64(counterBytes)

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.maxCounter >= 0 && int64(counter)+Window <= c.maxCounter {
		return nil, ErrTooOld
	}
	if _, dup := c.seen[counter]; dup {
		return nil, ErrDuplicate
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.recvGCM.Open(nil, iv, sealed, counterBytes)
	if err != nil {
		return nil, ErrTampered
	}

	if int64(counter) > c.maxCounter {
		c.maxCounter = int64(counter)
		cutoff := c.maxCounter - Window
		for seenCounter := range c.seen {
			if int64(seenCounter) <= cutoff {
				delete(c.seen, seenCounter)
			}
		}
	}
	c.seen[counter] = struct{}{}

	return plaintext, nil
}
