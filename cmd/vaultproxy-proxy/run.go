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

package main

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vaultproxy/pkg/channel"
	"vaultproxy/pkg/gateway"
	"vaultproxy/pkg/handshake"
	"vaultproxy/pkg/keystore"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// toolCallLine is the shape each stdin line is decoded into: the minimal
// fields a caller-side tool dispatcher actually needs to fill per call.
type toolCallLine struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
}

func runProxy(cmd *cobra.Command, args []string) error {
	clientKeys, err := bootstrapClientKeys(clientKeyDir)
	if err != nil {
		return fmt.Errorf("client identity: %w", err)
	}

	serverPub, err := keystore.LoadPublicFromDir(serverKeyDir)
	if err != nil {
		return fmt.Errorf("load server public key: %w", err)
	}

	sessionID, ch, err := establishChannel(clientKeys, serverPub.SigningPublic)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	fmt.Fprintf(os.Stderr, "vaultproxy-proxy: session established %s\n", sessionID)

	return relayLoop(sessionID, ch)
}

func bootstrapClientKeys(dir string) (*keystore.KeyBundle, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		bundle, err := keystore.Generate()
		if err != nil {
			return nil, err
		}
		if err := keystore.SaveToDir(dir, bundle); err != nil {
			return nil, err
		}
		return bundle, nil
	}
	return keystore.LoadFromDir(dir)
}

func establishChannel(clientKeys *keystore.KeyBundle, serverSigningPub ed25519.PublicKey) (string, *channel.Channel, error) {
	initiator := handshake.NewInitiator(clientKeys, serverSigningPub)

	initBytes, state, err := initiator.BuildInit()
	if err != nil {
		return "", nil, fmt.Errorf("build init: %w", err)
	}

	initResp, err := httpClient.Post(serverURL+"/handshake/init", "application/json", bytes.NewReader(initBytes))
	if err != nil {
		return "", nil, fmt.Errorf("post init: %w", err)
	}
	defer initResp.Body.Close()
	if initResp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("init rejected: status %d", initResp.StatusCode)
	}
	sessionID := initResp.Header.Get("X-Session-Id")
	if sessionID == "" {
		return "", nil, fmt.Errorf("init response missing X-Session-Id")
	}
	replyBytes, err := io.ReadAll(initResp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read init reply: %w", err)
	}

	ch, err := initiator.ProcessReply(state, initBytes, replyBytes)
	if err != nil {
		return "", nil, fmt.Errorf("process reply: %w", err)
	}

	finishFrame, err := initiator.BuildFinish(ch)
	if err != nil {
		return "", nil, fmt.Errorf("build finish: %w", err)
	}

	finishReq, err := http.NewRequest(http.MethodPost, serverURL+"/handshake/finish", bytes.NewReader(finishFrame))
	if err != nil {
		return "", nil, err
	}
	finishReq.Header.Set("X-Session-Id", sessionID)
	finishResp, err := httpClient.Do(finishReq)
	if err != nil {
		return "", nil, fmt.Errorf("post finish: %w", err)
	}
	defer finishResp.Body.Close()
	if finishResp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("finish rejected: status %d", finishResp.StatusCode)
	}

	return sessionID, ch, nil
}

// relayLoop reads one tool call per stdin line until EOF, sends each
// through the encrypted channel, and writes the decrypted proxy_response
// back to stdout as a single JSON line.
func relayLoop(sessionID string, ch *channel.Channel) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var call toolCallLine
		if err := json.Unmarshal(line, &call); err != nil {
			fmt.Fprintf(os.Stderr, "vaultproxy-proxy: skipping malformed line: %v\n", err)
			continue
		}

		resp, err := sendToolCall(sessionID, ch, call)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vaultproxy-proxy: request failed: %v\n", err)
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	return scanner.Err()
}

func sendToolCall(sessionID string, ch *channel.Channel, call toolCallLine) (*gateway.ProxyResponse, error) {
	req := gateway.ProxyRequest{
		Type:      "proxy_request",
		ID:        call.ID,
		ToolName:  call.ToolName,
		ToolInput: call.ToolInput,
		Timestamp: time.Now().Unix(),
	}
	plaintext, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	frame, err := ch.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, serverURL+"/request", bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Session-Id", sessionID)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request rejected: status %d", resp.StatusCode)
	}

	replyFrame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	respPlaintext, err := ch.Decrypt(replyFrame)
	if err != nil {
		return nil, fmt.Errorf("decrypt response: %w", err)
	}

	var proxyResp gateway.ProxyResponse
	if err := json.Unmarshal(respPlaintext, &proxyResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &proxyResp, nil
}
