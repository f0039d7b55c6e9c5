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

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/handshake"
	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/keystore"
	"vaultproxy/pkg/route"
	"vaultproxy/pkg/session"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() logger.Logger {
	return logger.NewLogger(nopWriter{}, logger.ErrorLevel)
}

// testGateway wires a Server behind an httptest.Server and returns both, plus
// the caller's keys so tests can complete the handshake as a client would.
func testGateway(t *testing.T, resolver RouteResolver, rateLimitPerMinute int) (*httptest.Server, *keystore.KeyBundle, *keystore.KeyBundle) {
	t.Helper()

	callerKeys, err := keystore.Generate()
	require.NoError(t, err)
	serverKeys, err := keystore.Generate()
	require.NoError(t, err)

	peers := []route.AuthorizedPeer{{Alias: "acme", Keys: callerKeys.Public()}}
	responder := handshake.NewResponder(serverKeys, peers, testLogger())
	sessions := session.NewManager(rateLimitPerMinute, testLogger())
	ingestors := ingestor.NewManager(testLogger())

	if resolver == nil {
		resolver = func(string) ([]*route.ResolvedRoute, error) { return nil, nil }
	}

	srv := NewServer(responder, sessions, ingestors, resolver, testLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		sessions.Close()
	})
	return ts, callerKeys, serverKeys
}

// establishSession drives the full HTTP handshake as a client would and
// returns the ready-to-use initiator-side Channel plus the sessionId.
func establishSession(t *testing.T, ts *httptest.Server, callerKeys, serverKeys *keystore.KeyBundle) (string, *handshake.Initiator, *channelPair) {
	t.Helper()

	initiator := handshake.NewInitiator(callerKeys, serverKeys.Signing.Public)
	initBytes, state, err := initiator.BuildInit()
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/handshake/init", "application/json", bytes.NewReader(initBytes))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("X-Session-Id")
	require.NotEmpty(t, sessionID)

	var replyBytes bytes.Buffer
	_, err = replyBytes.ReadFrom(resp.Body)
	require.NoError(t, err)

	ch, err := initiator.ProcessReply(state, initBytes, replyBytes.Bytes())
	require.NoError(t, err)

	finishFrame, err := initiator.BuildFinish(ch)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/handshake/finish", bytes.NewReader(finishFrame))
	require.NoError(t, err)
	req.Header.Set("X-Session-Id", sessionID)
	finishResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer finishResp.Body.Close()
	require.Equal(t, http.StatusOK, finishResp.StatusCode)

	return sessionID, initiator, &channelPair{ch: ch}
}

// channelPair is a thin helper so tests can encrypt a ProxyRequest and
// decrypt its ProxyResponse without repeating the framing boilerplate.
type channelPair struct {
	ch interface {
		Encrypt([]byte) ([]byte, error)
		Decrypt([]byte) ([]byte, error)
	}
}

func sendToolCall(t *testing.T, ts *httptest.Server, sessionID string, cp *channelPair, toolName string, input any) ProxyResponse {
	t.Helper()

	inputBytes, err := json.Marshal(input)
	require.NoError(t, err)

	reqMsg := ProxyRequest{Type: "proxy_request", ID: "req-1", ToolName: toolName, ToolInput: inputBytes, Timestamp: time.Now().Unix()}
	plaintext, err := json.Marshal(reqMsg)
	require.NoError(t, err)

	frame, err := cp.ch.Encrypt(plaintext)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/request", bytes.NewReader(frame))
	require.NoError(t, err)
	req.Header.Set("X-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var respFrame bytes.Buffer
	_, err = respFrame.ReadFrom(resp.Body)
	require.NoError(t, err)

	respPlaintext, err := cp.ch.Decrypt(respFrame.Bytes())
	require.NoError(t, err)

	var proxyResp ProxyResponse
	require.NoError(t, json.Unmarshal(respPlaintext, &proxyResp))
	return proxyResp
}

func TestHandshakeThenListRoutesRoundTrip(t *testing.T) {
	routes := []*route.Route{{
		Alias:            "github",
		AllowedEndpoints: []string{"https://api.github.com/**"},
		Secrets:          map[string]string{"TOKEN": "gh-secret"},
		Headers:          map[string]string{"Authorization": "Bearer ${TOKEN}"},
	}}
	resolver := func(alias string) ([]*route.ResolvedRoute, error) {
		out := make([]*route.ResolvedRoute, 0, len(routes))
		for _, r := range routes {
			out = append(out, route.Resolve(r, nil, nil, testLogger()))
		}
		return out, nil
	}

	ts, callerKeys, serverKeys := testGateway(t, resolver, 0)
	sessionID, _, cp := establishSession(t, ts, callerKeys, serverKeys)

	resp := sendToolCall(t, ts, sessionID, cp, "list_routes", map[string]any{})
	require.True(t, resp.Success)

	listed, ok := resp.Result.([]any)
	require.True(t, ok)
	require.Len(t, listed, 1)
}

func TestHTTPRequestRejectsURLNotOnAllowlist(t *testing.T) {
	resolver := func(alias string) ([]*route.ResolvedRoute, error) {
		r := &route.Route{Alias: "github", AllowedEndpoints: []string{"https://api.github.com/**"}}
		return []*route.ResolvedRoute{route.Resolve(r, nil, nil, testLogger())}, nil
	}
	ts, callerKeys, serverKeys := testGateway(t, resolver, 0)
	sessionID, _, cp := establishSession(t, ts, callerKeys, serverKeys)

	resp := sendToolCall(t, ts, sessionID, cp, "http_request", map[string]any{
		"method": "GET",
		"url":    "https://evil.example.com/steal",
	})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, gatewayerrors.ErrRouteDenied.Error())
}

func TestUnknownToolReturnsEncryptedError(t *testing.T) {
	ts, callerKeys, serverKeys := testGateway(t, nil, 0)
	sessionID, _, cp := establishSession(t, ts, callerKeys, serverKeys)

	resp := sendToolCall(t, ts, sessionID, cp, "delete_everything", map[string]any{})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, gatewayerrors.ErrUnknownTool.Error())
}

func TestRequestWithUnknownSessionIsUnauthorized(t *testing.T) {
	ts, _, _ := testGateway(t, nil, 0)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/request", bytes.NewReader([]byte("garbage")))
	require.NoError(t, err)
	req.Header.Set("X-Session-Id", "does-not-exist")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestExceedingRateLimitIsTooManyRequests(t *testing.T) {
	ts, callerKeys, serverKeys := testGateway(t, nil, 1)
	sessionID, _, cp := establishSession(t, ts, callerKeys, serverKeys)

	first := sendToolCall(t, ts, sessionID, cp, "ingestor_status", map[string]any{})
	require.True(t, first.Success)

	inputBytes, err := json.Marshal(map[string]any{})
	require.NoError(t, err)
	reqMsg := ProxyRequest{Type: "proxy_request", ID: "req-2", ToolName: "ingestor_status", ToolInput: inputBytes, Timestamp: time.Now().Unix()}
	plaintext, err := json.Marshal(reqMsg)
	require.NoError(t, err)
	frame, err := cp.ch.Encrypt(plaintext)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/request", bytes.NewReader(frame))
	require.NoError(t, err)
	req.Header.Set("X-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthReportsActiveSessionCount(t *testing.T) {
	ts, callerKeys, serverKeys := testGateway(t, nil, 0)
	establishSession(t, ts, callerKeys, serverKeys)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(1), body["activeSessions"])
}

func TestWebhookReturns404WhenNoIngestorRegistered(t *testing.T) {
	ts, _, _ := testGateway(t, nil, 0)

	resp, err := http.Post(ts.URL+"/webhooks/github", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
