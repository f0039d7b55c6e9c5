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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/route"
)

// outboundClient is shared by every http_request dispatch; 30s covers any
// well-behaved upstream API without letting one stalled call pin a
// request-pipeline goroutine indefinitely.
var outboundClient = &http.Client{Timeout: 30 * time.Second}

type httpRequestInput struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// httpResponse is the shape returned to the caller for every http_request
// call: {status, statusText, headers: flat map, body}.
type httpResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

func handleHTTPRequest(input json.RawMessage, routes []*route.ResolvedRoute, _ ToolContext) (any, error) {
	var in httpRequestInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("http_request: invalid input: %w", err)
	}
	if in.Method == "" {
		in.Method = http.MethodGet
	}

	matched, dispatchURL, ok := route.SelectRoute(routes, in.URL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gatewayerrors.ErrRouteDenied, in.URL)
	}

	hasStructuredBody := in.Body != nil
	if _, isString := in.Body.(string); isString {
		hasStructuredBody = false
	}

	headers, err := route.BuildHeaders(matched, in.Headers, hasStructuredBody)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := resolveBody(matched, in.Body)
	if err != nil {
		return nil, fmt.Errorf("http_request: encode body: %w", err)
	}

	// Final allowlist re-check on the fully resolved URL, belt-and-braces
	// against substitution tricks in the client-supplied URL itself.
	if !matched.IsEndpointAllowed(dispatchURL) {
		return nil, fmt.Errorf("%w: %s", gatewayerrors.ErrRouteDenied, dispatchURL)
	}

	return fetch(in.Method, dispatchURL, headers, bodyBytes)
}

// resolveBody implements spec.md §4.3's body policy: pass through
// unchanged unless the matched route opts into resolveSecretsInBody, in
// which case string placeholders are substituted using only that route's
// own secrets.
func resolveBody(r *route.ResolvedRoute, body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	if s, ok := body.(string); ok {
		if r.ResolveSecretsInBody {
			substituted, _ := route.ResolvePlaceholders(s, r.Secrets)
			return []byte(substituted), nil
		}
		return []byte(s), nil
	}

	if r.ResolveSecretsInBody {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		substituted, _ := route.ResolvePlaceholders(string(raw), r.Secrets)
		return []byte(substituted), nil
	}
	return json.Marshal(body)
}

func fetch(method, url string, headers map[string]string, body []byte) (*httpResponse, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewayerrors.ErrUpstreamFailure, err)
	}
	for key, val := range headers {
		req.Header.Set(key, val)
	}

	resp, err := outboundClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewayerrors.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", gatewayerrors.ErrUpstreamFailure, err)
	}

	flatHeaders := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		flatHeaders[key] = resp.Header.Get(key)
	}

	var decodedBody any = string(respBody)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(respBody) > 0 {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			decodedBody = parsed
		}
	}

	return &httpResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    flatHeaders,
		Body:       decodedBody,
	}, nil
}
