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

// Package poll implements the interval-scheduled HTTP poll ingestor.
package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/route"
)

const (
	minInterval           = 5 * time.Second
	maxConsecutiveErrors  = 10
	defaultEventType      = "poll"
	defaultDedupSeenLimit = 500
)

// Config is the protocol-specific configuration for a poll connection.
type Config struct {
	URL           string
	IntervalMs    int
	Method        string
	Body          string
	Headers       map[string]string
	ResponsePath  string
	EventType     string
	DeduplicateBy string

	RouteHeaders map[string]string
	Secrets      map[string]string
}

// Poll is the interval-driven poll ingestor described in spec.md §4.9.
type Poll struct {
	*ingestor.Base
	cfg      Config
	interval time.Duration
	client   *http.Client

	mu                sync.Mutex
	cancel            context.CancelFunc
	consecutiveErrors int
	seen              map[string]struct{}
	seenOrder         []string
}

// New builds a Poll ingestor. The configured interval is clamped up to
// minInterval regardless of what the caller asked for.
func New(base *ingestor.Base, cfg Config) *Poll {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < minInterval {
		interval = minInterval
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	cfg.Method = method

	return &Poll{
		Base:     base,
		cfg:      cfg,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		seen:     make(map[string]struct{}),
	}
}

// Start fires the initial poll immediately, then arms the interval timer.
func (p *Poll) Start() error {
	p.SetState(ingestor.StateConnected, "")

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.pollOnce(ctx)
	go p.loop(ctx)
	return nil
}

// Stop cancels the outstanding timer and any in-flight poll.
func (p *Poll) Stop() {
	p.SetState(ingestor.StateStopped, "")
	p.cancelTimer()
}

// cancelTimer tears down the interval timer without touching lifecycle
// state — used both by Stop and by the terminal-error path, which must
// leave the state as StateError rather than overwrite it with stopped.
func (p *Poll) cancelTimer() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *Poll) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.State() == ingestor.StateStopped {
				return
			}
			p.pollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poll) pollOnce(ctx context.Context) {
	items, err := p.fetch(ctx)
	if err != nil {
		p.recordError(err)
		return
	}
	p.recordSuccess()

	for _, item := range items {
		p.pushItem(item)
	}
}

func (p *Poll) fetch(ctx context.Context) ([]any, error) {
	url, _ := route.ResolvePlaceholders(p.cfg.URL, p.cfg.Secrets)

	var bodyReader *bytes.Reader
	if p.cfg.Method != http.MethodGet && p.cfg.Body != "" {
		substituted, _ := route.ResolvePlaceholders(p.cfg.Body, p.cfg.Secrets)
		bodyReader = bytes.NewReader([]byte(substituted))
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for key, val := range p.cfg.RouteHeaders {
		substituted, _ := route.ResolvePlaceholders(val, p.cfg.Secrets)
		req.Header.Set(key, substituted)
	}
	for key, val := range p.cfg.Headers {
		substituted, _ := route.ResolvePlaceholders(val, p.cfg.Secrets)
		req.Header.Set(key, substituted)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}

	var parsed any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return extractItems(parsed, p.cfg.ResponsePath)
}

// extractItems walks dot-separated keys in path into parsed, then asserts
// the result is a JSON array.
func extractItems(parsed any, path string) ([]any, error) {
	current := parsed
	if path != "" {
		for _, key := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("response path %q: %q is not an object", path, key)
			}
			current, ok = obj[key]
			if !ok {
				return nil, fmt.Errorf("response path %q: missing key %q", path, key)
			}
		}
	}

	items, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("response path %q did not resolve to an array", path)
	}
	return items, nil
}

func (p *Poll) pushItem(item any) {
	eventType := p.cfg.EventType
	if eventType == "" {
		eventType = defaultEventType
	}

	key := ""
	if p.cfg.DeduplicateBy != "" {
		if obj, ok := item.(map[string]any); ok {
			if v, ok := obj[p.cfg.DeduplicateBy]; ok {
				candidate := fmt.Sprintf("%v", v)
				if p.isDuplicate(candidate) {
					return
				}
				p.remember(candidate)
				key = candidate
			}
		}
	}

	p.PushEvent(eventType, item, key)
}

func (p *Poll) isDuplicate(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, dup := p.seen[key]
	return dup
}

func (p *Poll) remember(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[key] = struct{}{}
	p.seenOrder = append(p.seenOrder, key)
	if len(p.seenOrder) > defaultDedupSeenLimit {
		oldest := p.seenOrder[0]
		p.seenOrder = p.seenOrder[1:]
		delete(p.seen, oldest)
	}
}

func (p *Poll) recordError(err error) {
	p.mu.Lock()
	p.consecutiveErrors++
	count := p.consecutiveErrors
	p.mu.Unlock()

	if count >= maxConsecutiveErrors {
		p.SetState(ingestor.StateError, fmt.Sprintf("exceeded %d consecutive poll errors: %v", maxConsecutiveErrors, err))
		p.cancelTimer()
		return
	}
	p.SetState(ingestor.StateReconnecting, err.Error())
}

func (p *Poll) recordSuccess() {
	p.mu.Lock()
	p.consecutiveErrors = 0
	p.mu.Unlock()
	p.SetState(ingestor.StateConnected, "")
}
