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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vaultproxy/internal/logger"
	"vaultproxy/internal/metrics"
	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/handshake"
	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/ingestor/webhook"
	"vaultproxy/pkg/route"
	"vaultproxy/pkg/session"
)

// RouteResolver resolves a caller alias into the []*route.ResolvedRoute
// pinned into its Session at handshake-finish time. Supplied by the boot
// sequence so this package never depends on config-file parsing directly —
// the same MessageHandler-injection shape the teacher's HTTP adapter uses
// for application logic it doesn't own.
type RouteResolver func(callerAlias string) ([]*route.ResolvedRoute, error)

// Server is the remote gateway's plaintext HTTP surface: handshake
// endpoints, the encrypted /request endpoint, webhook fan-out, and health.
type Server struct {
	responder     *handshake.Responder
	sessions      *session.Manager
	ingestors     *ingestor.Manager
	routeResolver RouteResolver
	log           logger.Logger
	startedAt     time.Time
}

// NewServer builds a Server wiring the handshake responder, session
// manager, and ingestor manager together behind the HTTP surface spec.md
// §6 describes.
func NewServer(responder *handshake.Responder, sessions *session.Manager, ingestors *ingestor.Manager, routeResolver RouteResolver, log logger.Logger) *Server {
	return &Server{
		responder:     responder,
		sessions:      sessions,
		ingestors:     ingestors,
		routeResolver: routeResolver,
		log:           log,
		startedAt:     time.Now(),
	}
}

// Routes builds the http.ServeMux the boot sequence hands to http.Server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /handshake/init", s.handleHandshakeInit)
	mux.HandleFunc("POST /handshake/finish", s.handleHandshakeFinish)
	mux.HandleFunc("POST /request", s.handleRequest)
	mux.HandleFunc("POST /webhooks/{path}", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleHandshakeInit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusForbidden, "failed to read request body")
		return
	}

	replyBytes, pending, err := s.responder.HandleInit(body)
	if err != nil {
		s.log.Warn("handshake init rejected", logger.Error(err))
		writeJSONError(w, http.StatusForbidden, "handshake rejected")
		return
	}

	s.sessions.StorePending(pending)
	w.Header().Set("X-Session-Id", pending.SessionID)
	// The reply bytes are written verbatim: the initiator hashes exactly what
	// it receives into the transcript, so no re-encoding (or trailing newline).
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(replyBytes)
}

func (s *Server) handleHandshakeFinish(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-Id")
	if sessionID == "" {
		writeJSONError(w, http.StatusNotFound, "missing X-Session-Id")
		return
	}

	pending, ok := s.sessions.GetPending(sessionID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no pending handshake for session")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusForbidden, "failed to read request body")
		return
	}

	if err := s.responder.HandleFinish(pending, body); err != nil {
		s.sessions.DropPending(sessionID)
		writeJSONError(w, http.StatusForbidden, "handshake finish rejected")
		return
	}

	resolvedRoutes, err := s.routeResolver(pending.CallerAlias)
	if err != nil {
		s.log.Error("route resolution failed at handshake finish",
			logger.String("caller", pending.CallerAlias), logger.Error(err))
		s.sessions.DropPending(sessionID)
		writeJSONError(w, http.StatusForbidden, "route resolution failed")
		return
	}

	established := s.sessions.Promote(pending, resolvedRoutes)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "established",
		"sessionId": established.ID,
	})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-Id")
	sess, ok := s.sessions.GetSession(sessionID)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "session not found")
		return
	}

	if !s.sessions.CheckRateLimit(sess) {
		s.log.Warn("rate_limited", logger.String("caller", sess.CallerAlias), logger.String("sessionId", sessionID))
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	frame, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sess.Lock()
	defer sess.Unlock()

	replyFrame, fatal := s.processRequest(sess, frame)
	if fatal {
		s.sessions.DestroySession(sessionID)
		writeJSONError(w, http.StatusInternalServerError, "session channel broken, rehandshake required")
		return
	}

	sess.Touch(time.Now())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(replyFrame)
}

// processRequest runs decrypt → dispatch → encrypt under the caller's held
// session lock. Every error after decrypt succeeds is reported as an
// encrypted proxy_response, never as an HTTP status, per spec.md §7's
// policy that post-handshake failures travel through the channel. Only a
// failure to even encrypt that response (channel broken) is fatal, in
// which case the bool return is true and the session must be torn down.
func (s *Server) processRequest(sess *session.Session, frame []byte) (replyFrame []byte, fatal bool) {
	plaintext, err := sess.Channel.Decrypt(frame)
	if err != nil {
		s.log.Warn("decrypt failed", logger.String("sessionId", sess.ID), logger.Error(err))
		return s.encryptedError(sess, "", err.Error())
	}

	var req ProxyRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return s.encryptedError(sess, "", "malformed request")
	}

	start := time.Now()
	result, err := Dispatch(req.ToolName, req.ToolInput, sess.ResolvedRoutes, ToolContext{
		CallerAlias:     sess.CallerAlias,
		IngestorManager: s.ingestors,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(req.ToolName, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.ToolName).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gatewayerrors.ErrRouteDenied) {
			metrics.RouteDenied.WithLabelValues("no_match").Inc()
		}
		if errors.Is(err, gatewayerrors.ErrHeaderConflict) {
			metrics.RouteDenied.WithLabelValues("header_conflict").Inc()
		}
		return s.encryptedError(sess, req.ID, err.Error())
	}

	resp := ProxyResponse{Type: "proxy_response", ID: req.ID, Success: true, Result: result, Timestamp: time.Now().Unix()}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		return s.encryptedError(sess, req.ID, "failed to marshal response")
	}

	replyFrame, encErr := sess.Channel.Encrypt(respBytes)
	if encErr != nil {
		s.log.Error("encrypt failed, destroying session", logger.String("sessionId", sess.ID), logger.Error(encErr))
		return nil, true
	}
	return replyFrame, false
}

func (s *Server) encryptedError(sess *session.Session, id, message string) (replyFrame []byte, fatal bool) {
	resp := ProxyResponse{Type: "proxy_response", ID: id, Success: false, Error: message, Timestamp: time.Now().Unix()}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		return nil, true
	}
	frame, err := sess.Channel.Encrypt(respBytes)
	if err != nil {
		s.log.Error("failed to encrypt error response, destroying session", logger.String("sessionId", sess.ID), logger.Error(err))
		return nil, true
	}
	return frame, false
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outcome := webhook.Dispatch(s.ingestors, path, r.Header, body)
	switch outcome.StatusCode {
	case http.StatusOK:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case http.StatusNotFound:
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no ingestor registered for path %q", path))
	default:
		writeJSON(w, http.StatusForbidden, map[string]any{
			"received":   false,
			"rejections": outcome.Rejections,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": s.sessions.ActiveSessionCount(),
		"uptime":         time.Since(s.startedAt).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("gateway: failed to encode JSON response: %v\n", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
