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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vaultproxy/internal/config"
	"vaultproxy/internal/logger"
	"vaultproxy/internal/metrics"
	"vaultproxy/pkg/gateway"
	"vaultproxy/pkg/handshake"
	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/ingestor/poll"
	"vaultproxy/pkg/ingestor/webhook"
	"vaultproxy/pkg/ingestor/websocket"
	"vaultproxy/pkg/keystore"
	"vaultproxy/pkg/ringbuffer"
	"vaultproxy/pkg/route"
	"vaultproxy/pkg/session"
)

const shutdownGrace = 10 * time.Second

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remote gateway server",
	Long: `serve loads the remote server configuration, establishes the server's own
identity, resolves every authorized caller's routes and ingestors, and starts
serving the plaintext HTTP surface described in spec.md §6 until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "./vaultproxy.yaml", "path to the server configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.NewDefaultLogger()

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var keys *keystore.KeyBundle
	var peers []route.AuthorizedPeer

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		k, err := bootstrapServerKeys(cfg.KeyDir)
		if err != nil {
			return fmt.Errorf("server identity: %w", err)
		}
		keys = k
		return nil
	})
	g.Go(func() error {
		p, err := config.LoadAuthorizedPeers(cfg)
		if err != nil {
			return fmt.Errorf("load authorized peers: %w", err)
		}
		peers = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("identity loaded", logger.String("fingerprint", keys.Signing.Fingerprint()))
	log.Info("authorized peers loaded", logger.Int("count", len(peers)))

	processEnv := config.ProcessEnv()
	bootEpoch := time.Now().Unix()

	responder := handshake.NewResponder(keys, peers, log)
	sessions := session.NewManager(cfg.RateLimitPerMinute, log)
	ingestors := ingestor.NewManager(log)

	// Explicit registration, not init()-on-import: provider availability
	// follows this call order, never implicit module-load ordering.
	websocket.Register()
	poll.Register()
	webhook.Register()

	conns := config.RegisteredConnections(cfg, processEnv, ringbuffer.DefaultCapacity, bootEpoch, log)
	ingestors.StartAll(conns)
	log.Info("ingestors started", logger.Int("registered", len(conns)))

	resolver := gateway.RouteResolver(func(callerAlias string) ([]*route.ResolvedRoute, error) {
		return config.ResolveCallerRoutes(cfg, callerAlias, processEnv, log)
	})

	gw := gateway.NewServer(responder, sessions, ingestors, resolver, log)
	mux := gw.Routes()
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilInterrupted(httpServer, sessions, ingestors, log)
}

// bootstrapServerKeys loads the server's identity from dir, generating and
// persisting a fresh one on first run.
func bootstrapServerKeys(dir string) (*keystore.KeyBundle, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		bundle, err := keystore.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if err := keystore.SaveToDir(dir, bundle); err != nil {
			return nil, fmt.Errorf("save: %w", err)
		}
		return bundle, nil
	}
	return keystore.LoadFromDir(dir)
}

// serveUntilInterrupted runs the HTTP listener and a signal-wait goroutine
// concurrently, joining on the first of them to finish: either the listener
// dies unexpectedly, or SIGINT/SIGTERM arrives and drives the shutdown
// sequence spec.md §5 requires — stop ingestors, close the listening
// socket, then drain in-flight requests within shutdownGrace before
// aborting.
func serveUntilInterrupted(httpServer *http.Server, sessions *session.Manager, ingestors *ingestor.Manager, log logger.Logger) error {
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		log.Info("listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-ctx.Done():
			return ctx.Err()
		}

		log.Info("shutdown signal received")
		ingestors.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		sessions.Close()
		log.Info("shutdown complete")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
