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

// vaultproxy-proxy is the local half of the secrets-isolation gateway: a
// thin encrypt/decrypt shim that turns (toolName, toolInput) lines read from
// stdin into encrypted /request calls against the remote gateway, and
// writes each decrypted proxy_response back to stdout as a JSON line. The
// tool-call transport this binary sits behind (an MCP stdio server, an
// agent framework's plugin loader, whatever process spawns it) is out of
// scope — this is the minimal standalone shim that makes the handshake and
// channel packages runnable end to end without one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	clientKeyDir string
	serverKeyDir string
)

var rootCmd = &cobra.Command{
	Use:   "vaultproxy-proxy",
	Short: "vaultproxy local proxy - encrypted stdio shim to the remote gateway",
	Long: `vaultproxy-proxy establishes a Noise-NK-inspired handshake with a remote
vaultproxy-server, then relays newline-delimited tool calls read from stdin
through the resulting encrypted channel, writing each response back to
stdout as a JSON line.`,
	RunE: runProxy,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "https://127.0.0.1:8443", "base URL of the remote vaultproxy-server")
	rootCmd.Flags().StringVarP(&clientKeyDir, "client-keys", "k", "./keys", "directory holding this caller's own key bundle")
	rootCmd.Flags().StringVarP(&serverKeyDir, "server-keys", "p", "./server-pubkey", "directory holding the remote server's public key bundle")
}
