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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vaultproxy-server",
	Short: "vaultproxy remote gateway - multi-tenant secrets-isolation server",
	Long: `vaultproxy-server runs the remote half of the secrets-isolation gateway:
it terminates the Noise-NK-inspired handshake from authorized callers, holds
their per-caller route and secret configuration in memory only, and serves
their encrypted tool-call traffic and registered event ingestors.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Note: commands are registered in their respective files
	// - serve.go: serveCmd
	// - keygen.go: keygenCmd
}
