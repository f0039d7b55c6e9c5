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

	"vaultproxy/pkg/keystore"
)

var keygenDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fresh identity key bundle",
	Long: `Generate a fresh Ed25519 signing pair and X25519 exchange pair and write
them to --dir as PEM files. Run once for the server's own identity, and once
per caller to produce the public half that goes in that caller's peerKeyDir.`,
	Example: `  # Generate the server's own identity
  vaultproxy-server keygen --dir ./keys

  # Generate a caller's identity, then copy *.pub.pem into its peerKeyDir
  vaultproxy-server keygen --dir ./callers/acme-keys`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenDir, "dir", "d", "./keys", "directory to write the key bundle into")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	bundle, err := keystore.Generate()
	if err != nil {
		return fmt.Errorf("generate key bundle: %w", err)
	}

	if err := keystore.SaveToDir(keygenDir, bundle); err != nil {
		return fmt.Errorf("save key bundle: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Key bundle written to %s\n", keygenDir)
	fmt.Fprintf(os.Stdout, "  %s\n", bundle.Describe())
	return nil
}
