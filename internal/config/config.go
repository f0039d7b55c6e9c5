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

// Package config loads the remote gateway's boot-time configuration: the
// connector pool, the authorized callers and their connection lists, and
// the process-wide settings the CLI needs before it can start accepting
// handshakes. YAML is the on-disk format (the module already carries
// gopkg.in/yaml.v3 for it); ${VAR} placeholders inside route definitions
// are left untouched here and resolved later, per caller, by pkg/route.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vaultproxy/pkg/route"
)

// RemoteServerConfig is the whole of the remote gateway's boot-time
// configuration: where its listen address and identity keys live, the
// shared connector pool, and the callers authorized to use it.
type RemoteServerConfig struct {
	ListenAddr         string                  `yaml:"listenAddr"`
	KeyDir             string                  `yaml:"keyDir"`
	RateLimitPerMinute int                     `yaml:"rateLimitPerMinute"`
	Connectors         map[string]route.Route  `yaml:"connectors"`
	Callers            map[string]CallerConfig `yaml:"callers"`
}

// CallerConfig is the on-disk shape of one authorized caller entry: its
// signing/exchange public keys (loaded separately from PeerKeyDir) and the
// connector aliases it may use.
type CallerConfig = route.CallerConfig

// EnvFilePath is the dotenv file loaded into process.env before any
// placeholder resolution happens, mirroring how the teacher's services
// load a .env alongside their YAML config rather than requiring every
// secret to be exported by the caller's shell.
const EnvFilePath = ".env"

// Load reads and parses a RemoteServerConfig from path, first loading any
// sibling .env file (missing is not an error — plenty of deployments
// inject secrets directly into the environment instead).
func Load(path string) (*RemoteServerConfig, error) {
	envPath := filepath.Join(filepath.Dir(path), EnvFilePath)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg RemoteServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8443"
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = "./keys"
	}

	return &cfg, nil
}

// ProcessEnv snapshots os.Environ() into the map form pkg/route's resolver
// expects. Captured once at startup — spec.md §5 treats process.env as
// read-only after boot.
func ProcessEnv() map[string]string {
	environ := os.Environ()
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
