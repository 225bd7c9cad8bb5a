// Copyright 2025 Chainraise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.BindAddr)
	assert.Equal(t, uint(8080), cfg.ApiPort)
	assert.Equal(t, uint(12798), cfg.MetricsPort)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	content := []byte(
		"providerUrl: http://localhost:9999/logs\n" +
			"relayUrl: http://localhost:8555/submit\n" +
			"requiredConfirmations: 6\n" +
			"votingPeriod: 48h\n",
	)
	require.NoError(t, os.WriteFile(configFile, content, 0o600))
	cfg, err := LoadConfig(configFile)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/logs", cfg.ProviderURL)
	assert.Equal(t, "http://localhost:8555/submit", cfg.RelayURL)
	assert.Equal(t, uint64(6), cfg.RequiredConfirmations)
	assert.Equal(t, "48h", cfg.VotingPeriod)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CHAINRAISE_PROVIDER_URL", "http://override:9999/logs")
	t.Setenv("CHAINRAISE_DATA_DIR", "/var/lib/chainraise")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://override:9999/logs", cfg.ProviderURL)
	assert.Equal(t, "/var/lib/chainraise", cfg.DataDir)
}

func TestConfigContext(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/x"}
	ctx := WithContext(context.Background(), cfg)
	assert.Equal(t, cfg, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
