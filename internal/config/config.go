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
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "chainraise.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir               string `yaml:"dataDir"                                                          split_words:"true"`
	BindAddr              string `yaml:"bindAddr"                                                         split_words:"true"`
	ApiPort               uint   `yaml:"apiPort"               envconfig:"port"`
	MetricsPort           uint   `yaml:"metricsPort"                                                      split_words:"true"`
	ProviderURL           string `yaml:"providerUrl"           envconfig:"CHAINRAISE_PROVIDER_URL"`
	RelayURL              string `yaml:"relayUrl"              envconfig:"CHAINRAISE_RELAY_URL"`
	ReleaseContract       string `yaml:"releaseContract"                                                  split_words:"true"`
	PushGatewayURL        string `yaml:"pushGatewayUrl"        envconfig:"CHAINRAISE_PUSH_GATEWAY_URL"`
	EmailGatewayURL       string `yaml:"emailGatewayUrl"       envconfig:"CHAINRAISE_EMAIL_GATEWAY_URL"`
	RequiredConfirmations uint64 `yaml:"requiredConfirmations"                                            split_words:"true"`
	PollInterval          string `yaml:"pollInterval"                                                     split_words:"true"`
	ConfirmationTimeout   string `yaml:"confirmationTimeout"                                              split_words:"true"`
	VotingPeriod          string `yaml:"votingPeriod"                                                     split_words:"true"`
	ShutdownTimeout       string `yaml:"shutdownTimeout"                                                  split_words:"true"`
	Tracing               bool   `yaml:"tracing"`
	TracingStdout         bool   `yaml:"tracingStdout"                                                    split_words:"true"`
}

var globalConfig = &Config{
	BindAddr:        "0.0.0.0",
	ApiPort:         8080,
	MetricsPort:     12798,
	DataDir:         ".chainraise",
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("chainraise", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
