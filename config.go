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

package chainraise

import (
	"io"
	"log/slog"
	"time"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/milestone"
	"github.com/chainraise/chainraise/notify"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	logSource    chainevent.LogSource
	voterSource  milestone.VoterSource
	recipients   notify.RecipientResolver
	settings     notify.SettingsSource
	dataDir      string
	// API listen address (empty = disabled)
	apiListenAddress string
	// Relay submit endpoint (empty = fund release disabled)
	relayURL string
	// Milestone escrow contract address
	releaseContract string
	// Push/email gateway endpoints (empty = channel disabled)
	pushGatewayURL        string
	emailGatewayURL       string
	requiredConfirmations uint64
	pollInterval          time.Duration
	confirmationTimeout   time.Duration
	votingPeriod          time.Duration
	shutdownTimeout       time.Duration
	tracing               bool
	tracingStdout         bool
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new engine config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies the prometheus registry for engine metrics
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLogSource specifies the chain event provider to ingest from
func WithLogSource(source chainevent.LogSource) ConfigOptionFunc {
	return func(c *Config) {
		c.logSource = source
	}
}

// WithVoterSource specifies how milestone-vote eligibility snapshots are
// resolved. The default is the project owner with power 1
func WithVoterSource(source milestone.VoterSource) ConfigOptionFunc {
	return func(c *Config) {
		c.voterSource = source
	}
}

// WithRecipientResolver specifies how notification recipients are resolved.
// The default is the owning project's owner
func WithRecipientResolver(
	resolver notify.RecipientResolver,
) ConfigOptionFunc {
	return func(c *Config) {
		c.recipients = resolver
	}
}

// WithNotificationSettings specifies the per-user notification settings
// source. The default delivers everything
func WithNotificationSettings(
	settings notify.SettingsSource,
) ConfigOptionFunc {
	return func(c *Config) {
		c.settings = settings
	}
}

// WithApiListenAddress specifies the HTTP API listen address. The default is to not listen
func WithApiListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = address
	}
}

// WithRelayURL specifies the transaction signing relay's submit endpoint
func WithRelayURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.relayURL = url
	}
}

// WithReleaseContract specifies the milestone escrow contract address
func WithReleaseContract(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.releaseContract = address
	}
}

// WithPushGatewayURL specifies the push notification gateway endpoint
func WithPushGatewayURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.pushGatewayURL = url
	}
}

// WithEmailGatewayURL specifies the email delivery gateway endpoint
func WithEmailGatewayURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.emailGatewayURL = url
	}
}

// WithRequiredConfirmations specifies the confirmation depth for submitted transactions
func WithRequiredConfirmations(confirmations uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.requiredConfirmations = confirmations
	}
}

// WithPollInterval specifies the chain event polling interval
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithConfirmationTimeout specifies how long a submitted transaction may
// stay unconfirmed before it fails with reason timeout
func WithConfirmationTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.confirmationTimeout = timeout
	}
}

// WithVotingPeriod specifies how long milestone voting sessions stay open
func WithVotingPeriod(period time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.votingPeriod = period
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
