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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainraise/chainraise"
	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	if cfg.ProviderURL == "" {
		return fmt.Errorf("no chain event provider URL configured")
	}

	// Parse duration config values
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	var pollInterval time.Duration
	if cfg.PollInterval != "" {
		var err error
		pollInterval, err = time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval: %w", err)
		}
	}
	var confirmationTimeout time.Duration
	if cfg.ConfirmationTimeout != "" {
		var err error
		confirmationTimeout, err = time.ParseDuration(
			cfg.ConfirmationTimeout,
		)
		if err != nil {
			return fmt.Errorf("invalid confirmation timeout: %w", err)
		}
	}
	var votingPeriod time.Duration
	if cfg.VotingPeriod != "" {
		var err error
		votingPeriod, err = time.ParseDuration(cfg.VotingPeriod)
		if err != nil {
			return fmt.Errorf("invalid voting period: %w", err)
		}
	}

	logSource := chainevent.NewHTTPSource(chainevent.HTTPSourceConfig{
		Logger: logger,
		URL:    cfg.ProviderURL,
	})

	e, err := chainraise.New(
		chainraise.NewConfig(
			chainraise.WithLogger(logger),
			chainraise.WithDataDir(cfg.DataDir),
			chainraise.WithLogSource(logSource),
			chainraise.WithApiListenAddress(
				fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
			),
			chainraise.WithRelayURL(cfg.RelayURL),
			chainraise.WithReleaseContract(cfg.ReleaseContract),
			chainraise.WithPushGatewayURL(cfg.PushGatewayURL),
			chainraise.WithEmailGatewayURL(cfg.EmailGatewayURL),
			chainraise.WithRequiredConfirmations(cfg.RequiredConfirmations),
			chainraise.WithPollInterval(pollInterval),
			chainraise.WithConfirmationTimeout(confirmationTimeout),
			chainraise.WithVotingPeriod(votingPeriod),
			chainraise.WithShutdownTimeout(shutdownTimeout),
			chainraise.WithTracing(cfg.Tracing),
			chainraise.WithTracingStdout(cfg.TracingStdout),
			// Enable metrics with default prometheus registry
			chainraise.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run engine in goroutine
	errChan := make(chan error, 1)
	go func() {
		err := e.Run()
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown engine
		if err := e.Stop(); err != nil {
			logger.Error("engine shutdown error", "error", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}
