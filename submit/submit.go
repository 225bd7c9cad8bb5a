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

package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Request describes a contract call to submit to the chain via a relay
type Request struct {
	// To is the target contract address
	To string `json:"to"`
	// Data is the hex-encoded call data
	Data string `json:"data"`
	// Value is the native amount to attach, in the chain's smallest unit
	Value string `json:"value,omitempty"`
}

// Submitter submits signed contract calls to the chain and returns the
// resulting transaction hash. Implementations never wait for confirmation;
// that is the transaction tracker's job.
type Submitter interface {
	Submit(ctx context.Context, req Request) (string, error)
}

const DefaultSubmitTimeout = 30 * time.Second

// RelayClientConfig configures the HTTP relay submitter
type RelayClientConfig struct {
	Logger *slog.Logger
	// URL is the relay's submit endpoint
	URL string
	// Timeout bounds a single submit round-trip
	Timeout time.Duration
}

// RelayClient submits transactions through an external signing relay over
// HTTP. The relay holds the keys; the engine only ever sees the hash.
type RelayClient struct {
	config RelayClientConfig
	logger *slog.Logger
	client *http.Client
}

func NewRelayClient(config RelayClientConfig) *RelayClient {
	if config.Timeout <= 0 {
		config.Timeout = DefaultSubmitTimeout
	}
	c := &RelayClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		c.logger = config.Logger
	}
	return c
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Submit posts the request to the relay and returns the transaction hash
func (c *RelayClient) Submit(
	ctx context.Context,
	req Request,
) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("relay submit failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read relay response: %w", err)
	}
	var submitResp submitResponse
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return "", fmt.Errorf(
			"malformed relay response (status %d): %w",
			resp.StatusCode,
			err,
		)
	}
	if resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf(
			"relay rejected submission (status %d): %s",
			resp.StatusCode,
			submitResp.Error,
		)
	}
	if submitResp.TxHash == "" {
		return "", fmt.Errorf("relay returned no transaction hash")
	}
	c.logger.Debug(
		"submitted transaction",
		"component", "submit",
		"tx_hash", submitResp.TxHash,
		"to", req.To,
	)
	return submitResp.TxHash, nil
}
