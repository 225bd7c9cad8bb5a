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

package chainevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const DefaultReadTimeout = 30 * time.Second

// HTTPSourceConfig configures the HTTP log source
type HTTPSourceConfig struct {
	Logger *slog.Logger
	// URL is the provider's log query endpoint
	URL string
	// Timeout bounds a single read round-trip
	Timeout time.Duration
}

// HTTPSource reads chain logs from an indexer-style HTTP provider. The
// provider returns every known log at or above the requested block number,
// so repeated reads overlap and the ingestor's dedup cache absorbs replays.
type HTTPSource struct {
	config HTTPSourceConfig
	logger *slog.Logger
	client *http.Client
}

func NewHTTPSource(config HTTPSourceConfig) *HTTPSource {
	if config.Timeout <= 0 {
		config.Timeout = DefaultReadTimeout
	}
	s := &HTTPSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	return s
}

type providerLog struct {
	Args         map[string]any `json:"args"`
	ContractName string         `json:"contract_name"`
	EventName    string         `json:"event_name"`
	TxHash       string         `json:"tx_hash"`
	BlockNumber  uint64         `json:"block_number"`
	LogIndex     uint           `json:"log_index"`
}

type providerLogsResponse struct {
	Logs  []providerLog `json:"logs"`
	Error string        `json:"error,omitempty"`
}

// ReadLogs implements LogSource
func (s *HTTPSource) ReadLogs(
	ctx context.Context,
	fromBlock uint64,
) ([]RawLog, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		s.config.URL,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build log request: %w", err)
	}
	query := httpReq.URL.Query()
	query.Set("from_block", strconv.FormatUint(fromBlock, 10))
	httpReq.URL.RawQuery = query.Encode()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider read failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	var logsResp providerLogsResponse
	if err := json.Unmarshal(respBody, &logsResp); err != nil {
		return nil, fmt.Errorf(
			"malformed provider response (status %d): %w",
			resp.StatusCode,
			err,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"provider rejected log read (status %d): %s",
			resp.StatusCode,
			logsResp.Error,
		)
	}
	ret := make([]RawLog, 0, len(logsResp.Logs))
	for _, l := range logsResp.Logs {
		ret = append(
			ret,
			RawLog{
				Args:         l.Args,
				ContractName: l.ContractName,
				EventName:    l.EventName,
				TxHash:       l.TxHash,
				BlockNumber:  l.BlockNumber,
				LogIndex:     l.LogIndex,
			},
		)
	}
	s.logger.Debug(
		"read provider logs",
		"component", "chainevent",
		"from_block", fromBlock,
		"count", len(ret),
	)
	return ret, nil
}
