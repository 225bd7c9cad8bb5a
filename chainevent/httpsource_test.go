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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceReadLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "42", r.URL.Query().Get("from_block"))
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck
			json.NewEncoder(w).Encode(providerLogsResponse{
				Logs: []providerLog{
					{
						Args:         map[string]any{"amount": "100"},
						ContractName: "FundingEscrow",
						EventName:    "DonationReceived",
						TxHash:       "0xaaa",
						BlockNumber:  42,
						LogIndex:     0,
					},
					{
						ContractName: "FundingEscrow",
						EventName:    "DonationReceived",
						TxHash:       "0xbbb",
						BlockNumber:  43,
						LogIndex:     1,
					},
				},
			})
		},
	))
	defer server.Close()
	source := NewHTTPSource(HTTPSourceConfig{URL: server.URL})
	logs, err := source.ReadLogs(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "0xaaa", logs[0].TxHash)
	assert.Equal(t, uint64(43), logs[1].BlockNumber)
	assert.Equal(t, "100", logs[0].Args["amount"])
}

func TestHTTPSourceProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			//nolint:errcheck
			json.NewEncoder(w).Encode(
				providerLogsResponse{Error: "indexer catching up"},
			)
		},
	))
	defer server.Close()
	source := NewHTTPSource(HTTPSourceConfig{URL: server.URL})
	_, err := source.ReadLogs(context.Background(), 0)
	require.ErrorContains(t, err, "indexer catching up")
}

func TestHTTPSourceMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			//nolint:errcheck
			w.Write([]byte("not json"))
		},
	))
	defer server.Close()
	source := NewHTTPSource(HTTPSourceConfig{URL: server.URL})
	_, err := source.ReadLogs(context.Background(), 0)
	require.ErrorContains(t, err, "malformed provider response")
}
