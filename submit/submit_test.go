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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelaySubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			var req Request
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "0xcontract", req.To)
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck
			json.NewEncoder(w).Encode(submitResponse{TxHash: "0xhash"})
		},
	))
	defer server.Close()
	client := NewRelayClient(RelayClientConfig{URL: server.URL})
	txHash, err := client.Submit(context.Background(), Request{
		To:   "0xcontract",
		Data: "0xdeadbeef",
	})
	require.NoError(t, err)
	require.Equal(t, "0xhash", txHash)
}

func TestRelaySubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			//nolint:errcheck
			json.NewEncoder(w).Encode(
				submitResponse{Error: "invalid call data"},
			)
		},
	))
	defer server.Close()
	client := NewRelayClient(RelayClientConfig{URL: server.URL})
	_, err := client.Submit(context.Background(), Request{To: "0xc"})
	require.ErrorContains(t, err, "invalid call data")
}

func TestRelaySubmitMissingHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck
			json.NewEncoder(w).Encode(submitResponse{})
		},
	))
	defer server.Close()
	client := NewRelayClient(RelayClientConfig{URL: server.URL})
	_, err := client.Submit(context.Background(), Request{To: "0xc"})
	require.Error(t, err)
}
