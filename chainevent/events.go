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
	"fmt"
	"time"

	"github.com/chainraise/chainraise/event"
)

const (
	// NormalizedEventType carries a NormalizedEvent for every deduplicated
	// chain log the ingestor observes
	NormalizedEventType event.EventType = "chainevent.normalized"
	// BlockObservedEventType carries a BlockObservedEvent whenever the
	// highest observed block number advances
	BlockObservedEventType event.EventType = "chainevent.block_observed"
	// TransactionRevertedEventType carries a TransactionRevertedEvent when
	// the provider reports a reverted transaction
	TransactionRevertedEventType event.EventType = "chainevent.tx_reverted"
	// ProviderUnavailableEventType signals that the log provider could not
	// be reached after retries were exhausted
	ProviderUnavailableEventType event.EventType = "chainevent.provider_unavailable"
)

// EventNameTransactionReverted is the provider-side event name used to report
// a chain-level transaction revert
const EventNameTransactionReverted = "TransactionReverted"

// RawLog is a single undecoded log entry as supplied by the external log
// provider. Duplicate and out-of-order delivery within a block is expected.
type RawLog struct {
	Args         map[string]any
	ContractName string
	EventName    string
	TxHash       string
	BlockNumber  uint64
	LogIndex     uint
}

// Key returns the deduplication key for the log entry
func (l RawLog) Key() string {
	return fmt.Sprintf(
		"%s:%s:%d:%d",
		l.TxHash,
		l.EventName,
		l.BlockNumber,
		l.LogIndex,
	)
}

// NormalizedEvent is the deduplicated, provider-agnostic representation of a
// raw chain log entry
type NormalizedEvent struct {
	ObservedAt   time.Time
	Args         map[string]any
	Id           string
	ContractName string
	EventName    string
	TxHash       string
	BlockNumber  uint64
	LogIndex     uint
}

// BlockObservedEvent is published when the ingestor observes a block number
// higher than any previously seen
type BlockObservedEvent struct {
	BlockNumber uint64
}

// TransactionRevertedEvent is published when the provider reports a
// chain-level revert for a transaction
type TransactionRevertedEvent struct {
	TxHash      string
	BlockNumber uint64
}

// ProviderUnavailableEvent is published once per outage when provider reads
// have failed past the retry limit
type ProviderUnavailableEvent struct {
	LastError error
	Failures  int
}

// LogSource is the external event provider boundary. ReadLogs returns all
// known logs with a block number of fromBlock or higher. Implementations may
// be backed by polling or by a push subscription drained into a buffer.
type LogSource interface {
	ReadLogs(ctx context.Context, fromBlock uint64) ([]RawLog, error)
}
