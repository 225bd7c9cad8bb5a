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
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chainraise/chainraise/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultQueueSize       = 1000
	DefaultDedupCacheSize  = 65536
	DefaultRetryBackoffMin = 500 * time.Millisecond
	DefaultRetryBackoffMax = 30 * time.Second
	DefaultRetryLimit      = 8
)

// ErrProviderUnavailable is returned by a read cycle once retries against the
// log provider are exhausted
var ErrProviderUnavailable = errors.New("log provider unavailable")

// Archiver persists raw normalized event payloads before they enter the
// hand-off queue, so that backpressure shedding never loses an event that no
// consumer has seen.
type Archiver interface {
	ArchiveEvent(evt NormalizedEvent) error
}

// HeadReader is an optional LogSource capability that reports the current
// chain tip, used to advance confirmations on blocks that carry no watched
// logs.
type HeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type IngestorConfig struct {
	Logger          *slog.Logger
	EventBus        *event.Bus
	PromRegistry    prometheus.Registerer
	Source          LogSource
	Archiver        Archiver
	PollInterval    time.Duration
	QueueSize       int
	DedupCacheSize  int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	RetryLimit      int
	StartBlock      uint64
}

// Ingestor consumes raw chain logs from a LogSource and produces a
// deduplicated stream of normalized events, ordered by non-decreasing block
// number, on the event bus. Producer I/O never blocks downstream consumers:
// events are handed off via a bounded queue and the oldest queued events are
// shed (after archival) under backpressure.
type Ingestor struct {
	config  IngestorConfig
	metrics struct {
		logsIngested     prometheus.Counter
		logsDeduped      prometheus.Counter
		eventsShed       prometheus.Counter
		providerFailures prometheus.Counter
		latestBlock      prometheus.Gauge
	}
	logger      *slog.Logger
	eventBus    *event.Bus
	seen        *seenCache
	queue       chan NormalizedEvent
	cancel      context.CancelFunc
	pollDoneCh  chan struct{}
	doneCh      chan struct{}
	startMutex  sync.Mutex
	stateMutex  sync.Mutex
	cursor      uint64
	latestBlock uint64
	degraded    bool
	started     bool
}

func NewIngestor(config IngestorConfig) *Ingestor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.DedupCacheSize <= 0 {
		config.DedupCacheSize = DefaultDedupCacheSize
	}
	if config.RetryBackoffMin <= 0 {
		config.RetryBackoffMin = DefaultRetryBackoffMin
	}
	if config.RetryBackoffMax <= 0 {
		config.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if config.RetryLimit <= 0 {
		config.RetryLimit = DefaultRetryLimit
	}
	i := &Ingestor{
		config:   config,
		eventBus: config.EventBus,
		seen:     newSeenCache(config.DedupCacheSize),
		queue:    make(chan NormalizedEvent, config.QueueSize),
		cursor:   config.StartBlock,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		i.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		i.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	i.metrics.logsIngested = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_chainevent_logs_ingested_total",
			Help: "total raw logs accepted after deduplication",
		},
	)
	i.metrics.logsDeduped = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_chainevent_logs_deduplicated_total",
			Help: "total raw logs dropped as duplicates",
		},
	)
	i.metrics.eventsShed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_chainevent_events_shed_total",
			Help: "total queued events shed under backpressure",
		},
	)
	i.metrics.providerFailures = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_chainevent_provider_failures_total",
			Help: "total log provider read failures",
		},
	)
	i.metrics.latestBlock = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainraise_chainevent_latest_block",
			Help: "highest block number observed",
		},
	)
	return i
}

// Start launches the poll and dispatch loops. It's safe to call Start only
// once per Ingestor.
func (i *Ingestor) Start(ctx context.Context) error {
	i.startMutex.Lock()
	defer i.startMutex.Unlock()
	if i.started {
		return errors.New("ingestor already started")
	}
	if i.config.Source == nil {
		return errors.New("no log source configured")
	}
	i.started = true
	ctx, i.cancel = context.WithCancel(ctx)
	i.pollDoneCh = make(chan struct{})
	i.doneCh = make(chan struct{})
	go i.dispatchLoop()
	go i.pollLoop(ctx)
	return nil
}

// Stop cancels the poll loop and drains the dispatch loop
func (i *Ingestor) Stop() {
	i.startMutex.Lock()
	defer i.startMutex.Unlock()
	if !i.started {
		return
	}
	i.cancel()
	// Wait for the poll loop to exit before closing the queue so we never
	// send on a closed channel
	<-i.pollDoneCh
	close(i.queue)
	<-i.doneCh
	i.started = false
}

// Healthy reports whether the provider is currently reachable
func (i *Ingestor) Healthy() bool {
	i.stateMutex.Lock()
	defer i.stateMutex.Unlock()
	return !i.degraded
}

// LatestBlock returns the highest block number observed so far
func (i *Ingestor) LatestBlock() uint64 {
	i.stateMutex.Lock()
	defer i.stateMutex.Unlock()
	return i.latestBlock
}

func (i *Ingestor) pollLoop(ctx context.Context) {
	defer close(i.pollDoneCh)
	ticker := time.NewTicker(i.config.PollInterval)
	defer ticker.Stop()
	for {
		// Poll immediately on startup, then on each tick
		if err := i.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.Error(
				"log provider read failed",
				"component", "chainevent",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *Ingestor) pollOnce(ctx context.Context) error {
	logs, err := i.readWithRetry(ctx)
	if err != nil {
		return err
	}
	i.clearDegraded()
	// Observe the chain tip if the source supports it
	if headReader, ok := i.config.Source.(HeadReader); ok {
		if head, err := headReader.LatestBlockNumber(ctx); err == nil {
			i.observeBlock(head)
		}
	}
	// Deliver logs in non-decreasing block order. Ordering within a block is
	// not guaranteed and not required.
	sort.SliceStable(logs, func(a, b int) bool {
		return logs[a].BlockNumber < logs[b].BlockNumber
	})
	for _, rawLog := range logs {
		if i.seen.Seen(rawLog.Key()) {
			i.metrics.logsDeduped.Inc()
			continue
		}
		i.metrics.logsIngested.Inc()
		i.observeBlock(rawLog.BlockNumber)
		if rawLog.EventName == EventNameTransactionReverted {
			i.eventBus.Publish(
				TransactionRevertedEventType,
				event.New(
					TransactionRevertedEventType,
					TransactionRevertedEvent{
						TxHash:      rawLog.TxHash,
						BlockNumber: rawLog.BlockNumber,
					},
				),
			)
			continue
		}
		i.enqueue(normalize(rawLog))
	}
	// Move the read cursor to the newest block seen. The last block is
	// re-read on the next cycle in case further logs land in it; the dedup
	// cache drops the repeats.
	if len(logs) > 0 {
		newest := logs[len(logs)-1].BlockNumber
		i.stateMutex.Lock()
		if newest > i.cursor {
			i.cursor = newest
		}
		i.stateMutex.Unlock()
	}
	return nil
}

func (i *Ingestor) readWithRetry(ctx context.Context) ([]RawLog, error) {
	i.stateMutex.Lock()
	fromBlock := i.cursor
	i.stateMutex.Unlock()
	backoff := i.config.RetryBackoffMin
	var lastErr error
	for attempt := range i.config.RetryLimit {
		logs, err := i.config.Source.ReadLogs(ctx, fromBlock)
		if err == nil {
			return logs, nil
		}
		lastErr = err
		i.metrics.providerFailures.Inc()
		i.logger.Debug(
			"retrying log provider read",
			"component", "chainevent",
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, i.config.RetryBackoffMax)
	}
	i.signalDegraded(lastErr)
	return nil, ErrProviderUnavailable
}

// signalDegraded publishes ProviderUnavailable once per outage
func (i *Ingestor) signalDegraded(lastErr error) {
	i.stateMutex.Lock()
	alreadyDegraded := i.degraded
	i.degraded = true
	i.stateMutex.Unlock()
	if alreadyDegraded {
		return
	}
	i.eventBus.Publish(
		ProviderUnavailableEventType,
		event.New(
			ProviderUnavailableEventType,
			ProviderUnavailableEvent{
				LastError: lastErr,
				Failures:  i.config.RetryLimit,
			},
		),
	)
}

func (i *Ingestor) clearDegraded() {
	i.stateMutex.Lock()
	i.degraded = false
	i.stateMutex.Unlock()
}

func (i *Ingestor) observeBlock(blockNumber uint64) {
	i.stateMutex.Lock()
	if blockNumber <= i.latestBlock {
		i.stateMutex.Unlock()
		return
	}
	i.latestBlock = blockNumber
	i.stateMutex.Unlock()
	i.metrics.latestBlock.Set(float64(blockNumber))
	i.eventBus.Publish(
		BlockObservedEventType,
		event.New(
			BlockObservedEventType,
			BlockObservedEvent{BlockNumber: blockNumber},
		),
	)
}

func (i *Ingestor) enqueue(evt NormalizedEvent) {
	// Archive before queueing so shedding never loses an unseen event
	if i.config.Archiver != nil {
		if err := i.config.Archiver.ArchiveEvent(evt); err != nil {
			i.logger.Error(
				"failed to archive event",
				"component", "chainevent",
				"event_id", evt.Id,
				"error", err,
			)
		}
	}
	for {
		select {
		case i.queue <- evt:
			return
		default:
			// Queue full: shed the oldest queued event
			select {
			case shed := <-i.queue:
				i.metrics.eventsShed.Inc()
				i.logger.Warn(
					"event queue full, shedding oldest event",
					"component", "chainevent",
					"event_id", shed.Id,
				)
			default:
			}
		}
	}
}

func (i *Ingestor) dispatchLoop() {
	defer close(i.doneCh)
	for evt := range i.queue {
		i.eventBus.Publish(
			NormalizedEventType,
			event.New(NormalizedEventType, evt),
		)
	}
}

func normalize(rawLog RawLog) NormalizedEvent {
	return NormalizedEvent{
		Id:           rawLog.Key(),
		ContractName: rawLog.ContractName,
		EventName:    rawLog.EventName,
		Args:         rawLog.Args,
		TxHash:       rawLog.TxHash,
		BlockNumber:  rawLog.BlockNumber,
		LogIndex:     rawLog.LogIndex,
		ObservedAt:   time.Now(),
	}
}
