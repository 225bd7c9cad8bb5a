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

package txtracker

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// TransactionStatusChangedEventType is emitted exactly once per status
	// value a tracked transaction reaches
	TransactionStatusChangedEventType event.EventType = "txtracker.status_changed"

	DefaultTimeout       = 30 * time.Minute
	DefaultCheckInterval = 30 * time.Second
)

// TransactionStatusChangedEvent describes a tracked transaction reaching a
// new status
type TransactionStatusChangedEvent struct {
	TransactionId string
	Hash          string
	Type          string
	Status        string
	FailureReason string
	ProjectId     string
	Currency      string
	Amount        int64
	Confirmations uint64
}

// InvalidStateError is returned when an operation is attempted against a
// transaction in a status that does not permit it
type InvalidStateError struct {
	TransactionId string
	Current       string
	Wanted        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"transaction %s is %s, wanted %s",
		e.TransactionId,
		e.Current,
		e.Wanted,
	)
}

// Store persists tracked transaction state across restarts
type Store interface {
	SaveTransaction(tx *models.TrackedTransaction) error
}

// TrackRequest registers a submitted transaction for monitoring
type TrackRequest struct {
	Hash                  string
	Type                  string
	ProjectId             string
	Currency              string
	Amount                int64
	RequiredConfirmations uint64
}

type TrackerConfig struct {
	Logger        *slog.Logger
	EventBus      *event.Bus
	PromRegistry  prometheus.Registerer
	Store         Store
	Timeout       time.Duration
	CheckInterval time.Duration
}

// Tracker follows submitted transactions from pending to a terminal status.
// Confirmations are derived from block-observed events; a transaction
// unconfirmed after the timeout window fails with reason timeout, and a
// chain-reported revert fails with reason reverted.
type Tracker struct {
	config  TrackerConfig
	metrics struct {
		txsTracked   prometheus.Counter
		txsConfirmed prometheus.Counter
		txsFailed    prometheus.Counter
		txsPending   prometheus.Gauge
	}
	logger       *slog.Logger
	eventBus     *event.Bus
	transactions map[string]*models.TrackedTransaction
	byHash       map[string]string
	latestBlock  uint64
	stopCh       chan struct{}
	stopOnce     sync.Once
	sync.RWMutex
}

func NewTracker(config TrackerConfig) *Tracker {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	t := &Tracker{
		config:       config,
		eventBus:     config.EventBus,
		transactions: make(map[string]*models.TrackedTransaction),
		byHash:       make(map[string]string),
		stopCh:       make(chan struct{}),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		t.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		t.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	t.metrics.txsTracked = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_txtracker_transactions_tracked_total",
			Help: "total transactions registered for monitoring",
		},
	)
	t.metrics.txsConfirmed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_txtracker_transactions_confirmed_total",
			Help: "total transactions that reached confirmed",
		},
	)
	t.metrics.txsFailed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_txtracker_transactions_failed_total",
			Help: "total transactions that reached failed",
		},
	)
	t.metrics.txsPending = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainraise_txtracker_transactions_pending",
			Help: "current count of pending tracked transactions",
		},
	)
	// Subscribe to chain observation events
	go t.processChainEvents()
	go t.timeoutLoop()
	return t
}

// Stop shuts down the tracker's background loops
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// Track registers a transaction for monitoring and returns its tracking id
func (t *Tracker) Track(req TrackRequest) (string, error) {
	if req.Hash == "" {
		return "", fmt.Errorf("transaction hash is required")
	}
	if req.RequiredConfirmations == 0 {
		return "", fmt.Errorf("required confirmations must be positive")
	}
	t.Lock()
	if existingId, ok := t.byHash[req.Hash]; ok {
		t.Unlock()
		return existingId, nil
	}
	tx := &models.TrackedTransaction{
		ID:                    uuid.NewString(),
		Hash:                  req.Hash,
		Type:                  req.Type,
		Status:                models.TransactionStatusPending,
		ProjectID:             req.ProjectId,
		Amount:                req.Amount,
		AmountCurrency:        req.Currency,
		RequiredConfirmations: req.RequiredConfirmations,
		SubmittedAt:           time.Now(),
	}
	t.transactions[tx.ID] = tx
	t.byHash[tx.Hash] = tx.ID
	t.Unlock()
	t.metrics.txsTracked.Inc()
	t.metrics.txsPending.Inc()
	t.persist(tx)
	t.emitStatus(tx)
	t.logger.Debug(
		"tracking transaction",
		"component", "txtracker",
		"tx_hash", tx.Hash,
		"tx_id", tx.ID,
	)
	return tx.ID, nil
}

// Get returns the current state of a tracked transaction by tracking id
func (t *Tracker) Get(id string) (models.TrackedTransaction, bool) {
	t.RLock()
	defer t.RUnlock()
	tx, ok := t.transactions[id]
	if !ok {
		return models.TrackedTransaction{}, false
	}
	return *tx, true
}

// GetByHash returns the current state of a tracked transaction by chain hash
func (t *Tracker) GetByHash(hash string) (models.TrackedTransaction, bool) {
	t.RLock()
	defer t.RUnlock()
	id, ok := t.byHash[hash]
	if !ok {
		return models.TrackedTransaction{}, false
	}
	return *t.transactions[id], true
}

// Restore re-registers a persisted transaction after a restart. The record
// is inserted as-is: no status event is emitted and nothing is re-persisted,
// so a pending transaction resumes confirmation counting from incoming block
// events exactly where it left off.
func (t *Tracker) Restore(tx models.TrackedTransaction) error {
	if tx.ID == "" || tx.Hash == "" {
		return fmt.Errorf("transaction id and hash are required")
	}
	t.Lock()
	if _, ok := t.transactions[tx.ID]; ok {
		t.Unlock()
		return fmt.Errorf("transaction %s already tracked", tx.ID)
	}
	if _, ok := t.byHash[tx.Hash]; ok {
		t.Unlock()
		return fmt.Errorf("transaction hash %s already tracked", tx.Hash)
	}
	t.transactions[tx.ID] = &tx
	t.byHash[tx.Hash] = tx.ID
	t.Unlock()
	if tx.Status == models.TransactionStatusPending {
		t.metrics.txsPending.Inc()
	}
	t.logger.Debug(
		"restored transaction",
		"component", "txtracker",
		"tx_hash", tx.Hash,
		"tx_id", tx.ID,
		"status", tx.Status,
	)
	return nil
}

// Cancel transitions a pending transaction's local tracking record to
// cancelled. The chain transaction itself is never cancelled by the engine.
func (t *Tracker) Cancel(id string) error {
	t.Lock()
	tx, ok := t.transactions[id]
	if !ok {
		t.Unlock()
		return fmt.Errorf("unknown transaction: %s", id)
	}
	if tx.Status != models.TransactionStatusPending {
		t.Unlock()
		return &InvalidStateError{
			TransactionId: id,
			Current:       tx.Status,
			Wanted:        models.TransactionStatusPending,
		}
	}
	tx.Status = models.TransactionStatusCancelled
	tx.UpdatedAt = time.Now()
	txCopy := *tx
	t.Unlock()
	t.metrics.txsPending.Dec()
	t.persist(&txCopy)
	t.emitStatus(&txCopy)
	return nil
}

func (t *Tracker) processChainEvents() {
	blockSubId, blockCh := t.eventBus.Subscribe(
		chainevent.BlockObservedEventType,
	)
	revertSubId, revertCh := t.eventBus.Subscribe(
		chainevent.TransactionRevertedEventType,
	)
	normalizedSubId, normalizedCh := t.eventBus.Subscribe(
		chainevent.NormalizedEventType,
	)
	defer func() {
		t.eventBus.Unsubscribe(chainevent.BlockObservedEventType, blockSubId)
		t.eventBus.Unsubscribe(
			chainevent.TransactionRevertedEventType,
			revertSubId,
		)
		t.eventBus.Unsubscribe(chainevent.NormalizedEventType, normalizedSubId)
	}()
	for {
		select {
		case <-t.stopCh:
			return
		case evt, ok := <-blockCh:
			if !ok {
				return
			}
			if blockEvt, ok := evt.Data.(chainevent.BlockObservedEvent); ok {
				t.onBlockObserved(blockEvt.BlockNumber)
			}
		case evt, ok := <-revertCh:
			if !ok {
				return
			}
			if revertEvt, ok := evt.Data.(chainevent.TransactionRevertedEvent); ok {
				t.onReverted(revertEvt.TxHash)
			}
		case evt, ok := <-normalizedCh:
			if !ok {
				return
			}
			if normalized, ok := evt.Data.(chainevent.NormalizedEvent); ok {
				t.onMined(normalized.TxHash, normalized.BlockNumber)
			}
		}
	}
}

// onMined records the block that included a tracked transaction
func (t *Tracker) onMined(hash string, blockNumber uint64) {
	t.Lock()
	id, ok := t.byHash[hash]
	if !ok {
		t.Unlock()
		return
	}
	tx := t.transactions[id]
	if tx.Status != models.TransactionStatusPending || tx.BlockNumber != nil {
		t.Unlock()
		return
	}
	tx.BlockNumber = &blockNumber
	tx.UpdatedAt = time.Now()
	txCopy := *tx
	t.Unlock()
	t.persist(&txCopy)
	// The block that mined the transaction may already satisfy the
	// confirmation requirement
	t.onBlockObserved(t.currentLatestBlock())
}

func (t *Tracker) currentLatestBlock() uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.latestBlock
}

func (t *Tracker) onBlockObserved(blockNumber uint64) {
	t.Lock()
	if blockNumber > t.latestBlock {
		t.latestBlock = blockNumber
	}
	latest := t.latestBlock
	var confirmed []*models.TrackedTransaction
	for _, tx := range t.transactions {
		if tx.Status != models.TransactionStatusPending ||
			tx.BlockNumber == nil {
			continue
		}
		// Confirmations are clamped to zero while unmined
		var confirmations uint64
		if latest >= *tx.BlockNumber {
			confirmations = latest - *tx.BlockNumber + 1
		}
		if confirmations == tx.Confirmations {
			continue
		}
		tx.Confirmations = confirmations
		tx.UpdatedAt = time.Now()
		if confirmations >= tx.RequiredConfirmations {
			tx.Status = models.TransactionStatusConfirmed
			txCopy := *tx
			confirmed = append(confirmed, &txCopy)
		}
	}
	t.Unlock()
	for _, tx := range confirmed {
		t.metrics.txsConfirmed.Inc()
		t.metrics.txsPending.Dec()
		t.persist(tx)
		t.emitStatus(tx)
		t.logger.Info(
			"transaction confirmed",
			"component", "txtracker",
			"tx_hash", tx.Hash,
			"confirmations", tx.Confirmations,
		)
	}
}

func (t *Tracker) onReverted(hash string) {
	t.Lock()
	id, ok := t.byHash[hash]
	if !ok {
		t.Unlock()
		return
	}
	tx := t.transactions[id]
	if tx.Status != models.TransactionStatusPending {
		t.Unlock()
		return
	}
	tx.Status = models.TransactionStatusFailed
	tx.FailureReason = models.FailureReasonReverted
	tx.UpdatedAt = time.Now()
	txCopy := *tx
	t.Unlock()
	t.metrics.txsFailed.Inc()
	t.metrics.txsPending.Dec()
	t.persist(&txCopy)
	t.emitStatus(&txCopy)
	t.logger.Warn(
		"transaction reverted",
		"component", "txtracker",
		"tx_hash", hash,
	)
}

func (t *Tracker) timeoutLoop() {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.expireTimedOut()
		}
	}
}

func (t *Tracker) expireTimedOut() {
	now := time.Now()
	t.Lock()
	var timedOut []*models.TrackedTransaction
	for _, tx := range t.transactions {
		if tx.Status != models.TransactionStatusPending {
			continue
		}
		if now.Sub(tx.SubmittedAt) < t.config.Timeout {
			continue
		}
		tx.Status = models.TransactionStatusFailed
		tx.FailureReason = models.FailureReasonTimeout
		tx.UpdatedAt = now
		txCopy := *tx
		timedOut = append(timedOut, &txCopy)
	}
	t.Unlock()
	for _, tx := range timedOut {
		t.metrics.txsFailed.Inc()
		t.metrics.txsPending.Dec()
		t.persist(tx)
		t.emitStatus(tx)
		t.logger.Warn(
			"transaction timed out",
			"component", "txtracker",
			"tx_hash", tx.Hash,
		)
	}
}

func (t *Tracker) persist(tx *models.TrackedTransaction) {
	if t.config.Store == nil {
		return
	}
	if err := t.config.Store.SaveTransaction(tx); err != nil {
		t.logger.Error(
			"failed to persist transaction",
			"component", "txtracker",
			"tx_hash", tx.Hash,
			"error", err,
		)
	}
}

// emitStatus publishes a status-changed event. Callers only invoke it when
// the status value actually changed, which keeps delivery idempotent even if
// confirmations are re-evaluated multiple times per block.
func (t *Tracker) emitStatus(tx *models.TrackedTransaction) {
	t.eventBus.Publish(
		TransactionStatusChangedEventType,
		event.New(
			TransactionStatusChangedEventType,
			TransactionStatusChangedEvent{
				TransactionId: tx.ID,
				Hash:          tx.Hash,
				Type:          tx.Type,
				Status:        tx.Status,
				FailureReason: tx.FailureReason,
				ProjectId:     tx.ProjectID,
				Amount:        tx.Amount,
				Currency:      tx.AmountCurrency,
				Confirmations: tx.Confirmations,
			},
		),
	)
}
