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

package ledger

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
	"github.com/chainraise/chainraise/txtracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// FundingUpdatedEventType is emitted whenever a project's funding total
	// changes or its status is re-evaluated by the ledger
	FundingUpdatedEventType event.EventType = "ledger.funding_updated"

	DefaultShardCount = 8
	shardQueueSize    = 256
)

// FundingUpdatedEvent describes a change to a project's funding state
type FundingUpdatedEvent struct {
	ProjectId     string
	TransactionId string
	Currency      string
	Status        string
	Amount        int64
	FundingRaised int64
}

// ErrProjectNotFound is returned when a project id is unknown to the ledger
var ErrProjectNotFound = errors.New("project not found")

// ErrStopped is returned when an operation is requested after shutdown
var ErrStopped = errors.New("ledger stopped")

// Store persists project funding state across restarts
type Store interface {
	SaveProject(project *models.Project) error
	AddAppliedTransaction(applied *models.AppliedTransaction) error
	AddFundingAnomaly(anomaly *models.FundingAnomaly) error
}

type LedgerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.Bus
	PromRegistry prometheus.Registerer
	Store        Store
	// StatusGuard, when set, is consulted before a status transition is
	// applied. It runs on the project's shard worker and must not call back
	// into the ledger.
	StatusGuard func(project models.Project, newStatus string) error
	// ShardCount is the number of single-writer workers; all mutation for a
	// given project runs on exactly one of them
	ShardCount int
}

// projectState is the ledger's authoritative view of one project. It is only
// ever touched from the project's shard worker or under the registry lock.
type projectState struct {
	project models.Project
	applied map[string]bool
}

// Ledger aggregates confirmed donation and investment transactions into
// project funding totals. Work is sharded by project id so funding mutation
// for a given project is linearized without a global lock.
type Ledger struct {
	config  LedgerConfig
	metrics struct {
		txsApplied    prometheus.Counter
		txsDuplicate  prometheus.Counter
		anomalies     prometheus.Counter
		fundedFlips   prometheus.Counter
		amountApplied *prometheus.CounterVec
	}
	logger   *slog.Logger
	eventBus *event.Bus
	projects map[string]*projectState
	// registryMu guards the projects map itself, not project state
	registryMu sync.RWMutex
	shards     []chan func()
	shardWg    sync.WaitGroup
	statusSub  event.SubscriberId
	stopped    bool
	stopMu     sync.RWMutex
	stopOnce   sync.Once
}

func NewLedger(config LedgerConfig) *Ledger {
	if config.ShardCount <= 0 {
		config.ShardCount = DefaultShardCount
	}
	l := &Ledger{
		config:   config,
		eventBus: config.EventBus,
		projects: make(map[string]*projectState),
		shards:   make([]chan func(), config.ShardCount),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		l.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	l.metrics.txsApplied = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_ledger_transactions_applied_total",
			Help: "total confirmed transactions applied to funding totals",
		},
	)
	l.metrics.txsDuplicate = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_ledger_transactions_duplicate_total",
			Help: "total already-applied transactions skipped",
		},
	)
	l.metrics.anomalies = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_ledger_funding_anomalies_total",
			Help: "total funding arrivals recorded as anomalies",
		},
	)
	l.metrics.fundedFlips = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_ledger_projects_funded_total",
			Help: "total projects that reached their funding goal",
		},
	)
	l.metrics.amountApplied = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_ledger_amount_applied_total",
			Help: "total funding amount applied per currency",
		},
		[]string{"currency"},
	)
	for i := range l.shards {
		l.shards[i] = make(chan func(), shardQueueSize)
		l.shardWg.Add(1)
		go l.shardWorker(l.shards[i])
	}
	if l.eventBus != nil {
		l.statusSub = l.eventBus.SubscribeFunc(
			txtracker.TransactionStatusChangedEventType,
			l.handleTxStatus,
		)
	}
	return l
}

// Stop drains the shard workers and detaches from the event bus
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() {
		if l.eventBus != nil {
			l.eventBus.Unsubscribe(
				txtracker.TransactionStatusChangedEventType,
				l.statusSub,
			)
		}
		// Block until in-flight submissions complete, then drain
		l.stopMu.Lock()
		l.stopped = true
		l.stopMu.Unlock()
		for _, shard := range l.shards {
			close(shard)
		}
		l.shardWg.Wait()
	})
}

func (l *Ledger) shardWorker(tasks <-chan func()) {
	defer l.shardWg.Done()
	for task := range tasks {
		task()
	}
}

func (l *Ledger) shardFor(projectId string) chan func() {
	h := fnv.New32a()
	h.Write([]byte(projectId)) //nolint:errcheck
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// runOnShard executes fn on the project's shard worker and waits for it.
// Holding the stop read lock across the send keeps shutdown from closing a
// shard channel mid-send.
func (l *Ledger) runOnShard(projectId string, fn func() error) error {
	resultCh := make(chan error, 1)
	l.stopMu.RLock()
	if l.stopped {
		l.stopMu.RUnlock()
		return ErrStopped
	}
	l.shardFor(projectId) <- func() {
		resultCh <- fn()
	}
	l.stopMu.RUnlock()
	return <-resultCh
}

// RegisterProject places a project under ledger management. Re-registering
// an id replaces derived state, so it also serves restart hydration.
func (l *Ledger) RegisterProject(
	project models.Project,
	appliedTxIds []string,
) error {
	if project.ID == "" {
		return errors.New("project id is required")
	}
	if project.Status == "" {
		project.Status = models.ProjectStatusDraft
	}
	applied := make(map[string]bool, len(appliedTxIds))
	for _, id := range appliedTxIds {
		applied[id] = true
	}
	l.registryMu.Lock()
	l.projects[project.ID] = &projectState{
		project: project,
		applied: applied,
	}
	l.registryMu.Unlock()
	return nil
}

func (l *Ledger) state(projectId string) (*projectState, bool) {
	l.registryMu.RLock()
	defer l.registryMu.RUnlock()
	state, ok := l.projects[projectId]
	return state, ok
}

// GetProject returns a copy of the project's current state
func (l *Ledger) GetProject(id string) (models.Project, bool) {
	var (
		project models.Project
		ok      bool
	)
	err := l.runOnShard(id, func() error {
		var state *projectState
		state, ok = l.state(id)
		if ok {
			project = state.project
		}
		return nil
	})
	if err != nil {
		return models.Project{}, false
	}
	return project, ok
}

// SetProjectStatus transitions a project's status along a defined edge
func (l *Ledger) SetProjectStatus(projectId, status string) error {
	return l.runOnShard(projectId, func() error {
		state, ok := l.state(projectId)
		if !ok {
			return ErrProjectNotFound
		}
		if !models.ValidProjectTransition(state.project.Status, status) {
			return fmt.Errorf(
				"invalid project transition %s -> %s",
				state.project.Status,
				status,
			)
		}
		if l.config.StatusGuard != nil {
			if err := l.config.StatusGuard(state.project, status); err != nil {
				return fmt.Errorf(
					"project transition %s -> %s refused: %w",
					state.project.Status,
					status,
					err,
				)
			}
		}
		state.project.Status = status
		state.project.UpdatedAt = time.Now()
		l.persistProject(&state.project)
		l.emitFundingUpdated(&state.project, "", 0)
		return nil
	})
}

// RecordConfirmedTransaction applies a confirmed transaction to the
// project's funding total exactly once. Calls for the same project are
// linearized on its shard worker; calls for different projects run in
// parallel.
func (l *Ledger) RecordConfirmedTransaction(
	projectId string,
	transactionId string,
	amount int64,
	currency string,
) error {
	if amount < 0 {
		return fmt.Errorf("negative funding amount: %d", amount)
	}
	return l.runOnShard(projectId, func() error {
		return l.apply(projectId, transactionId, amount, currency)
	})
}

// apply runs on the project's shard worker
func (l *Ledger) apply(
	projectId string,
	transactionId string,
	amount int64,
	currency string,
) error {
	state, ok := l.state(projectId)
	if !ok {
		return ErrProjectNotFound
	}
	if state.applied[transactionId] {
		// Already applied; exactly-once is preserved by dropping the repeat
		l.metrics.txsDuplicate.Inc()
		l.logger.Debug(
			"skipping already-applied transaction",
			"component", "ledger",
			"project_id", projectId,
			"tx_id", transactionId,
		)
		return nil
	}
	project := &state.project
	if models.TerminalProjectStatus(project.Status) ||
		project.Status == models.ProjectStatusCompleted {
		// Funds already in flight for a dead project: the chain transfer
		// cannot be undone, so record the arrival for reconciliation
		l.recordAnomaly(
			projectId,
			transactionId,
			amount,
			currency,
			fmt.Sprintf("project is %s", project.Status),
		)
		return nil
	}
	if currency != "" && currency != project.FundingGoalCurrency {
		l.recordAnomaly(
			projectId,
			transactionId,
			amount,
			currency,
			fmt.Sprintf(
				"currency %s does not match goal currency %s",
				currency,
				project.FundingGoalCurrency,
			),
		)
		return nil
	}
	state.applied[transactionId] = true
	project.FundingRaisedAmount += amount
	project.UpdatedAt = time.Now()
	if project.Status == models.ProjectStatusApproved &&
		project.FundingRaisedAmount >= project.FundingGoalAmount {
		project.Status = models.ProjectStatusFunded
		l.metrics.fundedFlips.Inc()
		l.logger.Info(
			"project reached funding goal",
			"component", "ledger",
			"project_id", projectId,
			"funding_raised", project.FundingRaisedAmount,
		)
	}
	l.metrics.txsApplied.Inc()
	l.metrics.amountApplied.WithLabelValues(project.FundingGoalCurrency).
		Add(float64(amount))
	if l.config.Store != nil {
		if err := l.config.Store.AddAppliedTransaction(
			&models.AppliedTransaction{
				ProjectID:     projectId,
				TransactionID: transactionId,
				Amount:        amount,
				Currency:      currency,
				AppliedAt:     time.Now(),
			},
		); err != nil {
			l.logger.Error(
				"failed to persist applied transaction",
				"component", "ledger",
				"project_id", projectId,
				"tx_id", transactionId,
				"error", err,
			)
		}
	}
	l.persistProject(project)
	l.emitFundingUpdated(project, transactionId, amount)
	return nil
}

func (l *Ledger) recordAnomaly(
	projectId string,
	transactionId string,
	amount int64,
	currency string,
	reason string,
) {
	l.metrics.anomalies.Inc()
	l.logger.Warn(
		"funding anomaly",
		"component", "ledger",
		"project_id", projectId,
		"tx_id", transactionId,
		"amount", amount,
		"reason", reason,
	)
	if l.config.Store == nil {
		return
	}
	if err := l.config.Store.AddFundingAnomaly(&models.FundingAnomaly{
		ProjectID:     projectId,
		TransactionID: transactionId,
		Amount:        amount,
		Currency:      currency,
		Reason:        reason,
		CreatedAt:     time.Now(),
	}); err != nil {
		l.logger.Error(
			"failed to persist funding anomaly",
			"component", "ledger",
			"project_id", projectId,
			"error", err,
		)
	}
}

// handleTxStatus applies confirmed donation and investment transactions
func (l *Ledger) handleTxStatus(evt event.Event) {
	statusEvt, ok := evt.Data.(txtracker.TransactionStatusChangedEvent)
	if !ok {
		return
	}
	if statusEvt.Status != models.TransactionStatusConfirmed {
		return
	}
	if statusEvt.Type != models.TransactionTypeDonation &&
		statusEvt.Type != models.TransactionTypeInvestment {
		return
	}
	if statusEvt.ProjectId == "" {
		return
	}
	if err := l.RecordConfirmedTransaction(
		statusEvt.ProjectId,
		statusEvt.TransactionId,
		statusEvt.Amount,
		statusEvt.Currency,
	); err != nil {
		l.logger.Error(
			"failed to record confirmed transaction",
			"component", "ledger",
			"project_id", statusEvt.ProjectId,
			"tx_id", statusEvt.TransactionId,
			"error", err,
		)
	}
}

func (l *Ledger) persistProject(project *models.Project) {
	if l.config.Store == nil {
		return
	}
	if err := l.config.Store.SaveProject(project); err != nil {
		l.logger.Error(
			"failed to persist project",
			"component", "ledger",
			"project_id", project.ID,
			"error", err,
		)
	}
}

func (l *Ledger) emitFundingUpdated(
	project *models.Project,
	transactionId string,
	amount int64,
) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Publish(
		FundingUpdatedEventType,
		event.New(
			FundingUpdatedEventType,
			FundingUpdatedEvent{
				ProjectId:     project.ID,
				TransactionId: transactionId,
				Amount:        amount,
				Currency:      project.FundingGoalCurrency,
				FundingRaised: project.FundingRaisedAmount,
				Status:        project.Status,
			},
		),
	)
}
