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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainraise/chainraise/api"
	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database"
	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
	"github.com/chainraise/chainraise/governance"
	"github.com/chainraise/chainraise/ledger"
	"github.com/chainraise/chainraise/milestone"
	"github.com/chainraise/chainraise/notify"
	"github.com/chainraise/chainraise/submit"
	"github.com/chainraise/chainraise/txtracker"
)

// Engine is the off-chain coordination engine: it owns the event bus, the
// database, and every component worker, and wires them together.
type Engine struct {
	config        Config
	eventBus      *event.Bus
	db            *database.Database
	store         *storeAdapter
	ingestor      *chainevent.Ingestor
	tracker       *txtracker.Tracker
	votes         *governance.Engine
	milestones    *milestone.Controller
	ledger        *ledger.Ledger
	dispatcher    *notify.Dispatcher
	inApp         *notify.InAppChannel
	api           *api.Api
	apiCancel     context.CancelFunc
	shutdownFuncs []func(context.Context) error
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Engine, error) {
	if cfg.logSource == nil {
		return nil, errors.New("no chain event source defined")
	}
	e := &Engine{
		config:   cfg,
		eventBus: event.NewBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	return e, nil
}

// Run starts every component and blocks until Stop is called
func (e *Engine) Run() error {
	// Configure tracing
	if e.config.tracing {
		if err := e.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(e.config.logger, e.config.dataDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	e.store = &storeAdapter{db: db}
	// Transaction tracker
	e.tracker = txtracker.NewTracker(txtracker.TrackerConfig{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		PromRegistry: e.config.promRegistry,
		Store:        e.store,
		Timeout:      e.config.confirmationTimeout,
	})
	// Governance voting engine
	e.votes = governance.NewEngine(governance.EngineConfig{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		PromRegistry: e.config.promRegistry,
		Store:        e.store,
	})
	// Funding ledger
	e.ledger = ledger.NewLedger(ledger.LedgerConfig{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		PromRegistry: e.config.promRegistry,
		Store:        e.store,
		StatusGuard:  e.guardProjectStatus,
	})
	// Milestone release controller
	var submitter submit.Submitter
	if e.config.relayURL != "" {
		submitter = submit.NewRelayClient(submit.RelayClientConfig{
			Logger: e.config.logger,
			URL:    e.config.relayURL,
		})
	}
	voterSource := e.config.voterSource
	if voterSource == nil {
		voterSource = &ownerVoterSource{ledger: e.ledger}
	}
	requiredConfirmations := e.config.requiredConfirmations
	if requiredConfirmations == 0 {
		requiredConfirmations = milestone.DefaultRequiredConfirmations
	}
	e.milestones = milestone.NewController(milestone.ControllerConfig{
		Logger:                e.config.logger,
		EventBus:              e.eventBus,
		PromRegistry:          e.config.promRegistry,
		Store:                 e.store,
		Projects:              e.ledger,
		Votes:                 e.votes,
		Voters:                voterSource,
		Submitter:             submitter,
		Tracker:               e.tracker,
		ReleaseContract:       e.config.releaseContract,
		VotingPeriod:          e.config.votingPeriod,
		RequiredConfirmations: requiredConfirmations,
	})
	// Notification dispatcher
	e.inApp = notify.NewInAppChannel(0)
	channels := []notify.Channel{e.inApp}
	if e.config.pushGatewayURL != "" {
		channels = append(
			channels,
			notify.NewWebhookChannel("push", e.config.pushGatewayURL, 0),
		)
	}
	if e.config.emailGatewayURL != "" {
		channels = append(
			channels,
			notify.NewWebhookChannel("email", e.config.emailGatewayURL, 0),
		)
	}
	recipients := e.config.recipients
	if recipients == nil {
		recipients = &ownerRecipientResolver{ledger: e.ledger}
	}
	e.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		PromRegistry: e.config.promRegistry,
		Store:        e.store,
		Resolver:     recipients,
		Settings:     e.config.settings,
		Channels:     channels,
	})
	// Hydrate component state from the database
	if err := e.hydrate(); err != nil {
		return fmt.Errorf("failed to hydrate engine state: %w", err)
	}
	// Chain event ingestor
	e.ingestor = chainevent.NewIngestor(chainevent.IngestorConfig{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		PromRegistry: e.config.promRegistry,
		Source:       e.config.logSource,
		Archiver:     e.store,
		PollInterval: e.config.pollInterval,
	})
	if err := e.ingestor.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start chain event ingestor: %w", err)
	}
	// API listener
	if e.config.apiListenAddress != "" {
		e.api = api.New(
			api.ApiConfig{ListenAddress: e.config.apiListenAddress},
			e,
			e.config.logger,
		)
		apiCtx, apiCancel := context.WithCancel(context.Background())
		e.apiCancel = apiCancel
		if err := e.api.Start(apiCtx); err != nil {
			apiCancel()
			return err
		}
	}

	// Wait for shutdown signal
	<-e.done
	return nil
}

// hydrate reloads persisted projects, milestones, pending tracked
// transactions, and open voting sessions into their owning components after
// a restart
func (e *Engine) hydrate() error {
	projects, err := e.db.ListProjects()
	if err != nil {
		return err
	}
	for _, project := range projects {
		applied, err := e.db.GetAppliedTransactions(project.ID)
		if err != nil {
			return err
		}
		appliedIds := make([]string, 0, len(applied))
		for _, a := range applied {
			appliedIds = append(appliedIds, a.TransactionID)
		}
		if err := e.ledger.RegisterProject(project, appliedIds); err != nil {
			return err
		}
		milestones, err := e.db.GetProjectMilestones(project.ID)
		if err != nil {
			return err
		}
		for _, m := range milestones {
			if err := e.milestones.AddMilestone(m); err != nil {
				return err
			}
		}
	}
	// Pending transactions resume confirmation counting; without them a
	// milestone's recorded release tx id would be unknown to the tracker
	pending, err := e.db.ListTrackedTransactionsByStatus(
		models.TransactionStatusPending,
	)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		if err := e.tracker.Restore(tx); err != nil {
			return err
		}
	}
	for _, status := range []string{
		models.SessionStatusPending,
		models.SessionStatusActive,
	} {
		sessions, err := e.db.ListVotingSessionsByStatus(status)
		if err != nil {
			return err
		}
		for _, session := range sessions {
			if err := e.votes.RestoreSession(session); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) Stop() error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown()
	})
	return err
}

func (e *Engine) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if e.config.shutdownTimeout > 0 {
		shutdownTimeout = e.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	e.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop accepting new work
	if e.apiCancel != nil {
		e.apiCancel()
	}
	if e.api != nil {
		if stopErr := e.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}
	if e.ingestor != nil {
		e.ingestor.Stop()
	}

	// Phase 2: drain component workers
	if e.milestones != nil {
		e.milestones.Stop()
	}
	if e.votes != nil {
		e.votes.Stop()
	}
	if e.tracker != nil {
		e.tracker.Stop()
	}
	if e.ledger != nil {
		e.ledger.Stop()
	}
	if e.dispatcher != nil {
		e.dispatcher.Stop()
	}

	// Phase 3: flush state and close database
	if e.db != nil {
		if closeErr := e.db.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("database close: %w", closeErr),
			)
		}
	}

	// Phase 4: cleanup resources
	for _, fn := range e.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	e.shutdownFuncs = nil

	if e.eventBus != nil {
		e.eventBus.Stop()
	}

	e.config.logger.Debug("graceful shutdown complete")
	close(e.done)
	return err
}

// guardProjectStatus enforces cross-component invariants on project status
// transitions. A project may only leave draft for submitted when its
// milestone funding percentages sum to 100.
func (e *Engine) guardProjectStatus(
	project models.Project,
	newStatus string,
) error {
	if project.Status != models.ProjectStatusDraft ||
		newStatus != models.ProjectStatusSubmitted {
		return nil
	}
	if e.milestones == nil {
		return nil
	}
	return e.milestones.ValidateProjectMilestones(project.ID)
}

// Ledger returns the engine's project funding ledger
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Milestones returns the engine's milestone release controller
func (e *Engine) Milestones() *milestone.Controller {
	return e.milestones
}

// Votes returns the engine's governance voting engine
func (e *Engine) Votes() *governance.Engine {
	return e.votes
}

// Tracker returns the engine's transaction confirmation tracker
func (e *Engine) Tracker() *txtracker.Tracker {
	return e.tracker
}

// ownerVoterSource snapshots the project owner as the sole eligible voter.
// Deployments with richer stakeholder data supply their own VoterSource.
type ownerVoterSource struct {
	ledger *ledger.Ledger
}

func (s *ownerVoterSource) EligibleVoters(
	projectId string,
) []governance.EligibleVoter {
	project, ok := s.ledger.GetProject(projectId)
	if !ok || project.OwnerID == "" {
		return nil
	}
	return []governance.EligibleVoter{
		{UserId: project.OwnerID, VotingPower: 1},
	}
}

// ownerRecipientResolver notifies the owning project's owner
type ownerRecipientResolver struct {
	ledger *ledger.Ledger
}

func (r *ownerRecipientResolver) Recipients(evt notify.Event) []string {
	if evt.ProjectId == "" {
		return nil
	}
	project, ok := r.ledger.GetProject(evt.ProjectId)
	if !ok || project.OwnerID == "" {
		return nil
	}
	return []string{project.OwnerID}
}

// GetProject implements api.ApiNode
func (e *Engine) GetProject(id string) (models.Project, bool) {
	return e.ledger.GetProject(id)
}

// GetProjectMilestones implements api.ApiNode
func (e *Engine) GetProjectMilestones(
	projectId string,
) []models.Milestone {
	milestones, err := e.db.GetProjectMilestones(projectId)
	if err != nil {
		return nil
	}
	return milestones
}

// GetMilestone implements api.ApiNode
func (e *Engine) GetMilestone(id string) (models.Milestone, bool) {
	return e.milestones.GetMilestone(id)
}

// ActiveSessions implements api.ApiNode
func (e *Engine) ActiveSessions() []models.VotingSession {
	return e.votes.ActiveSessions()
}

// GetSession implements api.ApiNode
func (e *Engine) GetSession(id string) (models.VotingSession, bool) {
	session, err := e.votes.GetSession(id)
	if err != nil {
		return models.VotingSession{}, false
	}
	return session, true
}

// GetTransaction implements api.ApiNode
func (e *Engine) GetTransaction(
	id string,
) (models.TrackedTransaction, bool) {
	return e.tracker.Get(id)
}

// Notifications implements api.ApiNode
func (e *Engine) Notifications(userId string) []models.Notification {
	notifications, err := e.db.GetUserNotifications(userId, 0)
	if err != nil {
		return nil
	}
	return notifications
}

// SubscribeNotifications implements api.ApiNode
func (e *Engine) SubscribeNotifications(
	userId string,
) (int, <-chan models.Notification) {
	return e.inApp.Subscribe(userId)
}

// UnsubscribeNotifications implements api.ApiNode
func (e *Engine) UnsubscribeNotifications(userId string, subId int) {
	e.inApp.Unsubscribe(userId, subId)
}

// ProviderHealthy implements api.ApiNode
func (e *Engine) ProviderHealthy() bool {
	if e.ingestor == nil {
		return false
	}
	return e.ingestor.Healthy()
}
