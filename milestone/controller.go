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

package milestone

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
	"github.com/chainraise/chainraise/governance"
	"github.com/chainraise/chainraise/submit"
	"github.com/chainraise/chainraise/txtracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// PercentageTolerance is the slack allowed when milestone funding
	// percentages are summed against 100
	PercentageTolerance = 0.01

	DefaultVotingPeriod          = 72 * time.Hour
	DefaultRequiredConfirmations = 3
)

// ProjectView exposes read access to project state. The funding ledger owns
// project mutation; the controller only ever reads.
type ProjectView interface {
	GetProject(id string) (models.Project, bool)
}

// VoteOpener opens voting sessions for milestones that require a vote
type VoteOpener interface {
	OpenSession(config governance.SessionConfig) (models.VotingSession, error)
}

// VoterSource resolves the eligibility snapshot for a project's milestone
// votes
type VoterSource interface {
	EligibleVoters(projectId string) []governance.EligibleVoter
}

// Store persists milestone state across restarts
type Store interface {
	SaveMilestone(milestone *models.Milestone) error
}

type ControllerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.Bus
	PromRegistry prometheus.Registerer
	Store        Store
	Projects     ProjectView
	Votes        VoteOpener
	Voters       VoterSource
	Submitter    submit.Submitter
	Tracker      *txtracker.Tracker
	// ReleaseContract is the milestone escrow contract address
	ReleaseContract string
	// VotingThreshold is the passing threshold for milestone votes
	VotingThreshold float64
	// VotingQuorum is the required quorum for milestone votes
	VotingQuorum          int
	VotingPeriod          time.Duration
	RequiredConfirmations uint64
	Now                   func() time.Time
}

// Controller advances milestones through their verification state machine
// and authorizes fund-release transactions once the guards are satisfied.
type Controller struct {
	config  ControllerConfig
	metrics struct {
		evidenceSubmitted  prometheus.Counter
		outcomes           *prometheus.CounterVec
		releasesSubmitted  prometheus.Counter
		releasesCompleted  prometheus.Counter
		percentageFailures prometheus.Counter
	}
	logger     *slog.Logger
	eventBus   *event.Bus
	now        func() time.Time
	milestones map[string]*models.Milestone
	// releasing holds milestone ids with a release submission in flight,
	// guarding the window between unlock and tracker registration
	releasing    map[string]bool
	finalizedSub event.SubscriberId
	txStatusSub  event.SubscriberId
	sync.RWMutex
}

func NewController(config ControllerConfig) *Controller {
	if config.VotingPeriod <= 0 {
		config.VotingPeriod = DefaultVotingPeriod
	}
	if config.RequiredConfirmations == 0 {
		config.RequiredConfirmations = DefaultRequiredConfirmations
	}
	if config.VotingThreshold <= 0 || config.VotingThreshold > 1 {
		config.VotingThreshold = 0.5
	}
	if config.VotingQuorum <= 0 {
		config.VotingQuorum = 1
	}
	c := &Controller{
		config:     config,
		eventBus:   config.EventBus,
		now:        config.Now,
		milestones: make(map[string]*models.Milestone),
		releasing:  make(map[string]bool),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		c.logger = config.Logger
	}
	if c.now == nil {
		c.now = time.Now
	}
	promautoFactory := promauto.With(config.PromRegistry)
	c.metrics.evidenceSubmitted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_milestone_evidence_submitted_total",
			Help: "total milestone evidence submissions",
		},
	)
	c.metrics.outcomes = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_milestone_verification_outcomes_total",
			Help: "total verification outcomes per result",
		},
		[]string{"outcome"},
	)
	c.metrics.releasesSubmitted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_milestone_releases_submitted_total",
			Help: "total release transactions submitted",
		},
	)
	c.metrics.releasesCompleted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_milestone_releases_completed_total",
			Help: "total milestones completed by a confirmed release",
		},
	)
	c.metrics.percentageFailures = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_milestone_percentage_validation_failures_total",
			Help: "total percentage-sum validation failures",
		},
	)
	if c.eventBus != nil {
		c.finalizedSub = c.eventBus.SubscribeFunc(
			governance.SessionFinalizedEventType,
			c.handleSessionFinalized,
		)
		c.txStatusSub = c.eventBus.SubscribeFunc(
			txtracker.TransactionStatusChangedEventType,
			c.handleTxStatus,
		)
	}
	return c
}

// Stop detaches the controller from the event bus
func (c *Controller) Stop() {
	if c.eventBus != nil {
		c.eventBus.Unsubscribe(
			governance.SessionFinalizedEventType,
			c.finalizedSub,
		)
		c.eventBus.Unsubscribe(
			txtracker.TransactionStatusChangedEventType,
			c.txStatusSub,
		)
	}
}

// ValidatePercentages checks that milestone funding percentages sum to 100
// within tolerance. Enforced when a project leaves draft and on milestone
// edits, not re-validated continuously.
func ValidatePercentages(milestones []models.Milestone) error {
	var sum float64
	for _, m := range milestones {
		if m.FundingPercentage < 0 || m.FundingPercentage > 100 {
			return fmt.Errorf(
				"milestone %s funding percentage %g out of range",
				m.ID,
				m.FundingPercentage,
			)
		}
		sum += m.FundingPercentage
	}
	if math.Abs(sum-100) > PercentageTolerance {
		return fmt.Errorf(
			"milestone funding percentages sum to %g, expected 100",
			sum,
		)
	}
	return nil
}

// AddMilestone registers a milestone with the controller. The full
// percentage-sum invariant is enforced when the project leaves draft via
// ValidateProjectMilestones; once past draft, an addition may not push the
// sibling sum beyond 100.
func (c *Controller) AddMilestone(milestone models.Milestone) error {
	if milestone.ID == "" || milestone.ProjectID == "" {
		return fmt.Errorf("milestone id and project id are required")
	}
	if milestone.FundingPercentage < 0 || milestone.FundingPercentage > 100 {
		return fmt.Errorf(
			"funding percentage %g out of range",
			milestone.FundingPercentage,
		)
	}
	if milestone.Status == "" {
		milestone.Status = models.MilestoneStatusPending
	}
	pastDraft := false
	if c.config.Projects != nil {
		if project, ok := c.config.Projects.GetProject(
			milestone.ProjectID,
		); ok {
			pastDraft = project.Status != "" &&
				project.Status != models.ProjectStatusDraft
		}
	}
	c.Lock()
	if _, ok := c.milestones[milestone.ID]; ok {
		c.Unlock()
		return fmt.Errorf("milestone %s already registered", milestone.ID)
	}
	if pastDraft {
		sum := milestone.FundingPercentage
		for _, m := range c.milestones {
			if m.ProjectID == milestone.ProjectID {
				sum += m.FundingPercentage
			}
		}
		if sum > 100+PercentageTolerance {
			c.Unlock()
			c.metrics.percentageFailures.Inc()
			return fmt.Errorf(
				"milestone funding percentages for project %s would sum to %g",
				milestone.ProjectID,
				sum,
			)
		}
	}
	c.milestones[milestone.ID] = &milestone
	c.Unlock()
	c.persist(&milestone)
	return nil
}

// GetMilestone returns the current state of a milestone
func (c *Controller) GetMilestone(id string) (models.Milestone, bool) {
	c.RLock()
	defer c.RUnlock()
	m, ok := c.milestones[id]
	if !ok {
		return models.Milestone{}, false
	}
	return *m, true
}

// ValidateProjectMilestones enforces the percentage-sum invariant across all
// registered milestones of a project
func (c *Controller) ValidateProjectMilestones(projectId string) error {
	c.RLock()
	var milestones []models.Milestone
	for _, m := range c.milestones {
		if m.ProjectID == projectId {
			milestones = append(milestones, *m)
		}
	}
	c.RUnlock()
	if err := ValidatePercentages(milestones); err != nil {
		c.metrics.percentageFailures.Inc()
		return err
	}
	return nil
}

// SubmitEvidence attaches evidence to a milestone and moves it to submitted.
// Allowed from pending and from rejected (resubmission).
func (c *Controller) SubmitEvidence(
	milestoneId string,
	evidence string,
) (models.Milestone, error) {
	c.Lock()
	m, ok := c.milestones[milestoneId]
	if !ok {
		c.Unlock()
		return models.Milestone{}, ErrMilestoneNotFound
	}
	if !models.ValidMilestoneTransition(
		m.Status,
		models.MilestoneStatusSubmitted,
	) {
		current := m.Status
		c.Unlock()
		return models.Milestone{}, &InvalidStateError{
			Entity:  "milestone",
			Id:      milestoneId,
			Current: current,
			Wanted:  models.MilestoneStatusSubmitted,
		}
	}
	m.Status = models.MilestoneStatusSubmitted
	m.Evidence = evidence
	m.UpdatedAt = c.now()
	mCopy := *m
	c.Unlock()
	c.metrics.evidenceSubmitted.Inc()
	c.persist(&mCopy)
	c.logger.Info(
		"milestone evidence submitted",
		"component", "milestone",
		"milestone_id", milestoneId,
	)
	return mCopy, nil
}

// RequestVerification moves a submitted milestone to under_review. When the
// milestone requires a vote, a voting session is opened and the outcome is
// recorded from the session's finalization instead of manual input.
func (c *Controller) RequestVerification(milestoneId string) error {
	c.Lock()
	m, ok := c.milestones[milestoneId]
	if !ok {
		c.Unlock()
		return ErrMilestoneNotFound
	}
	if !models.ValidMilestoneTransition(
		m.Status,
		models.MilestoneStatusUnderReview,
	) {
		current := m.Status
		c.Unlock()
		return &InvalidStateError{
			Entity:  "milestone",
			Id:      milestoneId,
			Current: current,
			Wanted:  models.MilestoneStatusUnderReview,
		}
	}
	m.Status = models.MilestoneStatusUnderReview
	m.UpdatedAt = c.now()
	mCopy := *m
	c.Unlock()
	if mCopy.VotingRequired {
		if err := c.openVote(&mCopy); err != nil {
			// Roll the transition back so verification can be retried
			c.Lock()
			if m, ok := c.milestones[milestoneId]; ok {
				m.Status = models.MilestoneStatusSubmitted
			}
			c.Unlock()
			return fmt.Errorf("failed to open milestone vote: %w", err)
		}
		c.Lock()
		if m, ok := c.milestones[milestoneId]; ok {
			m.VotingSessionID = mCopy.VotingSessionID
			mCopy = *m
		}
		c.Unlock()
	}
	c.persist(&mCopy)
	c.logger.Info(
		"milestone verification requested",
		"component", "milestone",
		"milestone_id", milestoneId,
		"voting_required", mCopy.VotingRequired,
	)
	return nil
}

func (c *Controller) openVote(m *models.Milestone) error {
	if c.config.Votes == nil || c.config.Voters == nil {
		return fmt.Errorf("no voting backend configured")
	}
	voters := c.config.Voters.EligibleVoters(m.ProjectID)
	if len(voters) == 0 {
		return fmt.Errorf("no eligible voters for project %s", m.ProjectID)
	}
	now := c.now()
	session, err := c.config.Votes.OpenSession(governance.SessionConfig{
		EntityId:         m.ID,
		EntityType:       models.VoteEntityMilestone,
		StartDate:        now,
		EndDate:          now.Add(c.config.VotingPeriod),
		EligibleVoters:   voters,
		PassingThreshold: c.config.VotingThreshold,
		RequiredQuorum:   c.config.VotingQuorum,
	})
	if err != nil {
		return err
	}
	m.VotingSessionID = session.ID
	return nil
}

// RecordVerificationOutcome resolves an under_review milestone to approved
// or rejected. Vote-required milestones are resolved by their voting
// session's finalization, not manually.
func (c *Controller) RecordVerificationOutcome(
	milestoneId string,
	approved bool,
) error {
	c.RLock()
	m, ok := c.milestones[milestoneId]
	votingRequired := ok && m.VotingRequired
	c.RUnlock()
	if !ok {
		return ErrMilestoneNotFound
	}
	if votingRequired {
		return ErrOutcomeVoteDriven
	}
	return c.applyOutcome(milestoneId, approved)
}

func (c *Controller) applyOutcome(milestoneId string, approved bool) error {
	wanted := models.MilestoneStatusApproved
	if !approved {
		wanted = models.MilestoneStatusRejected
	}
	c.Lock()
	m, ok := c.milestones[milestoneId]
	if !ok {
		c.Unlock()
		return ErrMilestoneNotFound
	}
	if !models.ValidMilestoneTransition(m.Status, wanted) {
		current := m.Status
		c.Unlock()
		return &InvalidStateError{
			Entity:  "milestone",
			Id:      milestoneId,
			Current: current,
			Wanted:  wanted,
		}
	}
	m.Status = wanted
	m.UpdatedAt = c.now()
	mCopy := *m
	c.Unlock()
	c.metrics.outcomes.WithLabelValues(wanted).Inc()
	c.persist(&mCopy)
	c.logger.Info(
		"milestone verification outcome recorded",
		"component", "milestone",
		"milestone_id", milestoneId,
		"status", wanted,
	)
	return nil
}

// ReleaseFunds submits the milestone's release transaction and registers it
// for confirmation tracking. The milestone completes only when the release
// transaction confirms; at most one release is ever active per milestone.
func (c *Controller) ReleaseFunds(
	ctx context.Context,
	milestoneId string,
) (string, error) {
	if c.config.Submitter == nil || c.config.Tracker == nil {
		return "", fmt.Errorf("no submission backend configured")
	}
	c.Lock()
	m, ok := c.milestones[milestoneId]
	if !ok {
		c.Unlock()
		return "", ErrMilestoneNotFound
	}
	if m.Status != models.MilestoneStatusApproved {
		current := m.Status
		c.Unlock()
		return "", &InvalidStateError{
			Entity:  "milestone",
			Id:      milestoneId,
			Current: current,
			Wanted:  models.MilestoneStatusApproved,
		}
	}
	if c.releasing[milestoneId] {
		c.Unlock()
		return "", ErrReleaseInProgress
	}
	if m.ReleaseTxID != "" {
		// A release tx id the tracker does not know is treated as still in
		// flight, not as absent. The id is only cleared when the tracked
		// transaction fails or is cancelled.
		tx, ok := c.config.Tracker.Get(m.ReleaseTxID)
		if !ok ||
			tx.Status == models.TransactionStatusPending ||
			tx.Status == models.TransactionStatusConfirmed {
			c.Unlock()
			return "", ErrReleaseInProgress
		}
	}
	mCopy := *m
	c.releasing[milestoneId] = true
	c.Unlock()
	defer func() {
		c.Lock()
		delete(c.releasing, milestoneId)
		c.Unlock()
	}()
	project, ok := c.config.Projects.GetProject(mCopy.ProjectID)
	if !ok {
		return "", fmt.Errorf("unknown project: %s", mCopy.ProjectID)
	}
	switch project.Status {
	case models.ProjectStatusApproved,
		models.ProjectStatusFunded,
		models.ProjectStatusActive:
		// Release permitted
	default:
		return "", &InvalidStateError{
			Entity:  "project",
			Id:      project.ID,
			Current: project.Status,
			Wanted:  models.ProjectStatusActive,
		}
	}
	amount := int64(math.Round(
		float64(project.FundingGoalAmount) * mCopy.FundingPercentage / 100,
	))
	txHash, err := c.config.Submitter.Submit(ctx, submit.Request{
		To:   c.config.ReleaseContract,
		Data: releaseCallData(mCopy.ProjectID, mCopy.ID, amount),
	})
	if err != nil {
		return "", fmt.Errorf("release submission failed: %w", err)
	}
	txId, err := c.config.Tracker.Track(txtracker.TrackRequest{
		Hash:                  txHash,
		Type:                  models.TransactionTypeRelease,
		ProjectId:             mCopy.ProjectID,
		Currency:              project.FundingGoalCurrency,
		Amount:                amount,
		RequiredConfirmations: c.config.RequiredConfirmations,
	})
	if err != nil {
		return "", fmt.Errorf("failed to track release transaction: %w", err)
	}
	c.Lock()
	if m, ok := c.milestones[milestoneId]; ok {
		m.ReleaseTxID = txId
		m.UpdatedAt = c.now()
		mCopy = *m
	}
	c.Unlock()
	c.metrics.releasesSubmitted.Inc()
	c.persist(&mCopy)
	c.logger.Info(
		"milestone release submitted",
		"component", "milestone",
		"milestone_id", milestoneId,
		"tx_hash", txHash,
		"amount", amount,
	)
	return txId, nil
}

// releaseCallData encodes the relay payload for a milestone release
func releaseCallData(projectId, milestoneId string, amount int64) string {
	payload, _ := json.Marshal(map[string]any{ //nolint:errchkjson
		"method":      "releaseMilestoneFunds",
		"projectId":   projectId,
		"milestoneId": milestoneId,
		"amount":      amount,
	})
	return hex.EncodeToString(payload)
}

// handleSessionFinalized applies a milestone vote's outcome
func (c *Controller) handleSessionFinalized(evt event.Event) {
	finalized, ok := evt.Data.(governance.SessionFinalizedEvent)
	if !ok || finalized.EntityType != models.VoteEntityMilestone {
		return
	}
	approved := finalized.Status == models.SessionStatusPassed
	if err := c.applyOutcome(finalized.EntityId, approved); err != nil {
		c.logger.Warn(
			"failed to apply vote outcome",
			"component", "milestone",
			"milestone_id", finalized.EntityId,
			"session_id", finalized.SessionId,
			"error", err,
		)
	}
}

// handleTxStatus completes a milestone when its release confirms, and
// clears the release reference when it fails so the release can be retried
func (c *Controller) handleTxStatus(evt event.Event) {
	statusEvt, ok := evt.Data.(txtracker.TransactionStatusChangedEvent)
	if !ok || statusEvt.Type != models.TransactionTypeRelease {
		return
	}
	c.Lock()
	var mCopy *models.Milestone
	for _, m := range c.milestones {
		if m.ReleaseTxID != statusEvt.TransactionId {
			continue
		}
		switch statusEvt.Status {
		case models.TransactionStatusConfirmed:
			if m.Status == models.MilestoneStatusApproved {
				m.Status = models.MilestoneStatusCompleted
				m.UpdatedAt = c.now()
				clone := *m
				mCopy = &clone
			}
		case models.TransactionStatusFailed,
			models.TransactionStatusCancelled:
			m.ReleaseTxID = ""
			m.UpdatedAt = c.now()
			clone := *m
			mCopy = &clone
		}
		break
	}
	c.Unlock()
	if mCopy == nil {
		return
	}
	if mCopy.Status == models.MilestoneStatusCompleted {
		c.metrics.releasesCompleted.Inc()
		c.logger.Info(
			"milestone completed",
			"component", "milestone",
			"milestone_id", mCopy.ID,
		)
	} else {
		c.logger.Warn(
			"milestone release did not confirm",
			"component", "milestone",
			"milestone_id", mCopy.ID,
			"tx_status", statusEvt.Status,
		)
	}
	c.persist(mCopy)
}

func (c *Controller) persist(m *models.Milestone) {
	if c.config.Store == nil {
		return
	}
	if err := c.config.Store.SaveMilestone(m); err != nil {
		c.logger.Error(
			"failed to persist milestone",
			"component", "milestone",
			"milestone_id", m.ID,
			"error", err,
		)
	}
}
