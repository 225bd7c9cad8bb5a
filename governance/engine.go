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

package governance

import (
	"errors"
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
	// SessionFinalizedEventType is emitted once when a session reaches a
	// terminal status
	SessionFinalizedEventType event.EventType = "governance.session_finalized"

	// EventNameVoteCast is the normalized chain event name for an on-chain
	// vote
	EventNameVoteCast = "VoteCast"
)

// SessionFinalizedEvent describes a session reaching passed, rejected, or
// expired
type SessionFinalizedEvent struct {
	SessionId  string
	EntityId   string
	EntityType string
	Status     string
	Results    Results
}

// Results is the immutable outcome of a finalized session. Quorum counts
// distinct voters; the threshold is evaluated over weighted votes. The
// asymmetry is deliberate and mirrors the proposal data model.
type Results struct {
	VotesFor         float64
	VotesAgainst     float64
	TotalPower       float64
	VoterCount       int
	QuorumReached    bool
	ThresholdReached bool
}

// EligibleVoter pairs a voter with their power snapshot for a session
type EligibleVoter struct {
	UserId      string
	VotingPower float64
}

// SessionConfig describes a new voting session
type SessionConfig struct {
	StartDate        time.Time
	EndDate          time.Time
	EligibleVoters   []EligibleVoter
	EntityId         string
	EntityType       string
	PassingThreshold float64
	RequiredQuorum   int
	AllowsVoteChange bool
}

// Store persists voting session state across restarts
type Store interface {
	SaveSession(session *models.VotingSession) error
}

type EngineConfig struct {
	Logger       *slog.Logger
	EventBus     *event.Bus
	PromRegistry prometheus.Registerer
	Store        Store
	// Now is the clock source; defaults to time.Now
	Now func() time.Time
}

// session is the single-writer state for one voting session. All mutation
// goes through the session's own mutex, so sessions are linearized
// individually and run fully in parallel with each other.
type session struct {
	mu    sync.Mutex
	state models.VotingSession
	// results is set exactly once at finalization
	results *Results
}

// Engine manages the proposal and voting session lifecycle: eligibility,
// quorum, weighted tally, threshold evaluation, and finalization.
type Engine struct {
	config  EngineConfig
	metrics struct {
		sessionsOpened    prometheus.Counter
		votesCast         prometheus.Counter
		sessionsFinalized *prometheus.CounterVec
	}
	logger        *slog.Logger
	eventBus      *event.Bus
	now           func() time.Time
	sessions      map[string]*session
	sessionsMutex sync.RWMutex
	chainSubId    event.SubscriberId
}

func NewEngine(config EngineConfig) *Engine {
	e := &Engine{
		config:   config,
		eventBus: config.EventBus,
		now:      config.Now,
		sessions: make(map[string]*session),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		e.logger = config.Logger
	}
	if e.now == nil {
		e.now = time.Now
	}
	promautoFactory := promauto.With(config.PromRegistry)
	e.metrics.sessionsOpened = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_governance_sessions_opened_total",
			Help: "total voting sessions opened",
		},
	)
	e.metrics.votesCast = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "chainraise_governance_votes_cast_total",
			Help: "total votes accepted",
		},
	)
	e.metrics.sessionsFinalized = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_governance_sessions_finalized_total",
			Help: "total sessions finalized per outcome",
		},
		[]string{"status"},
	)
	// Consume on-chain vote-cast events
	if e.eventBus != nil {
		e.chainSubId = e.eventBus.SubscribeFunc(
			chainevent.NormalizedEventType,
			e.handleChainEvent,
		)
	}
	return e
}

// Stop detaches the engine from the event bus
func (e *Engine) Stop() {
	if e.eventBus != nil {
		e.eventBus.Unsubscribe(chainevent.NormalizedEventType, e.chainSubId)
	}
}

// OpenSession validates and registers a new voting session. Status starts
// pending and flips to active at the start date.
func (e *Engine) OpenSession(
	config SessionConfig,
) (models.VotingSession, error) {
	if config.RequiredQuorum <= 0 {
		return models.VotingSession{}, fmt.Errorf(
			"required quorum must be positive, got %d",
			config.RequiredQuorum,
		)
	}
	if config.PassingThreshold <= 0 || config.PassingThreshold > 1 {
		return models.VotingSession{}, fmt.Errorf(
			"passing threshold must be in (0, 1], got %g",
			config.PassingThreshold,
		)
	}
	if !config.EndDate.After(config.StartDate) {
		return models.VotingSession{}, errors.New(
			"end date must be after start date",
		)
	}
	if len(config.EligibleVoters) == 0 {
		return models.VotingSession{}, errors.New(
			"eligible voter list must not be empty",
		)
	}
	state := models.VotingSession{
		ID:               uuid.NewString(),
		EntityID:         config.EntityId,
		EntityType:       config.EntityType,
		StartDate:        config.StartDate,
		EndDate:          config.EndDate,
		RequiredQuorum:   config.RequiredQuorum,
		PassingThreshold: config.PassingThreshold,
		AllowsVoteChange: config.AllowsVoteChange,
		Status:           models.SessionStatusPending,
		CreatedAt:        e.now(),
	}
	for _, voter := range config.EligibleVoters {
		state.EligibleVoters = append(
			state.EligibleVoters,
			models.EligibleVoter{
				SessionID:   state.ID,
				UserID:      voter.UserId,
				VotingPower: voter.VotingPower,
			},
		)
	}
	if !e.now().Before(state.StartDate) {
		state.Status = models.SessionStatusActive
	}
	sess := &session{state: state}
	e.sessionsMutex.Lock()
	e.sessions[state.ID] = sess
	e.sessionsMutex.Unlock()
	e.metrics.sessionsOpened.Inc()
	e.persist(&state)
	e.logger.Info(
		"voting session opened",
		"component", "governance",
		"session_id", state.ID,
		"entity_type", state.EntityType,
		"entity_id", state.EntityID,
	)
	return state, nil
}

// RestoreSession re-registers a persisted session after a restart. The state
// is inserted as-is: nothing is emitted or re-persisted. A session restored
// in a terminal status keeps its finalized results, so Finalize stays
// idempotent and further votes are refused.
func (e *Engine) RestoreSession(state models.VotingSession) error {
	if state.ID == "" {
		return errors.New("session id is required")
	}
	sess := &session{state: state}
	switch state.Status {
	case models.SessionStatusPassed,
		models.SessionStatusRejected,
		models.SessionStatusExpired:
		results := tally(&state)
		sess.results = &results
	}
	e.sessionsMutex.Lock()
	defer e.sessionsMutex.Unlock()
	if _, ok := e.sessions[state.ID]; ok {
		return fmt.Errorf("session %s already registered", state.ID)
	}
	e.sessions[state.ID] = sess
	e.logger.Debug(
		"restored voting session",
		"component", "governance",
		"session_id", state.ID,
		"status", state.Status,
	)
	return nil
}

func (e *Engine) getSession(id string) (*session, error) {
	e.sessionsMutex.RLock()
	defer e.sessionsMutex.RUnlock()
	sess, ok := e.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetSession returns a copy of the session's current state
func (e *Engine) GetSession(id string) (models.VotingSession, error) {
	sess, err := e.getSession(id)
	if err != nil {
		return models.VotingSession{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	e.refreshStatus(sess)
	return sess.state, nil
}

// ActiveSessions returns all sessions currently accepting votes
func (e *Engine) ActiveSessions() []models.VotingSession {
	e.sessionsMutex.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		sessions = append(sessions, sess)
	}
	e.sessionsMutex.RUnlock()
	var ret []models.VotingSession
	for _, sess := range sessions {
		sess.mu.Lock()
		e.refreshStatus(sess)
		if sess.state.Status == models.SessionStatusActive {
			ret = append(ret, sess.state)
		}
		sess.mu.Unlock()
	}
	return ret
}

// refreshStatus flips pending to active once the start date is reached.
// Callers must hold the session lock.
func (e *Engine) refreshStatus(sess *session) {
	if sess.state.Status == models.SessionStatusPending &&
		!e.now().Before(sess.state.StartDate) {
		sess.state.Status = models.SessionStatusActive
	}
}

// CastVote records a vote using the voter's snapshotted power. Voting is
// linearized per session.
func (e *Engine) CastVote(
	sessionId string,
	userId string,
	choice string,
	reason string,
) error {
	sess, err := e.getSession(sessionId)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.results != nil {
		return ErrSessionClosed
	}
	e.refreshStatus(sess)
	now := e.now()
	if sess.state.Status != models.SessionStatusActive ||
		now.After(sess.state.EndDate) {
		return ErrSessionNotActive
	}
	// Power is snapshotted at eligibility-list creation, never re-read live
	var power float64
	eligible := false
	for _, voter := range sess.state.EligibleVoters {
		if voter.UserID == userId {
			power = voter.VotingPower
			eligible = true
			break
		}
	}
	if !eligible {
		return ErrNotEligible
	}
	for idx, vote := range sess.state.Votes {
		if vote.UserID != userId {
			continue
		}
		if !sess.state.AllowsVoteChange {
			return ErrVoteChangeDisallowed
		}
		// Replace the prior vote
		sess.state.Votes[idx].Choice = choice
		sess.state.Votes[idx].Reason = reason
		sess.state.Votes[idx].VotedAt = now
		e.metrics.votesCast.Inc()
		state := sess.state
		e.persist(&state)
		return nil
	}
	sess.state.Votes = append(sess.state.Votes, models.Vote{
		SessionID:   sessionId,
		UserID:      userId,
		Choice:      choice,
		Reason:      reason,
		VotingPower: power,
		VotedAt:     now,
	})
	e.metrics.votesCast.Inc()
	state := sess.state
	e.persist(&state)
	return nil
}

// tally computes the weighted totals over the current vote set
func tally(state *models.VotingSession) Results {
	var ret Results
	for _, vote := range state.Votes {
		ret.TotalPower += vote.VotingPower
		switch vote.Choice {
		case models.VoteChoiceFor:
			ret.VotesFor += vote.VotingPower
		case models.VoteChoiceAgainst:
			ret.VotesAgainst += vote.VotingPower
		}
	}
	ret.VoterCount = len(state.Votes)
	ret.QuorumReached = ret.VoterCount >= state.RequiredQuorum
	// Threshold is defined as false when no votes were cast
	if ret.TotalPower > 0 {
		ret.ThresholdReached = ret.VotesFor/ret.TotalPower >= state.PassingThreshold
	}
	return ret
}

// outcomeDetermined reports whether no sequence of remaining votes can
// change the session's outcome. Callers must hold the session lock.
func (e *Engine) outcomeDetermined(sess *session) bool {
	state := &sess.state
	voted := make(map[string]bool, len(state.Votes))
	for _, vote := range state.Votes {
		voted[vote.UserID] = true
	}
	var remainingCount int
	var remainingPower float64
	for _, voter := range state.EligibleVoters {
		if !voted[voter.UserID] {
			remainingCount++
			remainingPower += voter.VotingPower
		}
	}
	if remainingCount == 0 {
		return true
	}
	current := tally(state)
	// Quorum can never be met
	if current.VoterCount+remainingCount < state.RequiredQuorum {
		return true
	}
	if !current.QuorumReached {
		return false
	}
	// Pass guaranteed: even if every remaining voter votes against
	worstTotal := current.TotalPower + remainingPower
	if worstTotal > 0 &&
		current.VotesFor/worstTotal >= state.PassingThreshold {
		return true
	}
	// Rejection guaranteed: even if every remaining voter votes for
	bestFor := current.VotesFor + remainingPower
	bestTotal := current.TotalPower + remainingPower
	if bestTotal > 0 && bestFor/bestTotal < state.PassingThreshold {
		return true
	}
	return false
}

// Finalize computes the session's immutable results. It is idempotent:
// finalizing an already-finalized session returns the stored results.
// Finalization is permitted after the end date, or earlier when the outcome
// is already mathematically determined.
func (e *Engine) Finalize(sessionId string) (Results, error) {
	sess, err := e.getSession(sessionId)
	if err != nil {
		return Results{}, err
	}
	sess.mu.Lock()
	if sess.results != nil {
		ret := *sess.results
		sess.mu.Unlock()
		return ret, nil
	}
	now := e.now()
	reachedEnd := !now.Before(sess.state.EndDate)
	if !reachedEnd && !e.outcomeDetermined(sess) {
		sess.mu.Unlock()
		return Results{}, ErrNotFinalizable
	}
	results := tally(&sess.state)
	switch {
	case results.QuorumReached && results.ThresholdReached:
		sess.state.Status = models.SessionStatusPassed
	case reachedEnd && !results.QuorumReached:
		sess.state.Status = models.SessionStatusExpired
	default:
		sess.state.Status = models.SessionStatusRejected
	}
	sess.results = &results
	finalizedAt := now
	sess.state.FinalizedAt = &finalizedAt
	sess.state.ResultVotesFor = results.VotesFor
	sess.state.ResultTotalPower = results.TotalPower
	sess.state.ResultVoterCount = results.VoterCount
	state := sess.state
	sess.mu.Unlock()
	e.metrics.sessionsFinalized.WithLabelValues(state.Status).Inc()
	e.persist(&state)
	e.logger.Info(
		"voting session finalized",
		"component", "governance",
		"session_id", state.ID,
		"status", state.Status,
		"votes_for", results.VotesFor,
		"total_power", results.TotalPower,
		"voter_count", results.VoterCount,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			SessionFinalizedEventType,
			event.New(
				SessionFinalizedEventType,
				SessionFinalizedEvent{
					SessionId:  state.ID,
					EntityId:   state.EntityID,
					EntityType: state.EntityType,
					Status:     state.Status,
					Results:    results,
				},
			),
		)
	}
	return results, nil
}

// handleChainEvent applies on-chain vote-cast events to their sessions
func (e *Engine) handleChainEvent(evt event.Event) {
	normalized, ok := evt.Data.(chainevent.NormalizedEvent)
	if !ok || normalized.EventName != EventNameVoteCast {
		return
	}
	sessionId, _ := normalized.Args["sessionId"].(string)
	userId, _ := normalized.Args["userId"].(string)
	choice, _ := normalized.Args["choice"].(string)
	if sessionId == "" || userId == "" || choice == "" {
		e.logger.Warn(
			"malformed vote-cast event",
			"component", "governance",
			"event_id", normalized.Id,
		)
		return
	}
	if err := e.CastVote(sessionId, userId, choice, ""); err != nil {
		e.logger.Warn(
			"rejected on-chain vote",
			"component", "governance",
			"session_id", sessionId,
			"user_id", userId,
			"error", err,
		)
	}
}

func (e *Engine) persist(state *models.VotingSession) {
	if e.config.Store == nil {
		return
	}
	if err := e.config.Store.SaveSession(state); err != nil {
		e.logger.Error(
			"failed to persist voting session",
			"component", "governance",
			"session_id", state.ID,
			"error", err,
		)
	}
}
