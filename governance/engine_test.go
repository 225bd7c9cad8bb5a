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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
)

// testClock is a settable clock for driving the voting window
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func newTestEngine(t *testing.T) (*Engine, *event.Bus, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	eb := event.NewBus(nil, nil)
	engine := NewEngine(EngineConfig{
		Logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		EventBus:     eb,
		PromRegistry: prometheus.NewRegistry(),
		Now:          clock.Now,
	})
	t.Cleanup(func() {
		engine.Stop()
		eb.Stop()
	})
	return engine, eb, clock
}

func voters(n int) []EligibleVoter {
	ret := make([]EligibleVoter, 0, n)
	for i := range n {
		ret = append(ret, EligibleVoter{
			UserId:      string(rune('a' + i)),
			VotingPower: 1,
		})
	}
	return ret
}

func openSession(
	t *testing.T,
	engine *Engine,
	clock *testClock,
	config SessionConfig,
) models.VotingSession {
	t.Helper()
	if config.StartDate.IsZero() {
		config.StartDate = clock.now
	}
	if config.EndDate.IsZero() {
		config.EndDate = clock.now.Add(24 * time.Hour)
	}
	if config.EntityType == "" {
		config.EntityType = models.VoteEntityMilestone
		config.EntityId = "milestone-1"
	}
	session, err := engine.OpenSession(config)
	require.NoError(t, err)
	return session
}

func TestOpenSessionValidation(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	base := SessionConfig{
		StartDate:        clock.now,
		EndDate:          clock.now.Add(time.Hour),
		EligibleVoters:   voters(3),
		EntityType:       models.VoteEntityProject,
		EntityId:         "project-1",
		PassingThreshold: 0.5,
		RequiredQuorum:   2,
	}
	// Valid
	_, err := engine.OpenSession(base)
	require.NoError(t, err)
	// Quorum must be positive
	invalid := base
	invalid.RequiredQuorum = 0
	_, err = engine.OpenSession(invalid)
	require.Error(t, err)
	// Threshold in (0, 1]
	invalid = base
	invalid.PassingThreshold = 0
	_, err = engine.OpenSession(invalid)
	require.Error(t, err)
	invalid = base
	invalid.PassingThreshold = 1.5
	_, err = engine.OpenSession(invalid)
	require.Error(t, err)
	// End must follow start
	invalid = base
	invalid.EndDate = base.StartDate
	_, err = engine.OpenSession(invalid)
	require.Error(t, err)
	// Voter list must not be empty
	invalid = base
	invalid.EligibleVoters = nil
	_, err = engine.OpenSession(invalid)
	require.Error(t, err)
}

func TestCastVoteEligibilityAndWindow(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(3),
		PassingThreshold: 0.5,
		RequiredQuorum:   2,
	})
	// Unknown session
	err := engine.CastVote("nope", "a", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrSessionNotFound)
	// Ineligible voter
	err = engine.CastVote(session.ID, "zz", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrNotEligible)
	// Eligible voter inside the window
	err = engine.CastVote(session.ID, "a", models.VoteChoiceFor, "")
	require.NoError(t, err)
	// After the end date
	clock.now = clock.now.Add(48 * time.Hour)
	err = engine.CastVote(session.ID, "b", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestCastVoteBeforeStart(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		StartDate:        clock.now.Add(time.Hour),
		EndDate:          clock.now.Add(2 * time.Hour),
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	require.Equal(t, models.SessionStatusPending, session.Status)
	err := engine.CastVote(session.ID, "a", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrSessionNotActive)
	// The session activates once the start date passes
	clock.now = clock.now.Add(90 * time.Minute)
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, got.Status)
}

func TestVoteChange(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	// Changes disallowed by default
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	err := engine.CastVote(session.ID, "a", models.VoteChoiceAgainst, "")
	require.ErrorIs(t, err, ErrVoteChangeDisallowed)
	// Changes allowed: the replacement vote is the one counted
	session2 := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
		AllowsVoteChange: true,
	})
	require.NoError(
		t,
		engine.CastVote(session2.ID, "a", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session2.ID, "a", models.VoteChoiceAgainst, "changed"),
	)
	got, err := engine.GetSession(session2.ID)
	require.NoError(t, err)
	require.Len(t, got.Votes, 1)
	assert.Equal(t, models.VoteChoiceAgainst, got.Votes[0].Choice)
}

func TestQuorumNotMetExpires(t *testing.T) {
	// Scenario: five eligible voters, quorum 3, only two vote for. The
	// session expires without passing despite unanimous support.
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(5),
		PassingThreshold: 0.5,
		RequiredQuorum:   3,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "b", models.VoteChoiceFor, ""),
	)
	// Not finalizable early: three more voters could still reach quorum
	_, err := engine.Finalize(session.ID)
	require.ErrorIs(t, err, ErrNotFinalizable)
	clock.now = clock.now.Add(48 * time.Hour)
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	assert.False(t, results.QuorumReached)
	assert.True(t, results.ThresholdReached)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusExpired, got.Status)
}

func TestQuorumAndThresholdPasses(t *testing.T) {
	// Scenario: quorum 3, threshold 0.6, four of five vote with three in
	// favor. 3/4 power in favor exceeds the threshold and the session passes.
	engine, eb, clock := newTestEngine(t)
	_, finalizedCh := eb.Subscribe(SessionFinalizedEventType)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(5),
		PassingThreshold: 0.6,
		RequiredQuorum:   3,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "b", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "c", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "d", models.VoteChoiceAgainst, ""),
	)
	clock.now = clock.now.Add(48 * time.Hour)
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	assert.True(t, results.QuorumReached)
	assert.True(t, results.ThresholdReached)
	assert.Equal(t, float64(3), results.VotesFor)
	assert.Equal(t, float64(4), results.TotalPower)
	assert.Equal(t, 4, results.VoterCount)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPassed, got.Status)
	require.NotNil(t, got.FinalizedAt)
	// A finalized event is published with the same results
	evt := <-finalizedCh
	finalized := evt.Data.(SessionFinalizedEvent)
	assert.Equal(t, session.ID, finalized.SessionId)
	assert.Equal(t, models.SessionStatusPassed, finalized.Status)
	assert.Equal(t, results, finalized.Results)
	// Voting after finalization is rejected
	err = engine.CastVote(session.ID, "e", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestQuorumMetThresholdNotMet(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(3),
		PassingThreshold: 0.75,
		RequiredQuorum:   3,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "b", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "c", models.VoteChoiceAgainst, ""),
	)
	// All voters have voted so the outcome is determined early
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	assert.True(t, results.QuorumReached)
	assert.False(t, results.ThresholdReached)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRejected, got.Status)
}

func TestAbstainCountsTowardQuorumAndPower(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(3),
		PassingThreshold: 0.6,
		RequiredQuorum:   3,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "b", models.VoteChoiceFor, ""),
	)
	require.NoError(
		t,
		engine.CastVote(session.ID, "c", models.VoteChoiceAbstain, ""),
	)
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	// Abstentions dilute the for-fraction: 2/3 >= 0.6 passes here
	assert.True(t, results.QuorumReached)
	assert.True(t, results.ThresholdReached)
	assert.Equal(t, float64(2), results.VotesFor)
	assert.Equal(t, float64(3), results.TotalPower)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	clock.now = clock.now.Add(48 * time.Hour)
	first, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	second, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFinalizeNoVotes(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	clock.now = clock.now.Add(48 * time.Hour)
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	// Zero votes never reaches the threshold
	assert.False(t, results.ThresholdReached)
	assert.False(t, results.QuorumReached)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusExpired, got.Status)
}

func TestEarlyFinalizeWhenQuorumUnreachable(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	// Quorum 3 with only two eligible voters can never be met
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   3,
	})
	require.NoError(
		t,
		engine.CastVote(session.ID, "a", models.VoteChoiceFor, ""),
	)
	results, err := engine.Finalize(session.ID)
	require.NoError(t, err)
	assert.False(t, results.QuorumReached)
	got, err := engine.GetSession(session.ID)
	require.NoError(t, err)
	// Early determination without reaching the end date rejects rather
	// than expires
	assert.Equal(t, models.SessionStatusRejected, got.Status)
}

func TestActiveSessions(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	active := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	openSession(t, engine, clock, SessionConfig{
		StartDate:        clock.now.Add(time.Hour),
		EndDate:          clock.now.Add(2 * time.Hour),
		EligibleVoters:   voters(2),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	sessions := engine.ActiveSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, active.ID, sessions[0].ID)
}

func TestRestoreSession(t *testing.T) {
	// Scenario: an active session persisted before a restart accepts the
	// remaining votes and finalizes on a fresh engine
	engine, _, clock := newTestEngine(t)
	state := models.VotingSession{
		ID:               "session-1",
		EntityID:         "milestone-1",
		EntityType:       models.VoteEntityMilestone,
		StartDate:        clock.now.Add(-time.Hour),
		EndDate:          clock.now.Add(time.Hour),
		RequiredQuorum:   2,
		PassingThreshold: 0.5,
		Status:           models.SessionStatusActive,
		EligibleVoters: []models.EligibleVoter{
			{SessionID: "session-1", UserID: "a", VotingPower: 1},
			{SessionID: "session-1", UserID: "b", VotingPower: 1},
		},
		Votes: []models.Vote{
			{
				SessionID:   "session-1",
				UserID:      "a",
				Choice:      models.VoteChoiceFor,
				VotingPower: 1,
				VotedAt:     clock.now.Add(-time.Minute),
			},
		},
	}
	require.NoError(t, engine.RestoreSession(state))
	require.Error(t, engine.RestoreSession(state))
	require.Error(t, engine.RestoreSession(models.VotingSession{}))
	require.NoError(
		t,
		engine.CastVote("session-1", "b", models.VoteChoiceFor, ""),
	)
	results, err := engine.Finalize("session-1")
	require.NoError(t, err)
	assert.True(t, results.QuorumReached)
	assert.True(t, results.ThresholdReached)
	assert.Equal(t, 2, results.VoterCount)
}

func TestRestoreFinalizedSessionStaysClosed(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	finalizedAt := clock.now.Add(-time.Hour)
	state := models.VotingSession{
		ID:               "session-1",
		EntityID:         "milestone-1",
		EntityType:       models.VoteEntityMilestone,
		StartDate:        clock.now.Add(-48 * time.Hour),
		EndDate:          clock.now.Add(-24 * time.Hour),
		RequiredQuorum:   1,
		PassingThreshold: 0.5,
		Status:           models.SessionStatusPassed,
		FinalizedAt:      &finalizedAt,
		EligibleVoters: []models.EligibleVoter{
			{SessionID: "session-1", UserID: "a", VotingPower: 1},
		},
		Votes: []models.Vote{
			{
				SessionID:   "session-1",
				UserID:      "a",
				Choice:      models.VoteChoiceFor,
				VotingPower: 1,
				VotedAt:     clock.now.Add(-30 * time.Hour),
			},
		},
	}
	require.NoError(t, engine.RestoreSession(state))
	// The restored results survive without re-finalizing
	err := engine.CastVote("session-1", "a", models.VoteChoiceFor, "")
	require.ErrorIs(t, err, ErrSessionClosed)
	results, err := engine.Finalize("session-1")
	require.NoError(t, err)
	assert.True(t, results.QuorumReached)
	assert.Equal(t, float64(1), results.VotesFor)
}

func TestChainVoteCastEvent(t *testing.T) {
	engine, eb, clock := newTestEngine(t)
	session := openSession(t, engine, clock, SessionConfig{
		EligibleVoters:   voters(3),
		PassingThreshold: 0.5,
		RequiredQuorum:   1,
	})
	eb.Publish(
		chainevent.NormalizedEventType,
		event.New(
			chainevent.NormalizedEventType,
			chainevent.NormalizedEvent{
				Id:        "0xv1:VoteCast:5:0",
				EventName: EventNameVoteCast,
				Args: map[string]any{
					"sessionId": session.ID,
					"userId":    "a",
					"choice":    models.VoteChoiceFor,
				},
			},
		),
	)
	// Delivery through the bus is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := engine.GetSession(session.ID)
		require.NoError(t, err)
		if len(got.Votes) == 1 {
			assert.Equal(t, models.VoteChoiceFor, got.Votes[0].Choice)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("on-chain vote never applied")
}
