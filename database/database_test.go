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

package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := New(nil, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	return db
}

func TestProjectRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	project := &models.Project{
		ID:                  uuid.NewString(),
		Title:               "Clean water wells",
		Status:              models.ProjectStatusDraft,
		FundingGoalAmount:   500000,
		FundingGoalCurrency: "USD",
		Deadline:            time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.SetProject(project, nil))
	got, err := db.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.Title, got.Title)
	assert.Equal(t, models.ProjectStatusDraft, got.Status)
	// Update
	project.Status = models.ProjectStatusSubmitted
	require.NoError(t, db.SetProject(project, nil))
	got, err = db.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusSubmitted, got.Status)
	// Missing project
	_, err = db.GetProject(uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMilestoneRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	projectId := uuid.NewString()
	milestone := &models.Milestone{
		ID:                uuid.NewString(),
		ProjectID:         projectId,
		Title:             "Prototype",
		Status:            models.MilestoneStatusPending,
		FundingPercentage: 60,
		Deliverables: []models.MilestoneDeliverable{
			{Description: "Working prototype"},
			{Description: "Test report"},
		},
	}
	require.NoError(t, db.SetMilestone(milestone, nil))
	got, err := db.GetMilestone(milestone.ID)
	require.NoError(t, err)
	assert.Len(t, got.Deliverables, 2)
	milestones, err := db.GetProjectMilestones(projectId)
	require.NoError(t, err)
	require.Len(t, milestones, 1)
}

func TestAppliedTransactionIdempotence(t *testing.T) {
	db := newTestDatabase(t)
	projectId := uuid.NewString()
	txId := uuid.NewString()
	applied := &models.AppliedTransaction{
		ProjectID:     projectId,
		TransactionID: txId,
		Amount:        1000,
		Currency:      "USD",
		AppliedAt:     time.Now(),
	}
	require.NoError(t, db.AddAppliedTransaction(applied, nil))
	dup := &models.AppliedTransaction{
		ProjectID:     projectId,
		TransactionID: txId,
		Amount:        1000,
		Currency:      "USD",
		AppliedAt:     time.Now(),
	}
	require.ErrorIs(t, db.AddAppliedTransaction(dup, nil), ErrAlreadyApplied)
	appliedTxs, err := db.GetAppliedTransactions(projectId)
	require.NoError(t, err)
	require.Len(t, appliedTxs, 1)
}

func TestVoteUpsert(t *testing.T) {
	db := newTestDatabase(t)
	sessionId := uuid.NewString()
	userId := uuid.NewString()
	vote := &models.Vote{
		SessionID:   sessionId,
		UserID:      userId,
		Choice:      models.VoteChoiceFor,
		VotingPower: 1,
		VotedAt:     time.Now(),
	}
	require.NoError(t, db.SetVote(vote, nil))
	// Re-vote replaces the prior row
	revote := &models.Vote{
		SessionID:   sessionId,
		UserID:      userId,
		Choice:      models.VoteChoiceAgainst,
		VotingPower: 1,
		VotedAt:     time.Now(),
	}
	require.NoError(t, db.SetVote(revote, nil))
	var votes []models.Vote
	result := db.Metadata().DB().
		Where("session_id = ?", sessionId).
		Find(&votes)
	require.NoError(t, result.Error)
	require.Len(t, votes, 1)
	assert.Equal(t, models.VoteChoiceAgainst, votes[0].Choice)
}

func TestNotificationDedup(t *testing.T) {
	db := newTestDatabase(t)
	eventId := uuid.NewString()
	userId := uuid.NewString()
	notification := &models.Notification{
		ID:       uuid.NewString(),
		EventID:  eventId,
		UserID:   userId,
		Title:    "Donation received",
		Priority: "HIGH",
		Category: "FINANCIAL",
	}
	require.NoError(t, db.AddNotification(notification, nil))
	dup := &models.Notification{
		ID:       uuid.NewString(),
		EventID:  eventId,
		UserID:   userId,
		Title:    "Donation received",
		Priority: "HIGH",
		Category: "FINANCIAL",
	}
	require.ErrorIs(t, db.AddNotification(dup, nil), ErrAlreadyDelivered)
}

func TestBlobEventArchive(t *testing.T) {
	db := newTestDatabase(t)
	evt := chainevent.NormalizedEvent{
		Id:           "0xabc:DonationReceived:10:0",
		ContractName: "Funding",
		EventName:    "DonationReceived",
		TxHash:       "0xabc",
		BlockNumber:  10,
		ObservedAt:   time.Now(),
	}
	require.NoError(t, db.Blob().ArchiveEvent(evt))
	// Re-archiving the same event is a no-op
	require.NoError(t, db.Blob().ArchiveEvent(evt))
	got, err := db.Blob().GetEvent(evt.Id)
	require.NoError(t, err)
	assert.Equal(t, evt.EventName, got.EventName)
	_, err = db.Blob().GetEvent("missing")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestTxnCommitAndRollback(t *testing.T) {
	db := newTestDatabase(t)
	projectId := uuid.NewString()
	project := &models.Project{
		ID:                  projectId,
		Status:              models.ProjectStatusDraft,
		FundingGoalAmount:   100,
		FundingGoalCurrency: "USD",
	}
	err := db.Transaction().Do(func(txn *Txn) error {
		return db.SetProject(project, txn)
	})
	require.NoError(t, err)
	_, err = db.GetProject(projectId)
	require.NoError(t, err)
	// A returned error rolls the transaction back
	otherId := uuid.NewString()
	err = db.Transaction().Do(func(txn *Txn) error {
		other := &models.Project{
			ID:                  otherId,
			Status:              models.ProjectStatusDraft,
			FundingGoalCurrency: "USD",
		}
		if err := db.SetProject(other, txn); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	_, err = db.GetProject(otherId)
	require.ErrorIs(t, err, ErrNotFound)
}
