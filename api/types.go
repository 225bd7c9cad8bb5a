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

package api

import (
	"time"

	"github.com/chainraise/chainraise/database/models"
)

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// HealthResponse reports engine health
type HealthResponse struct {
	IsHealthy       bool `json:"is_healthy"`
	ProviderHealthy bool `json:"provider_healthy"`
}

// ProjectResponse is the JSON view of a project
type ProjectResponse struct {
	Id            string    `json:"id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Currency      string    `json:"currency"`
	FundingGoal   int64     `json:"funding_goal"`
	FundingRaised int64     `json:"funding_raised"`
	Deadline      time.Time `json:"deadline"`
}

func NewProjectResponse(project models.Project) ProjectResponse {
	return ProjectResponse{
		Id:            project.ID,
		Title:         project.Title,
		Status:        project.Status,
		Currency:      project.FundingGoalCurrency,
		FundingGoal:   project.FundingGoalAmount,
		FundingRaised: project.FundingRaisedAmount,
		Deadline:      project.Deadline,
	}
}

// MilestoneResponse is the JSON view of a milestone
type MilestoneResponse struct {
	Id                string  `json:"id"`
	ProjectId         string  `json:"project_id"`
	Title             string  `json:"title"`
	Status            string  `json:"status"`
	FundingPercentage float64 `json:"funding_percentage"`
	VotingRequired    bool    `json:"voting_required"`
	VotingSessionId   string  `json:"voting_session_id,omitempty"`
	ReleaseTxId       string  `json:"release_tx_id,omitempty"`
}

func NewMilestoneResponse(milestone models.Milestone) MilestoneResponse {
	return MilestoneResponse{
		Id:                milestone.ID,
		ProjectId:         milestone.ProjectID,
		Title:             milestone.Title,
		Status:            milestone.Status,
		FundingPercentage: milestone.FundingPercentage,
		VotingRequired:    milestone.VotingRequired,
		VotingSessionId:   milestone.VotingSessionID,
		ReleaseTxId:       milestone.ReleaseTxID,
	}
}

// SessionResponse is the JSON view of a voting session
type SessionResponse struct {
	Id               string    `json:"id"`
	EntityId         string    `json:"entity_id"`
	EntityType       string    `json:"entity_type"`
	Status           string    `json:"status"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	RequiredQuorum   int       `json:"required_quorum"`
	PassingThreshold float64   `json:"passing_threshold"`
	VoteCount        int       `json:"vote_count"`
	VotesFor         float64   `json:"votes_for,omitempty"`
	TotalPower       float64   `json:"total_power,omitempty"`
}

func NewSessionResponse(session models.VotingSession) SessionResponse {
	return SessionResponse{
		Id:               session.ID,
		EntityId:         session.EntityID,
		EntityType:       session.EntityType,
		Status:           session.Status,
		StartDate:        session.StartDate,
		EndDate:          session.EndDate,
		RequiredQuorum:   session.RequiredQuorum,
		PassingThreshold: session.PassingThreshold,
		VoteCount:        len(session.Votes),
		VotesFor:         session.ResultVotesFor,
		TotalPower:       session.ResultTotalPower,
	}
}

// TransactionResponse is the JSON view of a tracked transaction
type TransactionResponse struct {
	Id                    string  `json:"id"`
	Hash                  string  `json:"hash"`
	Type                  string  `json:"type"`
	Status                string  `json:"status"`
	FailureReason         string  `json:"failure_reason,omitempty"`
	ProjectId             string  `json:"project_id,omitempty"`
	Confirmations         uint64  `json:"confirmations"`
	RequiredConfirmations uint64  `json:"required_confirmations"`
	BlockNumber           *uint64 `json:"block_number,omitempty"`
}

func NewTransactionResponse(
	tx models.TrackedTransaction,
) TransactionResponse {
	return TransactionResponse{
		Id:                    tx.ID,
		Hash:                  tx.Hash,
		Type:                  tx.Type,
		Status:                tx.Status,
		FailureReason:         tx.FailureReason,
		ProjectId:             tx.ProjectID,
		Confirmations:         tx.Confirmations,
		RequiredConfirmations: tx.RequiredConfirmations,
		BlockNumber:           tx.BlockNumber,
	}
}

// NotificationResponse is the JSON view of a notification
type NotificationResponse struct {
	Id        string    `json:"id"`
	EventId   string    `json:"event_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Priority  string    `json:"priority"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func NewNotificationResponse(
	n models.Notification,
) NotificationResponse {
	return NotificationResponse{
		Id:        n.ID,
		EventId:   n.EventID,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  n.Priority,
		Category:  n.Category,
		CreatedAt: n.CreatedAt,
	}
}
