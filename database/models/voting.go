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

package models

import "time"

// Voting session status values
const (
	SessionStatusPending  = "pending"
	SessionStatusActive   = "active"
	SessionStatusPassed   = "passed"
	SessionStatusRejected = "rejected"
	SessionStatusExpired  = "expired"
)

// Vote choice values
const (
	VoteChoiceFor     = "for"
	VoteChoiceAgainst = "against"
	VoteChoiceAbstain = "abstain"
)

// Entity types a voting session may target
const (
	VoteEntityProject    = "project"
	VoteEntityMilestone  = "milestone"
	VoteEntityGovernance = "governance"
)

// VotingSession represents a quorum-based vote on a project, milestone, or
// governance change. Results fields are written exactly once at finalization
// and are immutable thereafter. Quorum counts distinct voters while the
// passing threshold is evaluated over weighted votes.
type VotingSession struct {
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartDate        time.Time
	EndDate          time.Time
	FinalizedAt      *time.Time
	EligibleVoters   []EligibleVoter `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE"`
	Votes            []Vote          `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE"`
	ID               string          `gorm:"primaryKey;size:36"`
	EntityID         string          `gorm:"index:idx_session_entity,priority:2;size:36;not null"`
	EntityType       string          `gorm:"index:idx_session_entity,priority:1;size:16;not null"`
	Status           string          `gorm:"index;size:16;not null"`
	PassingThreshold float64         `gorm:"not null"`
	ResultVotesFor   float64         `gorm:"not null;default:0"`
	ResultTotalPower float64         `gorm:"not null;default:0"`
	RequiredQuorum   int             `gorm:"not null"`
	ResultVoterCount int             `gorm:"not null;default:0"`
	AllowsVoteChange bool            `gorm:"not null;default:false"`
}

func (VotingSession) TableName() string {
	return "voting_session"
}

// EligibleVoter is a snapshot of a voter's power taken when the eligibility
// list is created. Power is never re-read live so tallies stay deterministic.
type EligibleVoter struct {
	ID          uint    `gorm:"primaryKey"`
	SessionID   string  `gorm:"uniqueIndex:idx_eligible_unique,priority:1;size:36;not null"`
	UserID      string  `gorm:"uniqueIndex:idx_eligible_unique,priority:2;size:36;not null"`
	VotingPower float64 `gorm:"not null"`
}

func (EligibleVoter) TableName() string {
	return "eligible_voter"
}

// Vote is a single counted vote. Each eligible voter contributes at most one
// counted vote per session; a re-vote replaces the prior row when the session
// allows vote changes.
type Vote struct {
	VotedAt     time.Time
	ID          uint    `gorm:"primaryKey"`
	SessionID   string  `gorm:"uniqueIndex:idx_vote_unique,priority:1;size:36;not null"`
	UserID      string  `gorm:"uniqueIndex:idx_vote_unique,priority:2;size:36;not null"`
	Choice      string  `gorm:"size:8;not null"`
	Reason      string  `gorm:"size:512"`
	VotingPower float64 `gorm:"not null"`
}

func (Vote) TableName() string {
	return "vote"
}
