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

// Milestone status values
const (
	MilestoneStatusPending     = "pending"
	MilestoneStatusSubmitted   = "submitted"
	MilestoneStatusUnderReview = "under_review"
	MilestoneStatusApproved    = "approved"
	MilestoneStatusRejected    = "rejected"
	MilestoneStatusCompleted   = "completed"
)

// milestoneStatusEdges defines the allowed milestone status transitions.
// rejected -> submitted permits resubmission; completed is terminal.
var milestoneStatusEdges = map[string][]string{
	MilestoneStatusPending:     {MilestoneStatusSubmitted},
	MilestoneStatusSubmitted:   {MilestoneStatusUnderReview},
	MilestoneStatusUnderReview: {MilestoneStatusApproved, MilestoneStatusRejected},
	MilestoneStatusApproved:    {MilestoneStatusCompleted},
	MilestoneStatusRejected:    {MilestoneStatusSubmitted},
}

// ValidMilestoneTransition reports whether a milestone may move from one
// status to another along a defined edge
func ValidMilestoneTransition(from, to string) bool {
	for _, next := range milestoneStatusEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Milestone represents a funding milestone owned by exactly one project.
// FundingPercentage values across a project's milestones must sum to 100
// when the project leaves draft.
type Milestone struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TargetDate        time.Time
	Deliverables      []MilestoneDeliverable `gorm:"foreignKey:MilestoneID;references:ID;constraint:OnDelete:CASCADE"`
	ID                string                 `gorm:"primaryKey;size:36"`
	ProjectID         string                 `gorm:"index;size:36;not null"`
	Title             string                 `gorm:"size:255"`
	Status            string                 `gorm:"index;size:16;not null"`
	Evidence          string
	VotingSessionID   string  `gorm:"size:36"`
	ReleaseTxID       string  `gorm:"size:36"`
	FundingPercentage float64 `gorm:"not null"`
	VotingRequired    bool    `gorm:"not null;default:false"`
}

func (Milestone) TableName() string {
	return "milestone"
}

// MilestoneDeliverable is a single deliverable item attached to a milestone
type MilestoneDeliverable struct {
	ID          uint   `gorm:"primaryKey"`
	MilestoneID string `gorm:"index;size:36;not null"`
	Description string `gorm:"size:512"`
	Completed   bool   `gorm:"not null;default:false"`
}

func (MilestoneDeliverable) TableName() string {
	return "milestone_deliverable"
}
