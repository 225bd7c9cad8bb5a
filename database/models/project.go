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

// Project status values
const (
	ProjectStatusDraft       = "draft"
	ProjectStatusSubmitted   = "submitted"
	ProjectStatusUnderReview = "under_review"
	ProjectStatusApproved    = "approved"
	ProjectStatusFunded      = "funded"
	ProjectStatusActive      = "active"
	ProjectStatusCompleted   = "completed"
	ProjectStatusFailed      = "failed"
	ProjectStatusCancelled   = "cancelled"
)

// projectStatusEdges defines the allowed project status transitions
var projectStatusEdges = map[string][]string{
	ProjectStatusDraft:       {ProjectStatusSubmitted, ProjectStatusCancelled},
	ProjectStatusSubmitted:   {ProjectStatusUnderReview, ProjectStatusCancelled},
	ProjectStatusUnderReview: {ProjectStatusApproved, ProjectStatusFailed, ProjectStatusCancelled},
	ProjectStatusApproved:    {ProjectStatusFunded, ProjectStatusActive, ProjectStatusFailed, ProjectStatusCancelled},
	ProjectStatusFunded:      {ProjectStatusActive, ProjectStatusCompleted, ProjectStatusCancelled},
	ProjectStatusActive:      {ProjectStatusCompleted, ProjectStatusFailed, ProjectStatusCancelled},
}

// ValidProjectTransition reports whether a project may move from one status
// to another along a defined edge
func ValidProjectTransition(from, to string) bool {
	for _, next := range projectStatusEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalProjectStatus reports whether the status accepts no further
// transitions
func TerminalProjectStatus(status string) bool {
	return len(projectStatusEdges[status]) == 0
}

// Project represents a fundable project. FundingRaisedAmount is derived from
// confirmed transactions and is never written by API clients. Amounts are in
// minor currency units.
type Project struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Deadline            time.Time
	ArchivedAt          *time.Time
	ID                  string `gorm:"primaryKey;size:36"`
	OwnerID             string `gorm:"index;size:36"`
	Title               string `gorm:"size:255"`
	FundingGoalCurrency string `gorm:"size:8;not null"`
	Status              string `gorm:"index;size:16;not null"`
	FundingGoalAmount   int64  `gorm:"not null"`
	FundingRaisedAmount int64  `gorm:"not null;default:0"`
}

func (Project) TableName() string {
	return "project"
}
