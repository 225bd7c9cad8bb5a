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
	"github.com/chainraise/chainraise/database/models"
)

// ApiNode is the interface the API server uses to query engine state. This
// decouples the HTTP server from the concrete Engine struct and enables
// testing with mock implementations.
type ApiNode interface {
	// GetProject returns the current funding state of a project
	GetProject(id string) (models.Project, bool)

	// GetProjectMilestones returns a project's milestones
	GetProjectMilestones(projectId string) []models.Milestone

	// GetMilestone returns the current state of a milestone
	GetMilestone(id string) (models.Milestone, bool)

	// ActiveSessions returns the voting sessions currently accepting votes
	ActiveSessions() []models.VotingSession

	// GetSession returns a voting session by id
	GetSession(id string) (models.VotingSession, bool)

	// GetTransaction returns a tracked transaction by tracking id
	GetTransaction(id string) (models.TrackedTransaction, bool)

	// Notifications returns a user's retained notifications
	Notifications(userId string) []models.Notification

	// SubscribeNotifications streams a user's future notifications
	SubscribeNotifications(
		userId string,
	) (int, <-chan models.Notification)

	// UnsubscribeNotifications ends a notification stream
	UnsubscribeNotifications(userId string, subId int)

	// ProviderHealthy reports whether the chain event provider is
	// currently reachable
	ProviderHealthy() bool
}
