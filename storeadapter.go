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
	"errors"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database"
	"github.com/chainraise/chainraise/database/models"
)

// storeAdapter backs every component's Store interface with the engine's
// database. Components own authoritative in-memory state and write through;
// the adapter is only read back at startup hydration.
type storeAdapter struct {
	db *database.Database
}

// SaveTransaction implements txtracker.Store
func (s *storeAdapter) SaveTransaction(tx *models.TrackedTransaction) error {
	return s.db.SetTrackedTransaction(tx, nil)
}

// SaveSession implements governance.Store
func (s *storeAdapter) SaveSession(session *models.VotingSession) error {
	return s.db.SetVotingSession(session, nil)
}

// SaveMilestone implements milestone.Store
func (s *storeAdapter) SaveMilestone(milestone *models.Milestone) error {
	return s.db.SetMilestone(milestone, nil)
}

// SaveProject implements ledger.Store
func (s *storeAdapter) SaveProject(project *models.Project) error {
	return s.db.SetProject(project, nil)
}

// AddAppliedTransaction implements ledger.Store. The ledger's in-memory
// applied set already filtered duplicates, so a unique-index hit here just
// means a restart replayed a write.
func (s *storeAdapter) AddAppliedTransaction(
	applied *models.AppliedTransaction,
) error {
	err := s.db.AddAppliedTransaction(applied, nil)
	if errors.Is(err, database.ErrAlreadyApplied) {
		return nil
	}
	return err
}

// AddFundingAnomaly implements ledger.Store
func (s *storeAdapter) AddFundingAnomaly(
	anomaly *models.FundingAnomaly,
) error {
	return s.db.AddFundingAnomaly(anomaly, nil)
}

// AddNotification implements notify.Store. Duplicate errors pass through so
// the dispatcher can suppress redelivery.
func (s *storeAdapter) AddNotification(
	notification *models.Notification,
) error {
	return s.db.AddNotification(notification, nil)
}

// ArchiveEvent implements the ingestor's archiver
func (s *storeAdapter) ArchiveEvent(evt chainevent.NormalizedEvent) error {
	return s.db.Blob().ArchiveEvent(evt)
}
