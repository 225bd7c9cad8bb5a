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
	"errors"

	"github.com/chainraise/chainraise/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetVotingSession stores a voting session together with its eligibility
// snapshot and votes
func (d *Database) SetVotingSession(
	session *models.VotingSession,
	txn *Txn,
) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Session(&gorm.Session{FullSaveAssociations: true}).
		Save(session).Error
}

// GetVotingSession returns the voting session with the given id, including
// eligible voters and votes
func (d *Database) GetVotingSession(
	id string,
) (models.VotingSession, error) {
	var ret models.VotingSession
	result := d.metadata.DB().
		Preload("EligibleVoters").
		Preload("Votes").
		First(&ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ret, ErrNotFound
		}
		return ret, result.Error
	}
	return ret, nil
}

// ListVotingSessionsByStatus returns all voting sessions in the given status
func (d *Database) ListVotingSessionsByStatus(
	status string,
) ([]models.VotingSession, error) {
	var ret []models.VotingSession
	result := d.metadata.DB().
		Preload("EligibleVoters").
		Preload("Votes").
		Where("status = ?", status).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// SetVote upserts a vote on its (session, user) unique key
func (d *Database) SetVote(vote *models.Vote, txn *Txn) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"},
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns(
			[]string{"choice", "reason", "voting_power", "voted_at"},
		),
	}).Create(vote).Error
}
