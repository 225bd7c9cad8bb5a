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

// SetTrackedTransaction stores a tracked transaction, creating or updating
// it by id
func (d *Database) SetTrackedTransaction(
	tx *models.TrackedTransaction,
	txn *Txn,
) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Save(tx).Error
}

// GetTrackedTransaction returns the tracked transaction with the given id
func (d *Database) GetTrackedTransaction(
	id string,
) (models.TrackedTransaction, error) {
	var ret models.TrackedTransaction
	result := d.metadata.DB().First(&ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ret, ErrNotFound
		}
		return ret, result.Error
	}
	return ret, nil
}

// GetTrackedTransactionByHash returns the tracked transaction with the given
// chain hash
func (d *Database) GetTrackedTransactionByHash(
	hash string,
) (models.TrackedTransaction, error) {
	var ret models.TrackedTransaction
	result := d.metadata.DB().First(&ret, "hash = ?", hash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ret, ErrNotFound
		}
		return ret, result.Error
	}
	return ret, nil
}

// ListTrackedTransactionsByStatus returns all tracked transactions in the
// given status
func (d *Database) ListTrackedTransactionsByStatus(
	status string,
) ([]models.TrackedTransaction, error) {
	var ret []models.TrackedTransaction
	result := d.metadata.DB().
		Where("status = ?", status).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// AddAppliedTransaction records a transaction id as applied to a project.
// Returns ErrAlreadyApplied if the (project, transaction) pair exists.
func (d *Database) AddAppliedTransaction(
	applied *models.AppliedTransaction,
	txn *Txn,
) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(applied)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyApplied
	}
	return nil
}

// GetAppliedTransactions returns all transaction applications for a project
func (d *Database) GetAppliedTransactions(
	projectId string,
) ([]models.AppliedTransaction, error) {
	var ret []models.AppliedTransaction
	result := d.metadata.DB().
		Where("project_id = ?", projectId).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// AddFundingAnomaly records a confirmed transaction that could not be
// applied to its project
func (d *Database) AddFundingAnomaly(
	anomaly *models.FundingAnomaly,
	txn *Txn,
) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Create(anomaly).Error
}

// GetFundingAnomalies returns all funding anomalies recorded for a project
func (d *Database) GetFundingAnomalies(
	projectId string,
) ([]models.FundingAnomaly, error) {
	var ret []models.FundingAnomaly
	result := d.metadata.DB().
		Where("project_id = ?", projectId).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
