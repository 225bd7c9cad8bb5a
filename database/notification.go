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
	"github.com/chainraise/chainraise/database/models"
	"gorm.io/gorm/clause"
)

// AddNotification records a delivered notification. Returns
// ErrAlreadyDelivered if a notification for the same (event, user) pair
// already exists.
func (d *Database) AddNotification(
	notification *models.Notification,
	txn *Txn,
) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(notification)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

// GetUserNotifications returns the most recent notifications for a user,
// newest first
func (d *Database) GetUserNotifications(
	userId string,
	limit int,
) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var ret []models.Notification
	result := d.metadata.DB().
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Limit(limit).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
