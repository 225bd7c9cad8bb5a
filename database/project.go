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
)

// SetProject stores a project, creating or updating it by id
func (d *Database) SetProject(project *models.Project, txn *Txn) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Save(project).Error
}

// GetProject returns the project with the given id
func (d *Database) GetProject(id string) (models.Project, error) {
	var ret models.Project
	result := d.metadata.DB().First(&ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ret, ErrNotFound
		}
		return ret, result.Error
	}
	return ret, nil
}

// ListProjects returns all stored projects
func (d *Database) ListProjects() ([]models.Project, error) {
	var ret []models.Project
	result := d.metadata.DB().Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// SetMilestone stores a milestone, creating or updating it by id
func (d *Database) SetMilestone(milestone *models.Milestone, txn *Txn) error {
	db := d.metadata.DB()
	if txn != nil {
		db = txn.Metadata()
	}
	return db.Session(&gorm.Session{FullSaveAssociations: true}).
		Save(milestone).Error
}

// GetMilestone returns the milestone with the given id, including its
// deliverables
func (d *Database) GetMilestone(id string) (models.Milestone, error) {
	var ret models.Milestone
	result := d.metadata.DB().
		Preload("Deliverables").
		First(&ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ret, ErrNotFound
		}
		return ret, result.Error
	}
	return ret, nil
}

// GetProjectMilestones returns all milestones owned by a project
func (d *Database) GetProjectMilestones(
	projectId string,
) ([]models.Milestone, error) {
	var ret []models.Milestone
	result := d.metadata.DB().
		Preload("Deliverables").
		Where("project_id = ?", projectId).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
