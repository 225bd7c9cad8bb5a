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

// Notification represents a delivered user-facing notification. The
// (EventID, UserID) pair is unique so redelivery of an already-seen event is
// dropped.
type Notification struct {
	CreatedAt time.Time
	ID        string `gorm:"primaryKey;size:36"`
	EventID   string `gorm:"uniqueIndex:idx_notification_unique,priority:1;size:128;not null"`
	UserID    string `gorm:"uniqueIndex:idx_notification_unique,priority:2;size:36;not null"`
	Title     string `gorm:"size:255"`
	Body      string `gorm:"size:1024"`
	Priority  string `gorm:"size:8;not null"`
	Category  string `gorm:"size:16;not null"`
	Channels  string `gorm:"size:64"`
}

func (Notification) TableName() string {
	return "notification"
}
