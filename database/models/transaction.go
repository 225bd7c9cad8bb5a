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

// Tracked transaction status values
const (
	TransactionStatusPending   = "pending"
	TransactionStatusConfirmed = "confirmed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// Tracked transaction failure reasons
const (
	FailureReasonTimeout  = "timeout"
	FailureReasonReverted = "reverted"
)

// Tracked transaction types
const (
	TransactionTypeDonation   = "donation"
	TransactionTypeInvestment = "investment"
	TransactionTypeRelease    = "milestone_release"
	TransactionTypeGovernance = "governance"
)

// TrackedTransaction is the append-only monitoring record for a submitted
// chain transaction. Status moves pending -> confirmed|failed|cancelled and
// never leaves a terminal state; rows are never deleted.
type TrackedTransaction struct {
	SubmittedAt           time.Time
	UpdatedAt             time.Time
	BlockNumber           *uint64 `gorm:"index"`
	ID                    string  `gorm:"primaryKey;size:36"`
	Hash                  string  `gorm:"uniqueIndex;size:66;not null"`
	Type                  string  `gorm:"index;size:24;not null"`
	Status                string  `gorm:"index;size:12;not null"`
	FailureReason         string  `gorm:"size:12"`
	ProjectID             string  `gorm:"index;size:36"`
	AmountCurrency        string  `gorm:"size:8"`
	Amount                int64
	Confirmations         uint64 `gorm:"not null;default:0"`
	RequiredConfirmations uint64 `gorm:"not null"`
}

func (TrackedTransaction) TableName() string {
	return "tracked_transaction"
}

// AppliedTransaction records a transaction id already applied to a project's
// funding total, making ledger application idempotent across restarts.
type AppliedTransaction struct {
	AppliedAt     time.Time
	ID            uint   `gorm:"primaryKey"`
	ProjectID     string `gorm:"uniqueIndex:idx_applied_unique,priority:1;size:36;not null"`
	TransactionID string `gorm:"uniqueIndex:idx_applied_unique,priority:2;size:36;not null"`
	Currency      string `gorm:"size:8"`
	Amount        int64  `gorm:"not null"`
}

func (AppliedTransaction) TableName() string {
	return "applied_transaction"
}

// FundingAnomaly records a confirmed transaction that arrived for a project
// no longer accepting funds. The chain transfer cannot be undone, so the
// arrival is logged for reconciliation instead of surfaced as an error.
type FundingAnomaly struct {
	CreatedAt     time.Time
	ID            uint   `gorm:"primaryKey"`
	ProjectID     string `gorm:"index;size:36;not null"`
	TransactionID string `gorm:"size:36;not null"`
	Currency      string `gorm:"size:8"`
	Reason        string `gorm:"size:255"`
	Amount        int64  `gorm:"not null"`
}

func (FundingAnomaly) TableName() string {
	return "funding_anomaly"
}
