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

package txtracker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainraise/chainraise/chainevent"
	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
)

func newTestTracker(
	t *testing.T,
	timeout time.Duration,
	checkInterval time.Duration,
) (*Tracker, *event.Bus) {
	t.Helper()
	eb := event.NewBus(nil, nil)
	tracker := NewTracker(TrackerConfig{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		EventBus:      eb,
		PromRegistry:  prometheus.NewRegistry(),
		Timeout:       timeout,
		CheckInterval: checkInterval,
	})
	t.Cleanup(func() {
		tracker.Stop()
		eb.Stop()
	})
	return tracker, eb
}

func publishBlock(eb *event.Bus, blockNumber uint64) {
	eb.Publish(
		chainevent.BlockObservedEventType,
		event.New(
			chainevent.BlockObservedEventType,
			chainevent.BlockObservedEvent{BlockNumber: blockNumber},
		),
	)
}

func publishMined(eb *event.Bus, txHash string, blockNumber uint64) {
	eb.Publish(
		chainevent.NormalizedEventType,
		event.New(
			chainevent.NormalizedEventType,
			chainevent.NormalizedEvent{
				Id:          txHash + ":mined",
				EventName:   "DonationReceived",
				TxHash:      txHash,
				BlockNumber: blockNumber,
			},
		),
	)
}

// waitForStatus polls until the tracked transaction reaches the wanted
// status or the timeout expires
func waitForStatus(
	t *testing.T,
	tracker *Tracker,
	txId string,
	status string,
) models.TrackedTransaction {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx, ok := tracker.Get(txId)
		if ok && tx.Status == status {
			return tx
		}
		time.Sleep(5 * time.Millisecond)
	}
	tx, _ := tracker.Get(txId)
	t.Fatalf("transaction never reached %s, still %s", status, tx.Status)
	return models.TrackedTransaction{}
}

func TestTrackRejectsInvalidRequests(t *testing.T) {
	tracker, _ := newTestTracker(t, 0, 0)
	_, err := tracker.Track(TrackRequest{RequiredConfirmations: 1})
	require.Error(t, err)
	_, err = tracker.Track(TrackRequest{Hash: "0x1"})
	require.Error(t, err)
}

func TestTrackIsIdempotentByHash(t *testing.T) {
	tracker, _ := newTestTracker(t, 0, 0)
	id1, err := tracker.Track(
		TrackRequest{Hash: "0x1", RequiredConfirmations: 1},
	)
	require.NoError(t, err)
	id2, err := tracker.Track(
		TrackRequest{Hash: "0x1", RequiredConfirmations: 1},
	)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestConfirmationLifecycle(t *testing.T) {
	// Scenario: requiredConfirmations=3, blocks arrive giving confirmations
	// 1, 2, 3; the transaction flips to confirmed exactly once
	tracker, eb := newTestTracker(t, 0, 0)
	_, statusCh := eb.Subscribe(TransactionStatusChangedEventType)
	txId, err := tracker.Track(TrackRequest{
		Hash:                  "0xd4",
		Type:                  models.TransactionTypeDonation,
		RequiredConfirmations: 3,
	})
	require.NoError(t, err)
	// Initial pending status event from registration
	evt := <-statusCh
	statusEvt := evt.Data.(TransactionStatusChangedEvent)
	require.Equal(t, models.TransactionStatusPending, statusEvt.Status)
	// Mined in block 10
	publishMined(eb, "0xd4", 10)
	publishBlock(eb, 10) // 1 confirmation
	publishBlock(eb, 11) // 2 confirmations
	tx, ok := tracker.Get(txId)
	require.True(t, ok)
	// Still pending before the threshold
	require.NotEqual(t, models.TransactionStatusConfirmed, tx.Status)
	publishBlock(eb, 12) // 3 confirmations
	tx = waitForStatus(t, tracker, txId, models.TransactionStatusConfirmed)
	assert.Equal(t, uint64(3), tx.Confirmations)
	// Exactly one confirmed event
	var confirmedCount int
	timeout := time.After(300 * time.Millisecond)
	for done := false; !done; {
		select {
		case evt := <-statusCh:
			statusEvt := evt.Data.(TransactionStatusChangedEvent)
			if statusEvt.Status == models.TransactionStatusConfirmed {
				confirmedCount++
			}
		case <-timeout:
			done = true
		}
	}
	require.Equal(t, 1, confirmedCount)
	// Re-observing blocks after confirmation changes nothing
	publishBlock(eb, 13)
	tx, _ = tracker.Get(txId)
	require.Equal(t, models.TransactionStatusConfirmed, tx.Status)
}

func TestRevertedTransaction(t *testing.T) {
	tracker, eb := newTestTracker(t, 0, 0)
	txId, err := tracker.Track(TrackRequest{
		Hash:                  "0xdead",
		RequiredConfirmations: 2,
	})
	require.NoError(t, err)
	eb.Publish(
		chainevent.TransactionRevertedEventType,
		event.New(
			chainevent.TransactionRevertedEventType,
			chainevent.TransactionRevertedEvent{TxHash: "0xdead"},
		),
	)
	tx := waitForStatus(t, tracker, txId, models.TransactionStatusFailed)
	assert.Equal(t, models.FailureReasonReverted, tx.FailureReason)
}

func TestTimeoutTransition(t *testing.T) {
	tracker, _ := newTestTracker(
		t,
		20*time.Millisecond,
		10*time.Millisecond,
	)
	txId, err := tracker.Track(TrackRequest{
		Hash:                  "0x51",
		RequiredConfirmations: 2,
	})
	require.NoError(t, err)
	tx := waitForStatus(t, tracker, txId, models.TransactionStatusFailed)
	assert.Equal(t, models.FailureReasonTimeout, tx.FailureReason)
}

func TestRestoreResumesPendingTransaction(t *testing.T) {
	// Scenario: a pending transaction persisted before a restart is restored
	// and proceeds to confirmed from incoming block events
	tracker, eb := newTestTracker(t, 0, 0)
	require.NoError(t, tracker.Restore(models.TrackedTransaction{
		ID:                    "tx-1",
		Hash:                  "0xr1",
		Type:                  models.TransactionTypeRelease,
		Status:                models.TransactionStatusPending,
		RequiredConfirmations: 2,
		SubmittedAt:           time.Now(),
	}))
	tx, ok := tracker.Get("tx-1")
	require.True(t, ok)
	require.Equal(t, models.TransactionStatusPending, tx.Status)
	tx, ok = tracker.GetByHash("0xr1")
	require.True(t, ok)
	require.Equal(t, "tx-1", tx.ID)
	publishMined(eb, "0xr1", 20)
	publishBlock(eb, 21)
	tx = waitForStatus(t, tracker, "tx-1", models.TransactionStatusConfirmed)
	assert.Equal(t, uint64(2), tx.Confirmations)
}

func TestRestoreRejectsInvalidRecords(t *testing.T) {
	tracker, _ := newTestTracker(t, 0, 0)
	require.Error(t, tracker.Restore(models.TrackedTransaction{Hash: "0x1"}))
	require.Error(t, tracker.Restore(models.TrackedTransaction{ID: "tx-1"}))
	require.NoError(t, tracker.Restore(models.TrackedTransaction{
		ID:                    "tx-1",
		Hash:                  "0x1",
		Status:                models.TransactionStatusPending,
		RequiredConfirmations: 1,
		SubmittedAt:           time.Now(),
	}))
	// Duplicate id and duplicate hash are both refused
	require.Error(t, tracker.Restore(models.TrackedTransaction{
		ID:     "tx-1",
		Hash:   "0x2",
		Status: models.TransactionStatusPending,
	}))
	require.Error(t, tracker.Restore(models.TrackedTransaction{
		ID:     "tx-2",
		Hash:   "0x1",
		Status: models.TransactionStatusPending,
	}))
}

func TestCancelPendingOnly(t *testing.T) {
	tracker, eb := newTestTracker(t, 0, 0)
	txId, err := tracker.Track(TrackRequest{
		Hash:                  "0xc1",
		RequiredConfirmations: 1,
	})
	require.NoError(t, err)
	require.NoError(t, tracker.Cancel(txId))
	tx, _ := tracker.Get(txId)
	require.Equal(t, models.TransactionStatusCancelled, tx.Status)
	// Cancelling a terminal transaction fails with an invalid state error
	err = tracker.Cancel(txId)
	var invalidState *InvalidStateError
	require.ErrorAs(t, err, &invalidState)
	// A confirmed transaction cannot be cancelled either
	txId2, err := tracker.Track(TrackRequest{
		Hash:                  "0xc2",
		RequiredConfirmations: 1,
	})
	require.NoError(t, err)
	publishMined(eb, "0xc2", 5)
	publishBlock(eb, 5)
	waitForStatus(t, tracker, txId2, models.TransactionStatusConfirmed)
	require.Error(t, tracker.Cancel(txId2))
}
