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

package notify

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chainraise/chainraise/database/models"
	"github.com/chainraise/chainraise/event"
	"github.com/chainraise/chainraise/governance"
	"github.com/chainraise/chainraise/ledger"
	"github.com/chainraise/chainraise/txtracker"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification priorities, lowest to highest. Quiet hours suppress
// everything below urgent.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Notification categories
const (
	CategoryFinancial  = "FINANCIAL"
	CategoryProject    = "PROJECT"
	CategoryGovernance = "GOVERNANCE"
	CategorySystem     = "SYSTEM"
)

// Event kinds understood by the dispatcher's priority/category mapping
const (
	KindDonation          = "donation"
	KindInvestment        = "investment"
	KindMilestone         = "milestone"
	KindVote              = "vote"
	KindTransactionFailed = "transaction_failed"
)

// Event is a domain event to fan out as user notifications
type Event struct {
	// Id keys deduplication together with the recipient's user id
	Id        string
	Kind      string
	Title     string
	Body      string
	ProjectId string
}

// UserSettings filters which notifications a user receives. Zero-value
// settings deliver everything.
type UserSettings struct {
	// DisabledCategories and DisabledPriorities name what the user opted
	// out of
	DisabledCategories []string
	DisabledPriorities []string
	// Quiet hours run [QuietStartHour, QuietEndHour) in the user's local
	// hour-of-day; equal values disable the window. A window may wrap
	// midnight.
	QuietStartHour int
	QuietEndHour   int
}

// Channel delivers a notification over one transport (in-app, push, email)
type Channel interface {
	Name() string
	Deliver(notification models.Notification) error
}

// RecipientResolver maps a domain event to the users who should hear about
// it
type RecipientResolver interface {
	Recipients(evt Event) []string
}

// SettingsSource resolves per-user notification settings
type SettingsSource interface {
	UserSettings(userId string) (UserSettings, bool)
}

// Store persists delivered notifications and enforces the (eventId, userId)
// uniqueness across restarts
type Store interface {
	// AddNotification returns database.ErrAlreadyDelivered for a duplicate
	// (eventId, userId) pair
	AddNotification(notification *models.Notification) error
}

type DispatcherConfig struct {
	Logger       *slog.Logger
	EventBus     *event.Bus
	PromRegistry prometheus.Registerer
	Store        Store
	Resolver     RecipientResolver
	Settings     SettingsSource
	Channels     []Channel
	Now          func() time.Time
}

// Dispatcher converts engine events into user notifications: priority and
// category mapping, per-user filtering, deduplication, and channel fan-out.
type Dispatcher struct {
	config  DispatcherConfig
	metrics struct {
		dispatched *prometheus.CounterVec
		suppressed *prometheus.CounterVec
		deliveries *prometheus.CounterVec
		failures   *prometheus.CounterVec
	}
	logger *slog.Logger
	now    func() time.Time
	// seen holds (eventId, userId) pairs already dispatched this process
	seen   map[string]bool
	seenMu sync.Mutex
	subs   []subscription
}

type subscription struct {
	eventType event.EventType
	id        event.SubscriberId
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		config: config,
		now:    config.Now,
		seen:   make(map[string]bool),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		d.logger = config.Logger
	}
	if d.now == nil {
		d.now = time.Now
	}
	promautoFactory := promauto.With(config.PromRegistry)
	d.metrics.dispatched = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_notify_dispatched_total",
			Help: "total notifications dispatched per category",
		},
		[]string{"category"},
	)
	d.metrics.suppressed = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_notify_suppressed_total",
			Help: "total notifications suppressed per reason",
		},
		[]string{"reason"},
	)
	d.metrics.deliveries = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_notify_deliveries_total",
			Help: "total channel deliveries",
		},
		[]string{"channel"},
	)
	d.metrics.failures = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainraise_notify_delivery_failures_total",
			Help: "total failed channel deliveries",
		},
		[]string{"channel"},
	)
	if config.EventBus != nil {
		d.subs = append(d.subs, subscription{
			eventType: txtracker.TransactionStatusChangedEventType,
			id: config.EventBus.SubscribeFunc(
				txtracker.TransactionStatusChangedEventType,
				d.handleTxStatus,
			),
		})
		d.subs = append(d.subs, subscription{
			eventType: governance.SessionFinalizedEventType,
			id: config.EventBus.SubscribeFunc(
				governance.SessionFinalizedEventType,
				d.handleSessionFinalized,
			),
		})
		d.subs = append(d.subs, subscription{
			eventType: ledger.FundingUpdatedEventType,
			id: config.EventBus.SubscribeFunc(
				ledger.FundingUpdatedEventType,
				d.handleFundingUpdated,
			),
		})
	}
	return d
}

// Stop detaches the dispatcher from the event bus
func (d *Dispatcher) Stop() {
	for _, sub := range d.subs {
		d.config.EventBus.Unsubscribe(sub.eventType, sub.id)
	}
}

// classify maps an event kind to its priority and category
func classify(kind string) (priority string, category string) {
	switch kind {
	case KindDonation, KindInvestment:
		return PriorityHigh, CategoryFinancial
	case KindMilestone:
		return PriorityMedium, CategoryProject
	case KindVote:
		return PriorityLow, CategoryGovernance
	case KindTransactionFailed:
		return PriorityUrgent, CategoryFinancial
	default:
		return PriorityMedium, CategorySystem
	}
}

// Dispatch fans an event out to its interested users, returning the
// notifications actually delivered
func (d *Dispatcher) Dispatch(evt Event) []models.Notification {
	if evt.Id == "" || d.config.Resolver == nil {
		return nil
	}
	priority, category := classify(evt.Kind)
	var delivered []models.Notification
	for _, userId := range d.config.Resolver.Recipients(evt) {
		notification, ok := d.dispatchOne(evt, userId, priority, category)
		if ok {
			delivered = append(delivered, notification)
		}
	}
	if len(delivered) > 0 {
		d.metrics.dispatched.WithLabelValues(category).
			Add(float64(len(delivered)))
	}
	return delivered
}

func (d *Dispatcher) dispatchOne(
	evt Event,
	userId string,
	priority string,
	category string,
) (models.Notification, bool) {
	dedupKey := evt.Id + ":" + userId
	d.seenMu.Lock()
	if d.seen[dedupKey] {
		d.seenMu.Unlock()
		d.metrics.suppressed.WithLabelValues("duplicate").Inc()
		return models.Notification{}, false
	}
	d.seen[dedupKey] = true
	d.seenMu.Unlock()
	if !d.allowedBySettings(userId, priority, category) {
		return models.Notification{}, false
	}
	channelNames := make([]string, 0, len(d.config.Channels))
	for _, channel := range d.config.Channels {
		channelNames = append(channelNames, channel.Name())
	}
	notification := models.Notification{
		ID:        uuid.NewString(),
		EventID:   evt.Id,
		UserID:    userId,
		Title:     evt.Title,
		Body:      evt.Body,
		Priority:  priority,
		Category:  category,
		Channels:  strings.Join(channelNames, ","),
		CreatedAt: d.now(),
	}
	if d.config.Store != nil {
		if err := d.config.Store.AddNotification(&notification); err != nil {
			// A unique-index hit means another process run already
			// delivered this pair
			d.metrics.suppressed.WithLabelValues("duplicate").Inc()
			d.logger.Debug(
				"notification already delivered",
				"component", "notify",
				"event_id", evt.Id,
				"user_id", userId,
				"error", err,
			)
			return models.Notification{}, false
		}
	}
	for _, channel := range d.config.Channels {
		if err := channel.Deliver(notification); err != nil {
			d.metrics.failures.WithLabelValues(channel.Name()).Inc()
			d.logger.Error(
				"channel delivery failed",
				"component", "notify",
				"channel", channel.Name(),
				"event_id", evt.Id,
				"user_id", userId,
				"error", err,
			)
			continue
		}
		d.metrics.deliveries.WithLabelValues(channel.Name()).Inc()
	}
	return notification, true
}

func (d *Dispatcher) allowedBySettings(
	userId string,
	priority string,
	category string,
) bool {
	if d.config.Settings == nil {
		return true
	}
	settings, ok := d.config.Settings.UserSettings(userId)
	if !ok {
		return true
	}
	for _, disabled := range settings.DisabledCategories {
		if disabled == category {
			d.metrics.suppressed.WithLabelValues("category").Inc()
			return false
		}
	}
	for _, disabled := range settings.DisabledPriorities {
		if disabled == priority {
			d.metrics.suppressed.WithLabelValues("priority").Inc()
			return false
		}
	}
	if priority != PriorityUrgent &&
		inQuietHours(
			d.now().Hour(),
			settings.QuietStartHour,
			settings.QuietEndHour,
		) {
		d.metrics.suppressed.WithLabelValues("quiet_hours").Inc()
		return false
	}
	return true
}

// inQuietHours reports whether the hour falls in [start, end), handling
// windows that wrap midnight. Equal bounds disable the window.
func inQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (d *Dispatcher) handleTxStatus(evt event.Event) {
	statusEvt, ok := evt.Data.(txtracker.TransactionStatusChangedEvent)
	if !ok {
		return
	}
	switch statusEvt.Status {
	case models.TransactionStatusConfirmed:
		kind := KindDonation
		switch statusEvt.Type {
		case models.TransactionTypeInvestment:
			kind = KindInvestment
		case models.TransactionTypeRelease:
			kind = KindMilestone
		case models.TransactionTypeGovernance:
			kind = KindVote
		}
		d.Dispatch(Event{
			Id:        statusEvt.TransactionId + ":" + statusEvt.Status,
			Kind:      kind,
			Title:     "Transaction confirmed",
			Body:      fmt.Sprintf("Transaction %s confirmed", statusEvt.Hash),
			ProjectId: statusEvt.ProjectId,
		})
	case models.TransactionStatusFailed:
		d.Dispatch(Event{
			Id:   statusEvt.TransactionId + ":" + statusEvt.Status,
			Kind: KindTransactionFailed,
			Title: fmt.Sprintf(
				"Transaction failed (%s)",
				statusEvt.FailureReason,
			),
			Body:      fmt.Sprintf("Transaction %s failed", statusEvt.Hash),
			ProjectId: statusEvt.ProjectId,
		})
	}
}

func (d *Dispatcher) handleSessionFinalized(evt event.Event) {
	finalized, ok := evt.Data.(governance.SessionFinalizedEvent)
	if !ok {
		return
	}
	d.Dispatch(Event{
		Id:   finalized.SessionId + ":finalized",
		Kind: KindVote,
		Title: fmt.Sprintf(
			"Voting session %s",
			finalized.Status,
		),
		Body: fmt.Sprintf(
			"Voting on %s %s finished: %s",
			finalized.EntityType,
			finalized.EntityId,
			finalized.Status,
		),
	})
}

func (d *Dispatcher) handleFundingUpdated(evt event.Event) {
	funding, ok := evt.Data.(ledger.FundingUpdatedEvent)
	if !ok {
		return
	}
	// Only the funded flip is user-facing; per-donation notifications come
	// from the transaction tracker
	if funding.Status != models.ProjectStatusFunded {
		return
	}
	d.Dispatch(Event{
		Id:        funding.ProjectId + ":funded",
		Kind:      KindMilestone,
		Title:     "Project fully funded",
		Body:      "The project reached its funding goal",
		ProjectId: funding.ProjectId,
	})
}
