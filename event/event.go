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

package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 50
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

type EventType string

type SubscriberId int

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func New(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// asyncEvent wraps an event with its type for the async queue
type asyncEvent struct {
	eventType EventType
	event     Event
}

// subscriber is a channel-backed event consumer. Deliver blocks on the
// underlying channel; Close is idempotent.
type subscriber struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		ch: make(chan Event, buffer),
	}
}

func (s *subscriber) deliver(evt Event) {
	// Hold a read lock for the duration of the send so close waits for
	// in-flight sends to complete
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		// Subscriber already closed; drop the event
		return
	}
	s.ch <- evt
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus is the typed pub/sub hub that connects the engine's components. All
// cross-component signals (normalized chain events, transaction status
// changes, session finalizations, funding updates) flow through it.
type Bus struct {
	subscribers map[EventType]map[SubscriberId]*subscriber
	metrics     *busMetrics
	lastSubId   SubscriberId
	logger      *slog.Logger
	mu          sync.RWMutex

	asyncQueue chan asyncEvent
	asyncWg    sync.WaitGroup
	stopCh     chan struct{}
	stopped    bool
	stopMu     sync.RWMutex
	stopOpMu   sync.Mutex // serializes Stop() calls
}

// NewBus creates a new event bus with an async delivery worker pool
func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	b := &Bus{
		subscribers: make(map[EventType]map[SubscriberId]*subscriber),
		logger:      logger,
		asyncQueue:  make(chan asyncEvent, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		b.initMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		b.asyncWg.Add(1)
		go b.asyncWorker()
	}
	return b
}

func (b *Bus) asyncWorker() {
	defer b.asyncWg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case ae, ok := <-b.asyncQueue:
			if !ok {
				return
			}
			b.Publish(ae.eventType, ae.event)
		}
	}
}

// Subscribe allows a consumer to receive events of a particular type via a channel
func (b *Bus) Subscribe(eventType EventType) (SubscriberId, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newSubscriber(EventQueueSize)
	subId := b.lastSubId + 1
	b.lastSubId = subId
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberId]*subscriber)
	}
	b.subscribers[eventType][subId] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, sub.ch
}

// SubscribeFunc allows a consumer to receive events of a particular type via a callback function
func (b *Bus) SubscribeFunc(
	eventType EventType,
	handlerFunc HandlerFunc,
) SubscriberId {
	subId, evtCh := b.Subscribe(eventType)
	go func() {
		for evt := range evtCh {
			handlerFunc(evt)
		}
	}()
	return subId
}

// Unsubscribe stops delivery of events for a particular type for an existing subscriber
func (b *Bus) Unsubscribe(eventType EventType, subId SubscriberId) {
	b.mu.Lock()
	var subToClose *subscriber
	if evtTypeSubs, ok := b.subscribers[eventType]; ok {
		if sub, ok2 := evtTypeSubs[subId]; ok2 {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(b.subscribers, eventType)
			}
			if b.metrics != nil {
				b.metrics.subscribers.WithLabelValues(string(eventType)).
					Dec()
			}
		}
	}
	b.mu.Unlock()
	if subToClose != nil {
		subToClose.close()
	}
}

// Publish delivers an event of a particular type to all subscribers. Delivery
// blocks on each subscriber's channel in turn.
func (b *Bus) Publish(eventType EventType, evt Event) {
	// Gather subscribers inside the read lock to avoid a map race
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers[eventType]))
	for _, sub := range b.subscribers[eventType] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(evt)
	}
	if b.metrics != nil {
		b.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync enqueues an event for asynchronous delivery to all subscribers.
// It returns immediately without blocking on subscriber delivery, and returns
// false if the bus is stopped or the async queue is full.
func (b *Bus) PublishAsync(eventType EventType, evt Event) bool {
	b.stopMu.RLock()
	if b.stopped {
		b.stopMu.RUnlock()
		return false
	}
	b.stopMu.RUnlock()
	select {
	case b.asyncQueue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		if b.logger != nil {
			b.logger.Warn(
				"async event queue full, dropping event",
				"type",
				eventType,
			)
		}
		if b.metrics != nil {
			b.metrics.eventsDropped.WithLabelValues(string(eventType)).Inc()
		}
		return false
	}
}

// Stop closes all subscriber channels and clears the subscribers map. This
// ensures that SubscribeFunc goroutines exit cleanly during shutdown. The bus
// can be reused after Stop() is called.
func (b *Bus) Stop() {
	b.stopOpMu.Lock()
	defer b.stopOpMu.Unlock()

	b.stopMu.Lock()
	wasAlreadyStopped := b.stopped
	b.stopped = true
	b.stopMu.Unlock()

	if !wasAlreadyStopped {
		close(b.stopCh)
		b.asyncWg.Wait()
	}

	b.mu.Lock()
	subsCopy := b.subscribers
	b.subscribers = make(map[EventType]map[SubscriberId]*subscriber)
	b.mu.Unlock()

	// Close subscribers outside of lock
	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.close()
		}
	}

	if b.metrics != nil {
		b.metrics.subscribers.Reset()
	}

	// Reinitialize async infrastructure to allow continued use
	b.stopMu.Lock()
	b.asyncQueue = make(chan asyncEvent, AsyncQueueSize)
	b.stopCh = make(chan struct{})
	b.stopped = false
	b.stopMu.Unlock()
	for range AsyncWorkerPoolSize {
		b.asyncWg.Add(1)
		go b.asyncWorker()
	}
}
