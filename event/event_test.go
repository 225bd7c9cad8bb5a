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

package event_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainraise/chainraise/event"
)

func TestBusSingleSubscriber(t *testing.T) {
	var testEvtData int = 999
	var testEvtType event.EventType = "test.event"
	eb := event.NewBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.New(testEvtType, testEvtData))
	select {
	case evt, ok := <-subCh:
		require.True(t, ok, "event channel closed unexpectedly")
		v, ok := evt.Data.(int)
		require.True(t, ok, "event data was not of expected type, got %T", evt.Data)
		require.Equal(t, testEvtData, v)
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	var testEvtData int = 42
	var testEvtType event.EventType = "test.event"
	eb := event.NewBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.New(testEvtType, testEvtData))
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "event channel closed unexpectedly")
			require.Equal(t, testEvtData, evt.Data)
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event")
		}
	}
}

func TestBusSubscribeFunc(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	var counter atomic.Int64
	var wg sync.WaitGroup
	eb := event.NewBus(nil, nil)
	wg.Add(3)
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		counter.Add(1)
		wg.Done()
	})
	for range 3 {
		eb.Publish(testEvtType, event.New(testEvtType, nil))
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for handler calls")
	}
	require.Equal(t, int64(3), counter.Load())
	// Stop closes subscriber channels so the handler goroutine exits
	eb.Stop()
}

func TestBusUnsubscribe(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	_, ok := <-subCh
	require.False(t, ok, "expected channel to be closed after unsubscribe")
	// Publishing with no subscribers must not block
	eb.Publish(testEvtType, event.New(testEvtType, nil))
}

func TestBusPublishAsync(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(testEvtType)
	require.True(t, eb.PublishAsync(testEvtType, event.New(testEvtType, 7)))
	select {
	case evt := <-subCh:
		require.Equal(t, 7, evt.Data)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for async event")
	}
}

func TestBusStopAllowsReuse(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	eb.Stop()
	_, ok := <-subCh
	require.False(t, ok, "expected channel closed after Stop")
	// Bus remains usable after Stop
	_, subCh2 := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.New(testEvtType, 1))
	select {
	case evt := <-subCh2:
		require.Equal(t, 1, evt.Data)
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event after restart")
	}
	eb.Stop()
}
