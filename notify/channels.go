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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chainraise/chainraise/database/models"
)

const DefaultFeedLimit = 100

// InAppChannel keeps a bounded per-user notification feed in memory and
// streams new arrivals to live subscribers (the API's SSE endpoint).
type InAppChannel struct {
	limit       int
	feeds       map[string][]models.Notification
	subscribers map[string]map[int]chan models.Notification
	lastSubId   int
	mu          sync.Mutex
}

func NewInAppChannel(limit int) *InAppChannel {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return &InAppChannel{
		limit:       limit,
		feeds:       make(map[string][]models.Notification),
		subscribers: make(map[string]map[int]chan models.Notification),
	}
}

func (c *InAppChannel) Name() string {
	return "in-app"
}

func (c *InAppChannel) Deliver(notification models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	feed := append(c.feeds[notification.UserID], notification)
	if len(feed) > c.limit {
		feed = feed[len(feed)-c.limit:]
	}
	c.feeds[notification.UserID] = feed
	for _, ch := range c.subscribers[notification.UserID] {
		select {
		case ch <- notification:
		default:
			// Slow subscriber; it still has the feed
		}
	}
	return nil
}

// Feed returns the user's retained notifications, oldest first
func (c *InAppChannel) Feed(userId string) []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	feed := c.feeds[userId]
	ret := make([]models.Notification, len(feed))
	copy(ret, feed)
	return ret
}

// Subscribe streams the user's future notifications until Unsubscribe
func (c *InAppChannel) Subscribe(
	userId string,
) (int, <-chan models.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSubId++
	subId := c.lastSubId
	ch := make(chan models.Notification, 16)
	if _, ok := c.subscribers[userId]; !ok {
		c.subscribers[userId] = make(map[int]chan models.Notification)
	}
	c.subscribers[userId][subId] = ch
	return subId, ch
}

func (c *InAppChannel) Unsubscribe(userId string, subId int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subs, ok := c.subscribers[userId]; ok {
		if ch, ok2 := subs[subId]; ok2 {
			delete(subs, subId)
			close(ch)
		}
		if len(subs) == 0 {
			delete(c.subscribers, userId)
		}
	}
}

// WebhookChannel posts notifications to an external delivery gateway. Push
// and email delivery both run through gateways of this shape.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookChannel(
	name string,
	url string,
	timeout time.Duration,
) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string {
	return c.name
}

func (c *WebhookChannel) Deliver(notification models.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	resp, err := c.client.Post(
		c.url,
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("%s delivery failed: %w", c.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return fmt.Errorf(
			"%s gateway returned status %d",
			c.name,
			resp.StatusCode,
		)
	}
	return nil
}
