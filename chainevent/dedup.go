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

package chainevent

import (
	"container/list"
	"sync"
)

// seenCache is a thread-safe LRU set of log deduplication keys. Entries are
// evicted in LRU order once the cache exceeds maxEntries.
type seenCache struct {
	mu         sync.Mutex
	maxEntries int
	cache      map[string]*list.Element
	lruList    *list.List
}

func newSeenCache(maxEntries int) *seenCache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &seenCache{
		maxEntries: maxEntries,
		cache:      make(map[string]*list.Element),
		lruList:    list.New(),
	}
}

// Seen records the key and reports whether it was already present. A repeated
// key refreshes its LRU position.
func (c *seenCache) Seen(key string) bool {
	if c.maxEntries == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		return true
	}
	elem := c.lruList.PushFront(key)
	c.cache[key] = elem
	if c.lruList.Len() > c.maxEntries {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.lruList.Remove(oldest)
			if oldKey, ok := oldest.Value.(string); ok {
				delete(c.cache, oldKey)
			}
		}
	}
	return false
}

// Len returns the current number of tracked keys
func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}
