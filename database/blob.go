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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/chainraise/chainraise/chainevent"
	badger "github.com/dgraph-io/badger/v4"
)

func formatBadger(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

const eventKeyPrefix = "event:"

// ErrBlobNotFound is returned when a requested blob key does not exist
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the Badger-backed append-only archive for raw normalized
// event payloads. It serves as the engine's audit trail: entries are written
// once and never updated or deleted.
type BlobStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts our slog logger to badger's logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(formatBadger(format, args...), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(formatBadger(format, args...), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(formatBadger(format, args...), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(formatBadger(format, args...), "component", "badger")
}

// NewBlobStore creates a Badger blob store under dataDir. Uses an in-memory
// store if dataDir is empty, which is useful for testing.
func NewBlobStore(dataDir string, logger *slog.Logger) (*BlobStore, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dataDir, "blob"))
	}
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger})
	} else {
		opts = opts.WithLoggingLevel(badger.ERROR)
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BlobStore{db: db, logger: logger}, nil
}

// ArchiveEvent stores the JSON encoding of a normalized event keyed by its
// event id. Archiving the same event twice is a no-op.
func (s *BlobStore) ArchiveEvent(evt chainevent.NormalizedEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := []byte(eventKeyPrefix + evt.Id)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			// Already archived
			return nil
		}
		return txn.Set(key, payload)
	})
}

// GetEvent retrieves an archived normalized event by id
func (s *BlobStore) GetEvent(id string) (chainevent.NormalizedEvent, error) {
	var evt chainevent.NormalizedEvent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventKeyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrBlobNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &evt)
		})
	})
	return evt, err
}

// Close cleans up the blob store
func (s *BlobStore) Close() error {
	return s.db.Close()
}
