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

import "errors"

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyApplied is returned when a transaction id has already been
// applied to a project's funding total
var ErrAlreadyApplied = errors.New("transaction already applied")

// ErrAlreadyDelivered is returned when a notification for the same
// (event, user) pair has already been recorded
var ErrAlreadyDelivered = errors.New("notification already delivered")
