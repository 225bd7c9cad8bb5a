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

package milestone

import (
	"errors"
	"fmt"
)

// ErrMilestoneNotFound is returned when a milestone id is unknown
var ErrMilestoneNotFound = errors.New("milestone not found")

// ErrOutcomeVoteDriven is returned when a manual outcome is recorded for a
// milestone whose outcome is driven by a voting session
var ErrOutcomeVoteDriven = errors.New(
	"milestone outcome is driven by its voting session",
)

// ErrReleaseInProgress is returned when a release is requested while a
// release transaction for the milestone is already pending or confirmed
var ErrReleaseInProgress = errors.New("milestone release already in progress")

// InvalidStateError is returned when an operation is attempted against an
// entity in a status that does not permit it
type InvalidStateError struct {
	Entity  string
	Id      string
	Current string
	Wanted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"%s %s is %s, wanted %s",
		e.Entity,
		e.Id,
		e.Current,
		e.Wanted,
	)
}
