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

package governance

import "errors"

// ErrSessionNotFound is returned when a session id is unknown
var ErrSessionNotFound = errors.New("voting session not found")

// ErrNotEligible is returned when the voter is not in the session's
// eligibility snapshot
var ErrNotEligible = errors.New("voter not eligible")

// ErrSessionNotActive is returned when a vote is cast outside the session's
// voting window
var ErrSessionNotActive = errors.New("session not active")

// ErrSessionClosed is returned when a vote is cast after finalization
var ErrSessionClosed = errors.New("session closed")

// ErrVoteChangeDisallowed is returned when a voter re-votes on a session
// that does not allow vote changes
var ErrVoteChangeDisallowed = errors.New("vote change disallowed")

// ErrNotFinalizable is returned when finalization is requested before the
// end date while the outcome is still undetermined
var ErrNotFinalizable = errors.New("session outcome not yet determined")
