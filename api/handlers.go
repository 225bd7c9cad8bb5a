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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(
	w http.ResponseWriter,
	status int,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Message:    message,
	})
}

// handleHealth handles GET /health
func (a *Api) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy:       true,
		ProviderHealthy: a.node.ProviderHealthy(),
	})
}

// handleProject handles GET /api/v1/projects/{id}
func (a *Api) handleProject(
	w http.ResponseWriter,
	r *http.Request,
) {
	project, ok := a.node.GetProject(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, NewProjectResponse(project))
}

// handleProjectMilestones handles GET /api/v1/projects/{id}/milestones
func (a *Api) handleProjectMilestones(
	w http.ResponseWriter,
	r *http.Request,
) {
	projectId := r.PathValue("id")
	if _, ok := a.node.GetProject(projectId); !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	milestones := a.node.GetProjectMilestones(projectId)
	ret := make([]MilestoneResponse, 0, len(milestones))
	for _, m := range milestones {
		ret = append(ret, NewMilestoneResponse(m))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleMilestone handles GET /api/v1/milestones/{id}
func (a *Api) handleMilestone(
	w http.ResponseWriter,
	r *http.Request,
) {
	milestone, ok := a.node.GetMilestone(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "milestone not found")
		return
	}
	writeJSON(w, http.StatusOK, NewMilestoneResponse(milestone))
}

// handleActiveSessions handles GET /api/v1/voting/sessions
func (a *Api) handleActiveSessions(
	w http.ResponseWriter,
	_ *http.Request,
) {
	sessions := a.node.ActiveSessions()
	ret := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		ret = append(ret, NewSessionResponse(session))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleSession handles GET /api/v1/voting/sessions/{id}
func (a *Api) handleSession(
	w http.ResponseWriter,
	r *http.Request,
) {
	session, ok := a.node.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "voting session not found")
		return
	}
	writeJSON(w, http.StatusOK, NewSessionResponse(session))
}

// handleTransaction handles GET /api/v1/transactions/{id}
func (a *Api) handleTransaction(
	w http.ResponseWriter,
	r *http.Request,
) {
	tx, ok := a.node.GetTransaction(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, NewTransactionResponse(tx))
}

// handleNotifications handles GET /api/v1/notifications/{userId}
func (a *Api) handleNotifications(
	w http.ResponseWriter,
	r *http.Request,
) {
	notifications := a.node.Notifications(r.PathValue("userId"))
	ret := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		ret = append(ret, NewNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleNotificationStream handles
// GET /api/v1/notifications/{userId}/stream as server-sent events
func (a *Api) handleNotificationStream(
	w http.ResponseWriter,
	r *http.Request,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(
			w,
			http.StatusInternalServerError,
			"streaming unsupported",
		)
		return
	}
	userId := r.PathValue("userId")
	subId, ch := a.node.SubscribeNotifications(userId)
	defer a.node.UnsubscribeNotifications(userId, subId)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case notification, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(
				NewNotificationResponse(notification),
			)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload) //nolint:errcheck
			flusher.Flush()
		}
	}
}
