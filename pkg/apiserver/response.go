/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackdesk/orchestrator/pkg/controllers/session"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// envelope is the uniform response shape. data carries the payload on
// success; message carries the human-readable error otherwise.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: s.clk.Now().Unix(),
	}); err != nil {
		// Headers are gone; nothing to do but log.
		s.logger.Warnw("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := s.classify(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Errorw("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := envelope{
		Success:   false,
		Message:   err.Error(),
		Timestamp: s.clk.Now().Unix(),
	}
	if payload != nil {
		response.Data = payload
	}
	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		s.logger.Warnw("encoding error response", "error", encodeErr)
	}
}

// classify maps controller errors to HTTP statuses. Quota errors carry extra
// fields the portal renders.
func (s *Server) classify(err error) (int, any) {
	var badRequest *session.BadRequestError
	var quota *session.QuotaExceededError
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized, nil
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, nil
	case errors.As(err, &quota):
		return http.StatusForbidden, map[string]any{
			"remaining_minutes": quota.RemainingMinutes,
			"resets_at":         quota.ResetsAt,
		}
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, nil
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound, nil
	case errors.Is(err, session.ErrCapacity):
		return http.StatusServiceUnavailable, nil
	}
	return http.StatusInternalServerError, nil
}

func decodeBody[T any](r *http.Request) (T, error) {
	var body T
	if r.Body == nil || r.ContentLength == 0 {
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, &session.BadRequestError{Reason: "malformed request body"}
	}
	return body, nil
}
