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
	"fmt"
	"net/http"
	"strconv"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/controllers/session"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[session.CreateRequest](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Token = auth.TokenFromRequest(r)
	response, err := s.sessions.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if response.Reused {
		status = http.StatusOK
	}
	s.writeData(w, status, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response, err := s.sessions.Status(r.Context(), r.PathValue("id"), auth.TokenFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, response)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[session.TerminateRequest](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Token = auth.TokenFromRequest(r)
	response, err := s.sessions.Terminate(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, response)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[session.HeartbeatRequest](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Token = auth.TokenFromRequest(r)
	response, err := s.sessions.Heartbeat(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, response)
}

func (s *Server) handleOwnerSessions(w http.ResponseWriter, r *http.Request) {
	response, err := s.sessions.ListOwner(r.Context(), r.PathValue("ownerId"), auth.TokenFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, response)
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, &session.BadRequestError{Reason: "limit must be an integer"})
			return
		}
		limit = parsed
	}
	response, err := s.sessions.ListAdmin(r.Context(), session.AdminListRequest{
		Token:  auth.TokenFromRequest(r),
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{
		"sessions": response,
		"count":    len(response),
	})
}

// handleUsage returns the caller's own consumption for the current month.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	claims, err := s.claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims == nil {
		s.writeError(w, r, fmt.Errorf("%w, usage requires a token", session.ErrUnauthenticated))
		return
	}
	stats, err := s.usage.Stats(r.Context(), claims.UserID, claims.QuotaMinutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

// handleUsageFor returns any owner's consumption. Admin only.
func (s *Server) handleUsageFor(w http.ResponseWriter, r *http.Request) {
	claims, err := s.claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.opts.RequireAuth && (claims == nil || !claims.HasRole(auth.RoleAdmin)) {
		s.writeError(w, r, fmt.Errorf("%w, admin role required", session.ErrForbidden))
		return
	}
	stats, err := s.usage.Stats(r.Context(), r.PathValue("userId"), apis.QuotaUnlimited)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// claims resolves the request's token the same way the session controller
// does: required when auth is on, best-effort otherwise.
func (s *Server) claims(r *http.Request) (*auth.Claims, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		if s.opts.RequireAuth {
			return nil, fmt.Errorf("%w, missing token", session.ErrUnauthenticated)
		}
		return nil, nil
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		if s.opts.RequireAuth {
			return nil, fmt.Errorf("%w, %v", session.ErrUnauthenticated, err)
		}
		return nil, nil
	}
	return claims, nil
}
