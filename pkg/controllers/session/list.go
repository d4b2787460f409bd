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

package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/auth"
)

const (
	recentSessionsLimit = 10
	adminListLimit      = 200
)

// ListOwner returns the owner's active sessions plus recent history.
func (c *Controller) ListOwner(ctx context.Context, ownerID, token string) (*OwnerSessions, error) {
	claims, err := c.authorize(token)
	if err != nil {
		return nil, err
	}
	if claims != nil && claims.UserID != ownerID && !claims.HasRole(auth.RoleAdmin) {
		return nil, fmt.Errorf("%w, cannot list another owner's sessions", ErrForbidden)
	}
	all, err := c.store.Sessions.ByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s, %w", ownerID, err)
	}
	result := &OwnerSessions{ActiveSessions: []*Response{}, RecentSessions: []*Response{}}
	for _, session := range all {
		if session.IsActive() {
			result.ActiveSessions = append(result.ActiveSessions, c.format(session))
		} else if len(result.RecentSessions) < recentSessionsLimit {
			result.RecentSessions = append(result.RecentSessions, c.format(session))
		}
	}
	return result, nil
}

// AdminListRequest filters the fleet-wide session listing.
type AdminListRequest struct {
	Token  string
	Status string
	Search string
	Limit  int
}

// ListAdmin returns sessions across all owners, newest first. Requires the
// admin role when authentication is enabled.
func (c *Controller) ListAdmin(ctx context.Context, req AdminListRequest) ([]*Response, error) {
	claims, err := c.authorize(req.Token)
	if err != nil {
		return nil, err
	}
	if c.opts.RequireAuth && (claims == nil || !claims.HasRole(auth.RoleAdmin)) {
		return nil, fmt.Errorf("%w, admin role required", ErrForbidden)
	}

	var sessions []*apis.Session
	if req.Status != "" {
		sessions, err = c.store.Sessions.ByStatus(ctx, apis.SessionStatus(req.Status))
	} else {
		sessions, err = c.store.Sessions.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing sessions, %w", err)
	}

	if search := strings.ToLower(req.Search); search != "" {
		filtered := sessions[:0]
		for _, session := range sessions {
			if strings.Contains(strings.ToLower(session.SessionID), search) ||
				strings.Contains(strings.ToLower(session.OwnerID), search) ||
				strings.Contains(strings.ToLower(session.OwnerDisplayName), search) {
				filtered = append(filtered, session)
			}
		}
		sessions = filtered
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt > sessions[j].CreatedAt
	})

	limit := req.Limit
	if limit <= 0 || limit > adminListLimit {
		limit = adminListLimit
	}
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	responses := make([]*Response, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, c.format(session))
	}
	return responses, nil
}
