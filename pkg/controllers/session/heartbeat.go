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
	"errors"
	"fmt"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/state"
)

const (
	idleWarningMessage  = "Session idle - will terminate in %d minutes"
	idleCriticalMessage = "Session will be terminated due to inactivity"
)

// Heartbeat records client liveness and returns idle telemetry. A heartbeat
// only counts as activity when the user is plausibly present: the portal tab
// is visible, or the gateway still shows a live connection. Background tabs
// keep the session alive only as long as the gateway does.
//
//nolint:gocyclo
func (c *Controller) Heartbeat(ctx context.Context, sessionID string, req HeartbeatRequest) (*HeartbeatResponse, error) {
	claims, err := c.authorize(req.Token)
	if err != nil {
		return nil, err
	}
	session, err := c.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session %s, %w", sessionID, err)
	}
	if err := authorizeOwner(claims, session); err != nil {
		return nil, err
	}
	switch session.Status {
	case apis.SessionReady, apis.SessionActive, apis.SessionProvisioning:
	default:
		return nil, &BadRequestError{Reason: fmt.Sprintf("session is %s", session.Status)}
	}

	now := c.clk.Now().Unix()
	gatewayConnected := false
	if session.Connection != nil && session.Connection.ConnectionID != "" {
		gatewayConnected = c.gatewayConnected(ctx, session.Connection.ConnectionID)
	}
	tabVisible := req.TabVisible == nil || *req.TabVisible
	active := (req.ActivityType == "browser" && tabVisible) || gatewayConnected

	patch := state.SessionPatch{LastHeartbeatAt: &now, FocusMode: &req.FocusMode}
	session.LastHeartbeatAt = now
	session.FocusMode = req.FocusMode
	if active {
		patch.LastActiveAt = &now
		session.LastActiveAt = now
		if session.IdleWarningAt != 0 {
			patch.ClearIdleWarning = true
			session.IdleWarningAt = 0
		}
		if session.Status == apis.SessionReady {
			activeStatus := apis.SessionActive
			patch.Status = &activeStatus
			session.Status = activeStatus
		}
	}

	lastActive := session.LastActiveAt
	if lastActive == 0 {
		lastActive = session.CreatedAt
	}
	idleSeconds := now - lastActive
	warning, termination := c.opts.IdleThresholds(session.Plan)
	warningSecs := int64(warning.Seconds())
	terminationSecs := int64(termination.Seconds())

	response := &HeartbeatResponse{
		SessionID:                session.SessionID,
		Plan:                     session.Plan,
		IdleSeconds:              idleSeconds,
		IdleWarningThreshold:     warningSecs,
		IdleTerminationThreshold: terminationSecs,
		GatewayConnected:         gatewayConnected,
		ExpiresAt:                session.ExpiresAt,
		FocusMode:                session.FocusMode,
	}
	level := "ok"
	if session.FocusMode || !c.opts.EnableIdleDetection {
		// Idle enforcement is off: report thresholds as disabled.
		response.TimeUntilWarning = -1
		response.TimeUntilTermination = -1
	} else {
		response.IdleWarning = idleSeconds >= warningSecs
		response.IdleCritical = idleSeconds >= terminationSecs
		response.TimeUntilWarning = max(0, warningSecs-idleSeconds)
		response.TimeUntilTermination = max(0, terminationSecs-idleSeconds)
		switch {
		case response.IdleCritical:
			level = "critical"
			response.WarningLevel = level
			response.WarningMessage = idleCriticalMessage
		case response.IdleWarning:
			level = "warning"
			response.WarningLevel = level
			minutesLeft := (terminationSecs - idleSeconds + 59) / 60
			response.WarningMessage = fmt.Sprintf(idleWarningMessage, minutesLeft)
			if session.IdleWarningAt == 0 {
				patch.IdleWarningAt = &now
				session.IdleWarningAt = now
			}
		}
	}

	if err := c.store.Sessions.UpdateIfActive(ctx, session.SessionID, patch); err != nil {
		if errors.Is(err, state.ErrConditionFailed) {
			return nil, &BadRequestError{Reason: "session is terminated"}
		}
		return nil, fmt.Errorf("recording heartbeat, %w", err)
	}
	response.Status = session.Status
	heartbeatsMetric.WithLabelValues(level).Inc()
	return response, nil
}
