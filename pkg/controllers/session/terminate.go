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
	"time"

	"go.uber.org/zap"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// Terminate tears a session down. Terminating an already-terminated session
// is a successful no-op.
func (c *Controller) Terminate(ctx context.Context, sessionID string, req TerminateRequest) (*Response, error) {
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
	if session.Status.IsTerminal() {
		return c.format(session), nil
	}

	reason := req.Reason
	if reason == "" {
		reason = apis.ReasonUserRequested
	}
	stopInstance := true
	if req.StopInstance != nil {
		stopInstance = *req.StopInstance
	}
	c.terminateSession(ctx, session, reason, stopInstance)
	return c.format(session), nil
}

func authorizeOwner(claims *auth.Claims, session *apis.Session) error {
	if claims == nil {
		return nil
	}
	if claims.UserID == session.OwnerID || claims.HasRole(auth.RoleAdmin) {
		return nil
	}
	return fmt.Errorf("%w, session %s belongs to another owner", ErrForbidden, session.SessionID)
}

// terminateSession runs the ordered teardown. Every step before the final
// status write is best-effort: a gateway or cloud hiccup must never leave
// the session stuck in terminating. Usage is recorded before any instance
// stop so billed minutes cannot be lost to a stop failure.
func (c *Controller) terminateSession(ctx context.Context, session *apis.Session, reason string, stopInstance bool) {
	log := logging.FromContext(ctx).With("session-id", session.SessionID, "reason", reason)
	terminating := apis.SessionTerminating
	if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{Status: &terminating}); err != nil {
		log.Warnw("marking session terminating", "error", err)
	}

	if session.Connection != nil && c.opts.EnableGatewayCleanup {
		c.cleanupGateway(ctx, log, session.Connection)
	}

	if session.InstanceID != "" {
		toStatus := apis.InstanceAvailable
		if stopInstance {
			toStatus = apis.InstanceStopping
		}
		if err := c.pool.Release(ctx, session.InstanceID, toStatus); err != nil {
			log.Warnw("releasing instance", "instance-id", session.InstanceID, "error", err)
		}
	}

	elapsed := time.Duration(c.clk.Now().Unix()-session.CreatedAt) * time.Second
	if err := c.usage.RecordSession(ctx, session.OwnerID, session.Plan, sessionQuota(session), elapsed); err != nil {
		log.Warnw("recording session usage", "error", err)
	}

	if stopInstance && session.InstanceID != "" {
		if err := c.instances.Stop(ctx, session.InstanceID); err != nil {
			log.Warnw("stopping instance", "instance-id", session.InstanceID, "error", err)
		}
	}

	// The final write always lands, even when every step above failed.
	now := c.clk.Now().Unix()
	terminated := apis.SessionTerminated
	if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{
		Status:            &terminated,
		TerminatedAt:      &now,
		TerminationReason: &reason,
	}); err != nil {
		log.Errorw("marking session terminated", "error", err)
		return
	}
	session.Status = apis.SessionTerminated
	session.TerminatedAt = now
	session.TerminationReason = reason
	terminatedMetric.WithLabelValues(reason).Inc()
	c.publish(ctx, session)
}

func (c *Controller) cleanupGateway(ctx context.Context, log *zap.SugaredLogger, connection *apis.ConnectionInfo) {
	callCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	if killed, err := c.gateway.KillSessions(callCtx, connection.ConnectionID); err != nil {
		log.Warnw("killing gateway sessions", "error", err)
	} else if killed > 0 {
		log.Infow("killed gateway sessions", "count", killed)
	}

	deleteCtx, cancelDelete := context.WithTimeout(ctx, cleanupTimeout)
	defer cancelDelete()
	if err := c.gateway.DeleteConnection(deleteCtx, connection.ConnectionID); err != nil {
		log.Warnw("deleting gateway connection", "error", err)
	}

	if connection.EphemeralUser != "" {
		userCtx, cancelUser := context.WithTimeout(ctx, cleanupTimeout)
		defer cancelUser()
		if err := c.gateway.DeleteUser(userCtx, connection.EphemeralUser); err != nil {
			log.Warnw("deleting ephemeral user", "user", connection.EphemeralUser, "error", err)
		}
	}
}

// Reap terminates a session on behalf of a control loop, running the same
// ordered teardown as a user-requested terminate.
func (c *Controller) Reap(ctx context.Context, session *apis.Session, reason string, stopInstance bool) {
	if session.Status.IsTerminal() {
		return
	}
	c.terminateSession(ctx, session, reason, stopInstance)
}

// sessionQuota normalizes a session that predates quota stamping to
// unlimited.
func sessionQuota(session *apis.Session) int64 {
	if session.QuotaMinutes == 0 {
		return apis.QuotaUnlimited
	}
	return session.QuotaMinutes
}
