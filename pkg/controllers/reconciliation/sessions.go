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

package reconciliation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// expireSessions terminates every session past its hard lifetime.
func (c *Controller) expireSessions(ctx context.Context) (errs error) {
	now := c.clk.Now().Unix()
	for _, status := range apis.ActiveSessionStatuses {
		sessions, err := c.store.Sessions.ByStatus(ctx, status)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("listing %s sessions, %w", status, err))
			continue
		}
		for _, session := range sessions {
			if session.ExpiresAt == 0 || now <= session.ExpiresAt {
				continue
			}
			logging.FromContext(ctx).Infow("expiring session",
				"session-id", session.SessionID, "expired-at", session.ExpiresAt)
			c.reaper.Reap(ctx, session, apis.ReasonExpired, true)
			reapedMetric.WithLabelValues(apis.ReasonExpired).Inc()
		}
	}
	return errs
}

// sweepIdle enforces per-tier idle timeouts on ready and active sessions.
// One ActiveConnections call covers the whole sweep; a live gateway
// connection counts as activity regardless of heartbeats.
//
//nolint:gocyclo
func (c *Controller) sweepIdle(ctx context.Context) error {
	if !c.opts.EnableIdleDetection {
		return nil
	}
	var sessions []*apis.Session
	for _, status := range []apis.SessionStatus{apis.SessionReady, apis.SessionActive} {
		batch, err := c.store.Sessions.ByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s sessions, %w", status, err)
		}
		sessions = append(sessions, batch...)
	}
	if len(sessions) == 0 {
		return nil
	}

	live, err := c.gateway.ActiveConnections(ctx)
	if err != nil {
		logging.FromContext(ctx).Warnw("listing gateway connections, sweeping on heartbeats only", "error", err)
		live = map[string][]gateway.ActiveConnection{}
	}

	now := c.clk.Now().Unix()
	grace := int64(c.opts.IdleHeartbeatGracePeriod.Seconds())
	for _, session := range sessions {
		if session.FocusMode {
			continue
		}
		connected := session.Connection != nil && len(live[session.Connection.ConnectionID]) > 0
		if connected {
			patch := state.SessionPatch{LastActiveAt: &now}
			if session.IdleWarningAt != 0 {
				patch.ClearIdleWarning = true
			}
			if err := c.store.Sessions.UpdateIfActive(ctx, session.SessionID, patch); err != nil {
				logging.FromContext(ctx).Warnw("refreshing connected session",
					"session-id", session.SessionID, "error", err)
			}
			continue
		}
		// Fresh sessions get a grace period before heartbeat silence
		// counts against them.
		if now-session.CreatedAt < grace {
			continue
		}
		lastActive := max(session.LastActiveAt, session.LastHeartbeatAt)
		if lastActive == 0 {
			lastActive = session.CreatedAt
		}
		idle := now - lastActive
		warning, termination := c.opts.IdleThresholds(session.Plan)
		switch {
		case idle >= int64(termination.Seconds()):
			logging.FromContext(ctx).Infow("terminating idle session",
				"session-id", session.SessionID, "idle-seconds", idle)
			c.reaper.Reap(ctx, session, apis.ReasonIdleTimeout, true)
			reapedMetric.WithLabelValues(apis.ReasonIdleTimeout).Inc()
		case idle >= int64(warning.Seconds()):
			if session.IdleWarningAt == 0 {
				if err := c.store.Sessions.UpdateIfActive(ctx, session.SessionID,
					state.SessionPatch{IdleWarningAt: &now}); err != nil {
					logging.FromContext(ctx).Warnw("recording idle warning",
						"session-id", session.SessionID, "error", err)
				}
				idleWarningsMetric.Inc()
			}
		default:
			if session.IdleWarningAt != 0 {
				if err := c.store.Sessions.UpdateIfActive(ctx, session.SessionID,
					state.SessionPatch{ClearIdleWarning: true}); err != nil {
					logging.FromContext(ctx).Warnw("clearing idle warning",
						"session-id", session.SessionID, "error", err)
				}
			}
		}
	}
	return nil
}
