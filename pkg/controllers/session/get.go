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

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/state"
)

const (
	// allocationTimeout fails a session that has sat in provisioning with
	// no instance for too long.
	allocationTimeout = 8 * time.Minute
	// healthFallback promotes a running instance whose health checks are
	// still settling. Some images never report all checks passed promptly;
	// the desktop is usually usable well before.
	healthFallback = 2 * time.Minute
)

// Status returns the session, advancing it where it can: provisioning
// sessions with no instance retry allocation, claimed instances are enriched
// with live state and promoted to ready once reachable.
func (c *Controller) Status(ctx context.Context, sessionID, token string) (*Response, error) {
	if _, err := c.authorize(token); err != nil {
		return nil, err
	}
	session, err := c.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session %s, %w", sessionID, err)
	}
	if session.Status.IsTerminal() {
		return c.format(session), nil
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("session-id", session.SessionID))

	if (session.Status == apis.SessionPending || session.Status == apis.SessionProvisioning) && session.InstanceID == "" {
		if c.clk.Now().Unix()-session.CreatedAt > int64(allocationTimeout.Seconds()) {
			logging.FromContext(ctx).Warnw("session stuck without an instance, failing it",
				"created-at", session.CreatedAt)
			c.failSession(ctx, session, "allocation timed out")
			return c.format(session), nil
		}
		return c.allocate(ctx, session)
	}

	if session.Status == apis.SessionProvisioning {
		return c.enrich(ctx, session)
	}
	return c.format(session), nil
}

// enrich refreshes a provisioning session's instance view and finishes
// gateway programming once the instance is up.
func (c *Controller) enrich(ctx context.Context, session *apis.Session) (*Response, error) {
	live, err := c.instances.Get(ctx, session.InstanceID)
	if err != nil {
		logging.FromContext(ctx).Warnw("describing instance", "instance-id", session.InstanceID, "error", err)
		return c.format(session), nil
	}

	patch := state.SessionPatch{InstanceState: &live.State}
	session.InstanceState = live.State
	if live.PrivateIP != "" {
		session.InstanceIP = live.PrivateIP
		patch.InstanceIP = &session.InstanceIP
	}
	if live.Health != nil {
		session.Health = live.Health
		patch.Health = live.Health
	}
	if err := c.store.Sessions.Update(ctx, session.SessionID, patch); err != nil {
		logging.FromContext(ctx).Warnw("recording instance state", "error", err)
	}

	if !live.Running() {
		return c.format(session), nil
	}

	// Gateway already programmed but the ready commit was lost: just
	// promote, never create a second connection.
	if session.Connection != nil && session.Connection.ConnectionID != "" {
		ready := apis.SessionReady
		if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{Status: &ready}); err != nil {
			return nil, fmt.Errorf("promoting session, %w", err)
		}
		session.Status = ready
		c.publish(ctx, session)
		return c.format(session), nil
	}

	healthy := live.Health != nil && live.Health.AllPassed
	if !healthy {
		if c.clk.Now().Unix()-session.CreatedAt < int64(healthFallback.Seconds()) {
			return c.format(session), nil
		}
		logging.FromContext(ctx).Infow("health checks still settling, proceeding anyway",
			"instance-id", session.InstanceID)
	}
	return c.finalize(ctx, session, session.InstanceID, session.InstanceIP)
}
