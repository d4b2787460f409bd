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
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/hackdesk/orchestrator/pkg/apis"
	awserrors "github.com/hackdesk/orchestrator/pkg/errors"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// orphanAge is how long an assigned record may go without its session
// showing any write before the claim is presumed leaked.
const orphanAge = int64(3600)

// syncPool converges the pool table with the autoscaling groups: group
// members get records, departed instances lose them, and lifecycle
// transitions (starting instance came up, stopping instance parked) are
// reflected in record status.
//
//nolint:gocyclo
func (c *Controller) syncPool(ctx context.Context) (errs error) {
	records, err := c.store.Pool.List(ctx)
	if err != nil {
		return fmt.Errorf("listing pool records, %w", err)
	}
	byID := lo.KeyBy(records, func(r *apis.PoolInstance) string { return r.InstanceID })
	seen := map[string]bool{}

	now := c.clk.Now().Unix()
	for plan, group := range c.opts.TierGroups() {
		if group == "" {
			continue
		}
		members, err := c.scaling.Members(ctx, group)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("enumerating group %s, %w", group, err))
			continue
		}
		for _, member := range members {
			seen[member.InstanceID] = true
			live, err := c.instances.Get(ctx, member.InstanceID)
			if err != nil {
				if awserrors.IsNotFound(err) {
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("describing %s, %w", member.InstanceID, err))
				continue
			}

			record, ok := byID[member.InstanceID]
			if !ok {
				status := apis.InstanceAvailable
				if live.State == instance.StatePending {
					status = apis.InstanceStarting
				}
				if err := c.store.Pool.PutIfAbsent(ctx, &apis.PoolInstance{
					InstanceID:    member.InstanceID,
					Status:        status,
					Plan:          plan,
					InstanceState: live.State,
					UpdatedAt:     now,
				}); err != nil && !errors.Is(err, state.ErrConditionFailed) {
					errs = multierr.Append(errs, fmt.Errorf("recording %s, %w", member.InstanceID, err))
				}
				continue
			}

			if record.InstanceState != live.State {
				if err := c.store.Pool.SetInstanceState(ctx, member.InstanceID, live.State); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("recording state of %s, %w", member.InstanceID, err))
				}
			}
			switch {
			case record.Status == apis.InstanceStarting && live.Running():
				// A cold-start reservation stays reserved for its session;
				// anything else goes back to the pool.
				if record.SessionID != "" && !c.sessionDead(ctx, record.SessionID) {
					continue
				}
				c.releaseRecord(ctx, record.InstanceID, apis.InstanceAvailable)
			case record.Status == apis.InstanceStopping && live.State == instance.StateStopped:
				// Parked: a stopped warm instance is claimable via cold
				// start.
				c.releaseRecord(ctx, record.InstanceID, apis.InstanceAvailable)
			case record.Status == apis.InstanceUnhealthy && live.Running():
				c.releaseRecord(ctx, record.InstanceID, apis.InstanceAvailable)
			}
		}
	}

	// Records for instances no longer in any group are dropped.
	for id := range byID {
		if seen[id] {
			continue
		}
		logging.FromContext(ctx).Infow("dropping record of departed instance", "instance-id", id)
		if err := c.store.Pool.Delete(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deleting record of %s, %w", id, err))
		}
	}
	return errs
}

// releaseOrphans returns assigned instances whose session is gone, terminal
// or silent for over an hour.
func (c *Controller) releaseOrphans(ctx context.Context) (errs error) {
	assigned, err := c.store.Pool.ByStatus(ctx, apis.InstanceAssigned)
	if err != nil {
		return fmt.Errorf("listing assigned instances, %w", err)
	}
	now := c.clk.Now().Unix()
	for _, record := range assigned {
		orphaned := false
		if record.SessionID == "" {
			orphaned = true
		} else {
			session, err := c.store.Sessions.Get(ctx, record.SessionID)
			switch {
			case errors.Is(err, state.ErrNotFound):
				orphaned = true
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("getting session %s, %w", record.SessionID, err))
				continue
			case session.Status.IsTerminal():
				orphaned = true
			case now-record.AssignedAt > orphanAge && now-session.UpdatedAt > orphanAge:
				logging.FromContext(ctx).Warnw("assigned instance held by a silent session",
					"instance-id", record.InstanceID, "session-id", record.SessionID)
				orphaned = true
			}
		}
		if !orphaned {
			continue
		}
		logging.FromContext(ctx).Infow("releasing orphaned instance",
			"instance-id", record.InstanceID, "session-id", record.SessionID)
		if err := c.pool.Release(ctx, record.InstanceID, apis.InstanceAvailable); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("releasing %s, %w", record.InstanceID, err))
			continue
		}
		orphanReleasesMetric.Inc()
	}
	return errs
}

func (c *Controller) releaseRecord(ctx context.Context, instanceID string, to apis.InstanceStatus) {
	if err := c.store.Pool.Release(ctx, instanceID, to, c.clk.Now().Unix()); err != nil {
		logging.FromContext(ctx).Warnw("releasing pool record", "instance-id", instanceID, "error", err)
	}
}

func (c *Controller) sessionDead(ctx context.Context, sessionID string) bool {
	session, err := c.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return errors.Is(err, state.ErrNotFound)
	}
	return session.Status.IsTerminal()
}
