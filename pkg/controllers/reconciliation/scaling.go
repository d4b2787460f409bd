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

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/logging"
)

const (
	// scaleUpCap bounds growth per cycle; a thundering herd of session
	// requests must not double a group in one decision.
	scaleUpCap = int32(2)
	// surplusFloor is how many idle instances a tier keeps warm before
	// scale-down kicks in.
	surplusFloor = 2
)

// reconcileScaling sizes each tier's group to demand: grow when active
// sessions outnumber available instances, shrink one step at a time when a
// tier sits fully idle with surplus capacity.
func (c *Controller) reconcileScaling(ctx context.Context) (errs error) {
	records, err := c.store.Pool.List(ctx)
	if err != nil {
		return fmt.Errorf("listing pool records, %w", err)
	}
	var sessions []*apis.Session
	for _, status := range apis.ActiveSessionStatuses {
		batch, err := c.store.Sessions.ByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s sessions, %w", status, err)
		}
		sessions = append(sessions, batch...)
	}

	for plan, group := range c.opts.TierGroups() {
		if group == "" {
			continue
		}
		active := int32(lo.CountBy(sessions, func(s *apis.Session) bool {
			return apis.PoolPlan(s.Plan) == plan
		}))
		available := int32(lo.CountBy(records, func(r *apis.PoolInstance) bool {
			return apis.PoolPlan(r.Plan) == plan && r.Status == apis.InstanceAvailable
		}))
		starting := int32(lo.CountBy(records, func(r *apis.PoolInstance) bool {
			return apis.PoolPlan(r.Plan) == plan && r.Status == apis.InstanceStarting
		}))

		capacity, err := c.scaling.Capacity(ctx, group)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reading capacity of group %s, %w", group, err))
			continue
		}

		switch {
		case active > available && starting == 0 && capacity.Desired < capacity.Max:
			increase := lo.Clamp(active-available, 1, scaleUpCap)
			desired := min(capacity.Desired+increase, capacity.Max)
			logging.FromContext(ctx).Infow("scaling tier up", "plan", plan, "group", group,
				"active", active, "available", available, "desired", desired)
			if err := c.scaling.SetDesired(ctx, group, desired); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("scaling up group %s, %w", group, err))
				continue
			}
			scaleDecisionsMetric.WithLabelValues(string(plan), "up").Inc()
		case active == 0 && available > surplusFloor && capacity.Desired > capacity.Min:
			desired := capacity.Desired - 1
			logging.FromContext(ctx).Infow("scaling tier down", "plan", plan, "group", group,
				"available", available, "desired", desired)
			if err := c.scaling.SetDesired(ctx, group, desired); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("scaling down group %s, %w", group, err))
				continue
			}
			scaleDecisionsMetric.WithLabelValues(string(plan), "down").Inc()
		}
	}
	return errs
}
