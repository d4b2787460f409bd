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

// Package reconciliation runs the periodic control loop that converges
// durable state with reality: expired and idle sessions are terminated, the
// pool table is synced against the autoscaling groups, orphaned claims are
// released and group capacity is adjusted to demand. Every pass tolerates
// partial failure; the next cycle retries whatever was skipped.
package reconciliation

import (
	"context"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/providers/pool"
	"github.com/hackdesk/orchestrator/pkg/providers/scaling"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// Reaper terminates a session through the full ordered teardown. Implemented
// by the session controller so both entry points share one code path.
type Reaper interface {
	Reap(ctx context.Context, session *apis.Session, reason string, stopInstance bool)
}

type Controller struct {
	opts      *options.Options
	store     *state.Store
	instances instance.Provider
	scaling   scaling.Provider
	gateway   gateway.Provider
	pool      pool.Provider
	reaper    Reaper
	clk       clock.WithTicker
	running   atomic.Bool
}

func NewController(opts *options.Options, store *state.Store, instances instance.Provider,
	scalingProvider scaling.Provider, gatewayProvider gateway.Provider, poolProvider pool.Provider,
	reaper Reaper, clk clock.WithTicker) *Controller {
	return &Controller{
		opts:      opts,
		store:     store,
		instances: instances,
		scaling:   scalingProvider,
		gateway:   gatewayProvider,
		pool:      poolProvider,
		reaper:    reaper,
		clk:       clk,
	}
}

// Start runs reconciliation cycles until the context is canceled. The first
// cycle runs immediately.
func (c *Controller) Start(ctx context.Context) {
	ticker := c.clk.NewTicker(c.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		c.Reconcile(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// Reconcile runs one full cycle. Overlapping cycles are skipped rather than
// queued: a slow pass must not pile up behind itself.
func (c *Controller) Reconcile(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		skippedCyclesMetric.Inc()
		logging.FromContext(ctx).Warnw("previous reconciliation still running, skipping cycle")
		return
	}
	defer c.running.Store(false)

	passes := []struct {
		name string
		run  func(context.Context) error
	}{
		{"expire", c.expireSessions},
		{"idle", c.sweepIdle},
		{"pool_sync", c.syncPool},
		{"orphans", c.releaseOrphans},
		{"scaling", c.reconcileScaling},
	}
	start := c.clk.Now()
	for _, pass := range passes {
		passStart := c.clk.Now()
		if err := pass.run(ctx); err != nil {
			logging.FromContext(ctx).Errorw("reconciliation pass failed", "pass", pass.name, "error", err)
		}
		passDurationMetric.WithLabelValues(pass.name).Observe(c.clk.Since(passStart).Seconds())
	}
	logging.FromContext(ctx).Debugw("reconciliation cycle complete", "duration", c.clk.Since(start))
}
