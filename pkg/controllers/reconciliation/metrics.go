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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackdesk/orchestrator/pkg/metrics"
)

var (
	passDurationMetric = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "pass_duration_seconds",
			Help:      "Duration of each reconciliation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"pass"},
	)
	skippedCyclesMetric = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "skipped_cycles_total",
			Help:      "Cycles skipped because the previous one was still running.",
		},
	)
	reapedMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "reaped_sessions_total",
			Help:      "Sessions terminated by the control loop, by reason.",
		},
		[]string{"reason"},
	)
	idleWarningsMetric = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "idle_warnings_total",
			Help:      "Idle warnings recorded on sessions.",
		},
	)
	orphanReleasesMetric = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "orphan_releases_total",
			Help:      "Assigned instances released because their session was gone.",
		},
	)
	scaleDecisionsMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconciliation",
			Name:      "scale_decisions_total",
			Help:      "Capacity adjustments by tier and direction.",
		},
		[]string{"plan", "direction"},
	)
)

func init() {
	prometheus.MustRegister(passDurationMetric, skippedCyclesMetric, reapedMetric,
		idleWarningsMetric, orphanReleasesMetric, scaleDecisionsMetric)
}
